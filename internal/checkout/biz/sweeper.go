package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var sweptTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mh_checkout_tokens_swept_total",
	Help: "Expired checkout tokens removed by the retention sweep.",
})

const (
	defaultSweepInterval = 10 * time.Minute
	defaultRetention     = 24 * time.Hour
)

// Sweeper 周期性删除超过保留期的过期令牌。
// 保留期内的过期令牌仍可查询（审计、排障），到期后整行删除。
type Sweeper struct {
	tokens    TokenRepo
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSweeper 创建令牌清理器
func NewSweeper(tokens TokenRepo, interval, retention time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Sweeper{
		tokens:    tokens,
		interval:  interval,
		retention: retention,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start 启动清理循环
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("token sweeper already running")
	}
	s.running = true

	s.logger.Info("starting checkout token sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention),
	)

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop 停止清理循环，等待进行中的一轮结束
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.running = false

	s.logger.Info("checkout token sweeper stopped")
}

// SweepOnce 立即执行一轮清理，返回删除的行数
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.retention)
	n, err := s.tokens.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		sweptTokensTotal.Add(float64(n))
		s.logger.Info("swept expired checkout tokens",
			zap.Int64("deleted", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("token sweep failed", zap.Error(err))
			}
		}
	}
}
