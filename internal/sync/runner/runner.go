package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"github.com/lk2023060901/media-hub-backend/internal/sync/biz"
)

const defaultInterval = 5 * time.Minute

// Syncer 驱动循环需要的编排器能力
type Syncer interface {
	Init(ctx context.Context, classes []string) error
	Run(ctx context.Context, class string) (*biz.Result, error)
}

// Runner 周期性驱动所有资源类的同步，只在中继节点启动
type Runner struct {
	syncer   Syncer
	classes  []string
	interval time.Duration
	logger   *zap.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewRunner 创建同步调度器
func NewRunner(syncer Syncer, classes []string, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Runner{
		syncer:   syncer,
		classes:  classes,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动调度循环。先确保每个资源类有状态行，然后立即执行第一轮同步。
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("sync runner already running")
	}

	if err := r.syncer.Init(ctx, r.classes); err != nil {
		return err
	}

	r.running = true
	r.logger.Info("starting sync runner",
		zap.Strings("classes", r.classes),
		zap.Duration("interval", r.interval),
	)

	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop 停止调度循环，等待进行中的周期结束
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	r.logger.Info("stopping sync runner")
	close(r.stopCh)
	r.wg.Wait()
	r.running = false
	r.logger.Info("sync runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	// 启动即同步一轮，不等第一个间隔
	r.runAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAll(ctx)
		}
	}
}

// runAll 依次运行每个资源类的同步周期，单个资源类失败不影响其它资源类
func (r *Runner) runAll(ctx context.Context) {
	for _, class := range r.classes {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if _, err := r.syncer.Run(ctx, class); err != nil {
			if apperrors.Is(err, apperrors.ErrSyncCycleRunning) {
				r.logger.Debug("同步周期仍在运行，跳过本轮", zap.String("class", class))
				continue
			}
			r.logger.Warn("同步周期失败", zap.String("class", class), zap.Error(err))
		}
	}
}
