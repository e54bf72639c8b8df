package workerpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
)

// ============= 配置 =============

// Config Worker Pool 配置
type Config struct {
	// Workers worker 数量
	Workers int
	// MaxBlocking Submit 阻塞等待的最大任务数（0 表示不限制）
	MaxBlocking int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:     8,
		MaxBlocking: 0,
	}
}

// ============= 统计信息 =============

// Statistics 统计信息
type Statistics struct {
	mu sync.RWMutex

	Submitted int64 // 已提交
	Completed int64 // 已完成
	Failed    int64 // 失败（panic）
	Running   int64 // 运行中
}

func (s *Statistics) incSubmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Submitted++
}

func (s *Statistics) incRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Running++
}

func (s *Statistics) decRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Running--
}

func (s *Statistics) incCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Completed++
}

func (s *Statistics) incFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
}

func (s *Statistics) Get() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Statistics{
		Submitted: s.Submitted,
		Completed: s.Completed,
		Failed:    s.Failed,
		Running:   s.Running,
	}
}

// ============= Worker Pool =============

// Pool 基于 ants 的固定容量 Worker Pool
type Pool struct {
	pool   *ants.Pool
	config *Config
	stats  *Statistics

	mu     sync.RWMutex
	closed bool

	logger *zap.Logger
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if config.Workers <= 0 {
		return nil, fmt.Errorf("invalid worker count: %d", config.Workers)
	}

	stats := &Statistics{}

	opts := []ants.Option{
		ants.WithPanicHandler(func(err interface{}) {
			stats.incFailed()
			if logger != nil {
				logger.Error("worker panic", zap.Any("error", err))
			}
		}),
	}
	if config.MaxBlocking > 0 {
		opts = append(opts, ants.WithMaxBlockingTasks(config.MaxBlocking))
	}

	antsPool, err := ants.NewPool(config.Workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	return &Pool{
		pool:   antsPool,
		config: config,
		stats:  stats,
		logger: logger,
	}, nil
}

// Submit 提交任务（池满时阻塞等待空闲 worker）
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	if closed {
		return ErrPoolClosed
	}

	p.stats.incSubmitted()

	err := p.pool.Submit(func() {
		p.stats.incRunning()
		defer p.stats.decRunning()

		task()

		p.stats.incCompleted()
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}

	return nil
}

// ============= 公共方法 =============

// Cap 获取 worker 容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running 获取运行中的 worker 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free 获取空闲 worker 数量
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Stats 获取统计信息
func (p *Pool) Stats() Statistics {
	return p.stats.Get()
}

// Shutdown 关闭
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.pool.Release()

	if p.logger != nil {
		p.logger.Info("worker pool closed",
			zap.Int64("submitted", p.stats.Get().Submitted),
			zap.Int64("completed", p.stats.Get().Completed),
		)
	}
}
