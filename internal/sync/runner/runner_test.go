package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"github.com/lk2023060901/media-hub-backend/internal/sync/biz"
)

type fakeSyncer struct {
	mu       sync.Mutex
	initErr  error
	runErr   map[string]error
	runCalls map[string]int
	inited   []string
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		runErr:   make(map[string]error),
		runCalls: make(map[string]int),
	}
}

func (s *fakeSyncer) Init(ctx context.Context, classes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inited = append(s.inited, classes...)
	return s.initErr
}

func (s *fakeSyncer) Run(ctx context.Context, class string) (*biz.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCalls[class]++
	if err := s.runErr[class]; err != nil {
		return nil, err
	}
	return &biz.Result{Class: class}, nil
}

func (s *fakeSyncer) calls(class string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCalls[class]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunnerRunsImmediatelyOnStart(t *testing.T) {
	s := newFakeSyncer()
	classes := []string{biz.ClassAssets, "refdb:codes"}
	r := NewRunner(s, classes, time.Hour, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	// 间隔是一小时，第一轮必须在启动时就跑
	waitFor(t, func() bool {
		return s.calls(biz.ClassAssets) >= 1 && s.calls("refdb:codes") >= 1
	})
	assert.Equal(t, classes, s.inited)
}

func TestRunnerRunsPeriodically(t *testing.T) {
	s := newFakeSyncer()
	r := NewRunner(s, []string{biz.ClassAssets}, 20*time.Millisecond, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	waitFor(t, func() bool { return s.calls(biz.ClassAssets) >= 3 })
}

func TestRunnerStopHaltsLoop(t *testing.T) {
	s := newFakeSyncer()
	r := NewRunner(s, []string{biz.ClassAssets}, 10*time.Millisecond, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	waitFor(t, func() bool { return s.calls(biz.ClassAssets) >= 1 })
	r.Stop()

	after := s.calls(biz.ClassAssets)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, s.calls(biz.ClassAssets), "no runs after Stop")
}

func TestRunnerDoubleStart(t *testing.T) {
	s := newFakeSyncer()
	r := NewRunner(s, []string{biz.ClassAssets}, time.Hour, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	assert.Error(t, r.Start(context.Background()))
}

func TestRunnerStopIsIdempotent(t *testing.T) {
	s := newFakeSyncer()
	r := NewRunner(s, []string{biz.ClassAssets}, time.Hour, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	r.Stop()
}

func TestRunnerInitFailureAbortsStart(t *testing.T) {
	s := newFakeSyncer()
	s.initErr = errors.New("database down")
	r := NewRunner(s, []string{biz.ClassAssets}, time.Hour, zap.NewNop())

	require.Error(t, r.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, s.calls(biz.ClassAssets))
}

func TestRunnerContinuesPastFailingClass(t *testing.T) {
	s := newFakeSyncer()
	s.runErr["refdb:codes"] = apperrors.New(apperrors.ErrSyncUpstream, "unreachable")
	classes := []string{"refdb:codes", biz.ClassAssets}
	r := NewRunner(s, classes, time.Hour, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	// 第一个资源类失败，后面的照常运行
	waitFor(t, func() bool { return s.calls(biz.ClassAssets) >= 1 })
}

func TestRunnerSkipsBusyClass(t *testing.T) {
	s := newFakeSyncer()
	s.runErr[biz.ClassAssets] = apperrors.New(apperrors.ErrSyncCycleRunning, biz.ClassAssets)
	r := NewRunner(s, []string{biz.ClassAssets, "refdb:codes"}, time.Hour, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	waitFor(t, func() bool { return s.calls("refdb:codes") >= 1 })
}
