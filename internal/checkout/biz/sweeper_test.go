package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedToken(t *testing.T, repo *fakeTokenRepo, token string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &CheckoutToken{
		ID:        "id-" + token,
		Token:     token,
		AssetID:   "asset-1",
		SubjectID: "subject-1",
		IssuedAt:  expiresAt.Add(-10 * time.Minute),
		ExpiresAt: expiresAt,
	}))
}

func TestSweepOnceHonorsRetention(t *testing.T) {
	repo := newFakeTokenRepo()
	now := time.Now()

	// 过保留期、刚过期、仍有效各一个
	seedToken(t, repo, "ancient", now.Add(-48*time.Hour))
	seedToken(t, repo, "recent", now.Add(-time.Minute))
	seedToken(t, repo, "live", now.Add(10*time.Minute))

	s := NewSweeper(repo, time.Hour, 24*time.Hour, zap.NewNop())
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Nil(t, repo.stored("ancient"))
	assert.NotNil(t, repo.stored("recent"), "expired but inside retention window")
	assert.NotNil(t, repo.stored("live"))
}

func TestSweeperLoopDeletesPeriodically(t *testing.T) {
	repo := newFakeTokenRepo()
	seedToken(t, repo, "ancient", time.Now().Add(-48*time.Hour))

	s := NewSweeper(repo, 20*time.Millisecond, 24*time.Hour, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if repo.stored("ancient") == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweeper never removed the expired token")
}

func TestSweeperDoubleStart(t *testing.T) {
	s := NewSweeper(newFakeTokenRepo(), time.Hour, time.Hour, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
}

func TestSweeperStopIsIdempotent(t *testing.T) {
	s := NewSweeper(newFakeTokenRepo(), time.Hour, time.Hour, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	s.Stop()
	s.Stop()
}
