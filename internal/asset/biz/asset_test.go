package biz

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
)

type fakeContentStore struct {
	objects map[string][]byte
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{objects: make(map[string][]byte)}
}

func (s *fakeContentStore) Open(_ context.Context, objectKey string) (io.ReadCloser, int64, error) {
	b, ok := s.objects[objectKey]
	if !ok {
		return nil, 0, apperrors.New(apperrors.ErrAssetNoContent, objectKey)
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func TestCacheEntryFresh(t *testing.T) {
	entry := &CacheEntry{
		LocalPath:  "/var/lib/mediahub/cache/a1",
		CachedHash: "abc123",
		CachedAt:   time.Now(),
	}

	assert.True(t, entry.Fresh("abc123"))
	assert.False(t, entry.Fresh("def456"))
}

func TestCheckoutEligible(t *testing.T) {
	tests := []struct {
		status   string
		eligible bool
	}{
		{StatusDraft, false},
		{StatusSubmitted, false},
		{StatusApproved, true},
		{StatusPublished, true},
		{StatusRejected, false},
		{StatusArchived, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			a := &Asset{ID: "a1", LifecycleStatus: tt.status}
			assert.Equal(t, tt.eligible, a.CheckoutEligible())
		})
	}
}

func TestOpenContentFromCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	content := []byte("cached media bytes")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	uc := NewAssetUseCase(nil, nil, zap.NewNop())

	asset := &Asset{
		ID:          "a1",
		Filename:    "clip.mp4",
		ContentHash: "hash-1",
		ContentType: "video/mp4",
		CacheEntry: &CacheEntry{
			LocalPath:  path,
			CachedHash: "hash-1",
			CachedAt:   time.Now(),
		},
	}

	rc, info, err := uc.OpenContent(context.Background(), asset)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Equal(t, "video/mp4", info.ContentType)
	assert.Equal(t, "hash-1", info.ETag)
}

func TestOpenContentMissingCacheFile(t *testing.T) {
	uc := NewAssetUseCase(nil, nil, zap.NewNop())

	asset := &Asset{
		ID: "a1",
		CacheEntry: &CacheEntry{
			LocalPath:  filepath.Join(t.TempDir(), "vanished.mp4"),
			CachedHash: "hash-1",
		},
	}

	_, _, err := uc.OpenContent(context.Background(), asset)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAssetNoContent))
}

func TestOpenContentFallsBackToStore(t *testing.T) {
	store := newFakeContentStore()
	store.objects["a1/clip.mp4"] = []byte("origin bytes")

	uc := NewAssetUseCase(nil, store, zap.NewNop())

	asset := &Asset{
		ID:          "a1",
		Filename:    "clip.mp4",
		ContentHash: "hash-1",
		ContentType: "video/mp4",
	}

	rc, info, err := uc.OpenContent(context.Background(), asset)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("origin bytes"), got)
	assert.Equal(t, int64(len("origin bytes")), info.Size)
	assert.Equal(t, "hash-1", info.ETag)
}

func TestOpenContentNoSource(t *testing.T) {
	// 中继节点没有对象存储，缓存又不存在时只能报无内容
	uc := NewAssetUseCase(nil, nil, zap.NewNop())

	asset := &Asset{ID: "a1", Filename: "clip.mp4"}

	_, _, err := uc.OpenContent(context.Background(), asset)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAssetNoContent))
}

func TestDescriptorRoundTrip(t *testing.T) {
	src := int64(42)
	a := &Asset{
		ID:          "a1",
		SourceID:    &src,
		Filename:    "clip.mp4",
		ContentHash: "hash-1",
		FileSize:    1024,
		ContentType: "video/mp4",
	}

	d := a.Descriptor()
	assert.Equal(t, "a1", d.ID)
	require.NotNil(t, d.SourceID)
	assert.Equal(t, int64(42), *d.SourceID)
	assert.Equal(t, "clip.mp4", d.Filename)
	assert.Equal(t, "hash-1", d.ContentHash)
	assert.Equal(t, int64(1024), d.FileSize)
}
