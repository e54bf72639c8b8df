package biz

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/checksum"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/media-hub-backend/internal/sync/cache"
)

// ---------- 内存仓储 ----------

type fakeAssetRepo struct {
	mu     sync.Mutex
	assets map[string]*assetbiz.Asset
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{assets: make(map[string]*assetbiz.Asset)}
}

func (r *fakeAssetRepo) GetByID(ctx context.Context, id string) (*assetbiz.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrAssetNotFound, id)
	}
	return a, nil
}

func (r *fakeAssetRepo) List(ctx context.Context, page, pageSize int) ([]*assetbiz.Asset, int64, error) {
	all := r.sorted(func(*assetbiz.Asset) bool { return true })
	return all, int64(len(all)), nil
}

func (r *fakeAssetRepo) ListCached(ctx context.Context) ([]*assetbiz.Asset, error) {
	return r.sorted(func(a *assetbiz.Asset) bool { return a.CacheEntry != nil }), nil
}

func (r *fakeAssetRepo) ListDistributable(ctx context.Context, cachedOnly bool) ([]*assetbiz.Asset, error) {
	return r.sorted(func(a *assetbiz.Asset) bool {
		if !a.CheckoutEligible() {
			return false
		}
		return !cachedOnly || a.CacheEntry != nil
	}), nil
}

func (r *fakeAssetRepo) ApplyFetched(ctx context.Context, desc *assetbiz.Descriptor, entry *assetbiz.CacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[desc.ID]
	if !ok {
		a = &assetbiz.Asset{
			ID:              desc.ID,
			LifecycleStatus: assetbiz.StatusApproved,
			Origin:          assetbiz.OriginUpstream,
		}
		r.assets[desc.ID] = a
	}
	a.SourceID = desc.SourceID
	a.Filename = desc.Filename
	a.ContentHash = desc.ContentHash
	a.FileSize = desc.FileSize
	a.ContentType = desc.ContentType
	a.CacheEntry = entry
	return nil
}

func (r *fakeAssetRepo) ClearCacheEntry(ctx context.Context, assetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assets[assetID]; ok {
		a.CacheEntry = nil
	}
	return nil
}

func (r *fakeAssetRepo) sorted(keep func(*assetbiz.Asset) bool) []*assetbiz.Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*assetbiz.Asset
	for _, a := range r.assets {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeStatusRepo struct {
	mu       sync.Mutex
	statuses map[string]*SyncStatus
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{statuses: make(map[string]*SyncStatus)}
}

func (r *fakeStatusRepo) GetOrCreate(ctx context.Context, class string) (*SyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.statuses[class]; ok {
		return s, nil
	}
	s := &SyncStatus{ResourceClass: class}
	r.statuses[class] = s
	return s, nil
}

func (r *fakeStatusRepo) Get(ctx context.Context, class string) (*SyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[class]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, class)
	}
	return s, nil
}

func (r *fakeStatusRepo) List(ctx context.Context) ([]*SyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*SyncStatus
	for _, s := range r.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceClass < out[j].ResourceClass })
	return out, nil
}

func (r *fakeStatusRepo) MarkSuccess(ctx context.Context, class, version, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[class]
	if !ok {
		s = &SyncStatus{ResourceClass: class}
		r.statuses[class] = s
	}
	s.Version = version
	s.LastHash = hash
	s.LastSyncedAt = &at
	s.LastError = ""
	s.UpdatedAt = at
	return nil
}

func (r *fakeStatusRepo) MarkFailure(ctx context.Context, class, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[class]
	if !ok {
		s = &SyncStatus{ResourceClass: class}
		r.statuses[class] = s
	}
	s.LastError = message
	s.UpdatedAt = at
	return nil
}

type fakeRefDBRepo struct {
	mu  sync.Mutex
	dbs map[string]*ReferenceDB
}

func newFakeRefDBRepo() *fakeRefDBRepo {
	return &fakeRefDBRepo{dbs: make(map[string]*ReferenceDB)}
}

func (r *fakeRefDBRepo) GetByName(ctx context.Context, name string) (*ReferenceDB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.dbs[name]
	if !ok {
		return nil, apperrors.New(apperrors.ErrReferenceDBNotFound, name)
	}
	return db, nil
}

func (r *fakeRefDBRepo) UpsertLocal(ctx context.Context, db *ReferenceDB) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	db.UpdatedAt = time.Now()
	r.dbs[db.Name] = db
	return nil
}

// ---------- 测试装配 ----------

type orchFixture struct {
	orch     *Orchestrator
	store    *cache.Store
	assets   *fakeAssetRepo
	statuses *fakeStatusRepo
	refdbs   *fakeRefDBRepo
}

func newOrchFixture(t *testing.T, source Source) *orchFixture {
	t.Helper()
	store, err := cache.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	pool, err := workerpool.New(&workerpool.Config{Workers: 4}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)

	assets := newFakeAssetRepo()
	statuses := newFakeStatusRepo()
	refdbs := newFakeRefDBRepo()
	orch := NewOrchestrator(source, store, assets, statuses, refdbs, pool, zap.NewNop())
	return &orchFixture{orch: orch, store: store, assets: assets, statuses: statuses, refdbs: refdbs}
}

// materialize 在磁盘和仓储里预置一个已缓存的资产
func (f *orchFixture) materialize(t *testing.T, id string, content []byte) *assetbiz.Asset {
	t.Helper()
	target := f.store.AssetPath(id, id+".bin")
	tmp, hash, size, err := f.store.WriteTemp(target, bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, f.store.Promote(tmp, target))

	a := &assetbiz.Asset{
		ID:              id,
		Filename:        id + ".bin",
		ContentHash:     hash,
		FileSize:        size,
		LifecycleStatus: assetbiz.StatusApproved,
		Origin:          assetbiz.OriginUpstream,
		CacheEntry: &assetbiz.CacheEntry{
			LocalPath:  target,
			CachedHash: hash,
			CachedAt:   time.Now(),
		},
	}
	f.assets.assets[id] = a
	return a
}

func manifestFor(version string, contents map[string][]byte) *Manifest {
	m := &Manifest{Version: version, Hash: "manifest-" + version}
	ids := make([]string, 0, len(contents))
	for id := range contents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.Assets = append(m.Assets, assetbiz.Descriptor{
			ID:          id,
			Filename:    id + ".bin",
			ContentHash: checksum.SumBytes(contents[id]),
			FileSize:    int64(len(contents[id])),
			ContentType: "application/octet-stream",
		})
	}
	return m
}

// ---------- 资产周期 ----------

func TestRunAssetsFullCycle(t *testing.T) {
	contents := map[string][]byte{
		"a1": []byte("first asset bytes"),
		"a2": []byte("second asset bytes"),
	}
	src := &fakeSource{manifest: manifestFor("v1", contents), content: contents}
	f := newOrchFixture(t, src)

	res, err := f.orch.Run(context.Background(), ClassAssets)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Deleted)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "v1", res.Version)

	// 字节落盘且哈希入库
	for id, content := range contents {
		got, readErr := os.ReadFile(f.store.AssetPath(id, id+".bin"))
		require.NoError(t, readErr)
		assert.Equal(t, content, got)

		a, getErr := f.assets.GetByID(context.Background(), id)
		require.NoError(t, getErr)
		require.NotNil(t, a.CacheEntry)
		assert.Equal(t, checksum.SumBytes(content), a.CacheEntry.CachedHash)
		assert.Equal(t, assetbiz.OriginUpstream, a.Origin)
		assert.Equal(t, assetbiz.StatusApproved, a.LifecycleStatus)
	}

	status, err := f.statuses.Get(context.Background(), ClassAssets)
	require.NoError(t, err)
	assert.Equal(t, "v1", status.Version)
	assert.Equal(t, "manifest-v1", status.LastHash)
	assert.True(t, status.Healthy())
	require.NotNil(t, status.LastSyncedAt)
}

func TestRunAssetsIdempotent(t *testing.T) {
	contents := map[string][]byte{"a1": []byte("stable bytes")}
	src := &fakeSource{manifest: manifestFor("v1", contents), content: contents}
	f := newOrchFixture(t, src)

	_, err := f.orch.Run(context.Background(), ClassAssets)
	require.NoError(t, err)
	firstOpens := src.openCalls

	res, err := f.orch.Run(context.Background(), ClassAssets)
	require.NoError(t, err)

	// 第二个周期什么都不用做，也不再下载任何字节
	assert.Equal(t, 0, res.Downloaded+res.Updated+res.Deleted)
	assert.Empty(t, res.Errors)
	assert.Equal(t, firstOpens, src.openCalls)
}

func TestRunAssetsUpdatesChangedContent(t *testing.T) {
	oldContent := map[string][]byte{"a1": []byte("version one")}
	src := &fakeSource{manifest: manifestFor("v1", oldContent), content: oldContent}
	f := newOrchFixture(t, src)

	_, err := f.orch.Run(context.Background(), ClassAssets)
	require.NoError(t, err)

	newContent := map[string][]byte{"a1": []byte("version two, different bytes")}
	src.manifest = manifestFor("v2", newContent)
	src.content = newContent

	res, err := f.orch.Run(context.Background(), ClassAssets)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Downloaded)
	assert.Equal(t, 1, res.Updated)

	got, err := os.ReadFile(f.store.AssetPath("a1", "a1.bin"))
	require.NoError(t, err)
	assert.Equal(t, newContent["a1"], got)
}

func TestRunAssetsPartialFailure(t *testing.T) {
	contents := map[string][]byte{
		"a1": []byte("good bytes"),
		"a2": []byte("served bytes"),
	}
	m := manifestFor("v2", contents)
	// a2 的清单哈希与实际内容不符，下载后校验必须失败
	for i := range m.Assets {
		if m.Assets[i].ID == "a2" {
			m.Assets[i].ContentHash = checksum.SumBytes([]byte("declared bytes"))
		}
	}
	src := &fakeSource{manifest: m, content: contents}
	f := newOrchFixture(t, src)

	res, err := f.orch.Run(context.Background(), ClassAssets)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Downloaded)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "a2")

	// 好的条目照常落地，坏的条目不留痕迹
	_, err = os.ReadFile(f.store.AssetPath("a1", "a1.bin"))
	require.NoError(t, err)
	_, statErr := os.Stat(f.store.AssetPath("a2", "a2.bin"))
	assert.True(t, os.IsNotExist(statErr))

	// 周期整体记为失败，版本保留上一次成功的值
	status, err := f.statuses.Get(context.Background(), ClassAssets)
	require.NoError(t, err)
	assert.False(t, status.Healthy())
	assert.NotEmpty(t, status.LastError)
	assert.Equal(t, "", status.Version)
}

func TestRunAssetsRemovesOrphans(t *testing.T) {
	contents := map[string][]byte{"a1": []byte("keep me")}
	src := &fakeSource{manifest: manifestFor("v3", contents), content: contents}
	f := newOrchFixture(t, src)

	f.materialize(t, "a1", contents["a1"])
	orphan := f.materialize(t, "a9", []byte("no longer in manifest"))
	orphanPath := orphan.CacheEntry.LocalPath

	res, err := f.orch.Run(context.Background(), ClassAssets)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, res.Downloaded+res.Updated)

	_, statErr := os.Stat(orphanPath)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Dir(orphanPath))
	assert.True(t, os.IsNotExist(statErr), "empty orphan dir should be removed")

	a, err := f.assets.GetByID(context.Background(), "a9")
	require.NoError(t, err)
	assert.Nil(t, a.CacheEntry, "db row keeps descriptor but loses cache entry")
}

func TestRunAssetsUpstreamUnreachable(t *testing.T) {
	src := &fakeSource{manifestErr: fmt.Errorf("%w: dial tcp: connection refused", ErrTransient)}
	f := newOrchFixture(t, src)

	surviving := f.materialize(t, "a1", []byte("previously synced"))

	_, err := f.orch.Run(context.Background(), ClassAssets)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncUpstream))

	// 缓存保持原样，可以继续对外服务
	_, statErr := os.Stat(surviving.CacheEntry.LocalPath)
	assert.NoError(t, statErr)
	a, getErr := f.assets.GetByID(context.Background(), "a1")
	require.NoError(t, getErr)
	assert.NotNil(t, a.CacheEntry)

	status, err := f.statuses.Get(context.Background(), ClassAssets)
	require.NoError(t, err)
	assert.NotEmpty(t, status.LastError)
}

// gatedSource 让清单请求阻塞，用于验证周期互斥
type gatedSource struct {
	fakeSource
	gate chan struct{}
}

func (s *gatedSource) FetchManifest(ctx context.Context) (*Manifest, error) {
	<-s.gate
	return s.fakeSource.FetchManifest(ctx)
}

func TestRunAssetsCycleMutualExclusion(t *testing.T) {
	contents := map[string][]byte{"a1": []byte("bytes")}
	src := &gatedSource{
		fakeSource: fakeSource{manifest: manifestFor("v1", contents), content: contents},
		gate:       make(chan struct{}),
	}
	f := newOrchFixture(t, src)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(context.Background(), ClassAssets)
		done <- err
	}()

	// 等第一个周期真正进入 Fetching
	deadline := time.Now().Add(5 * time.Second)
	for f.orch.Phase(ClassAssets) == PhaseIdle {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err := f.orch.Run(context.Background(), ClassAssets)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncCycleRunning))

	close(src.gate)
	require.NoError(t, <-done)
	assert.Equal(t, PhaseIdle, f.orch.Phase(ClassAssets))

	// 周期结束后可以再次运行
	_, err = f.orch.Run(context.Background(), ClassAssets)
	assert.NoError(t, err)
}

func TestRunUnknownClass(t *testing.T) {
	f := newOrchFixture(t, &fakeSource{})

	_, err := f.orch.Run(context.Background(), "bogus")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncUnknownClass))
}

func TestInitCreatesStatusRows(t *testing.T) {
	f := newOrchFixture(t, &fakeSource{})

	classes := []string{ClassAssets, RefDBClass("codes")}
	require.NoError(t, f.orch.Init(context.Background(), classes))

	list, err := f.statuses.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ClassAssets, list[0].ResourceClass)
	assert.Equal(t, "refdb:codes", list[1].ResourceClass)
}

// ---------- 参考数据库周期 ----------

func TestRunRefDBFirstSync(t *testing.T) {
	blob := []byte("refdb payload v1")
	src := &fakeSource{
		refdbMeta: map[string]*RefDBMeta{"codes": {
			Name:     "codes",
			Version:  "v1",
			Filename: "codes.db",
			FileHash: checksum.SumBytes(blob),
			FileSize: int64(len(blob)),
		}},
		refdbBytes: map[string][]byte{"codes": blob},
	}
	f := newOrchFixture(t, src)

	res, err := f.orch.Run(context.Background(), RefDBClass("codes"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.False(t, res.Skipped)

	got, err := os.ReadFile(f.store.RefDBPath("codes", "codes.db"))
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	db, err := f.refdbs.GetByName(context.Background(), "codes")
	require.NoError(t, err)
	assert.Equal(t, "v1", db.Version)
	assert.Equal(t, f.store.RefDBPath("codes", "codes.db"), db.LocalPath)

	status, err := f.statuses.Get(context.Background(), "refdb:codes")
	require.NoError(t, err)
	assert.Equal(t, "v1", status.Version)
	assert.True(t, status.Healthy())
}

func TestRunRefDBSkipsWhenUnchanged(t *testing.T) {
	blob := []byte("refdb payload")
	src := &fakeSource{
		refdbMeta: map[string]*RefDBMeta{"codes": {
			Name:     "codes",
			Version:  "v1",
			Filename: "codes.db",
			FileHash: checksum.SumBytes(blob),
			FileSize: int64(len(blob)),
		}},
		refdbBytes: map[string][]byte{"codes": blob},
	}
	f := newOrchFixture(t, src)

	_, err := f.orch.Run(context.Background(), RefDBClass("codes"))
	require.NoError(t, err)
	require.Equal(t, 1, src.refdbOpenCalls)

	res, err := f.orch.Run(context.Background(), RefDBClass("codes"))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, res.Downloaded)
	// 版本没变，不再下载文件
	assert.Equal(t, 1, src.refdbOpenCalls)
}

func TestRunRefDBRedownloadsOnVersionChange(t *testing.T) {
	blobV1 := []byte("refdb v1")
	src := &fakeSource{
		refdbMeta: map[string]*RefDBMeta{"codes": {
			Name: "codes", Version: "v1", Filename: "codes.db",
			FileHash: checksum.SumBytes(blobV1), FileSize: int64(len(blobV1)),
		}},
		refdbBytes: map[string][]byte{"codes": blobV1},
	}
	f := newOrchFixture(t, src)

	_, err := f.orch.Run(context.Background(), RefDBClass("codes"))
	require.NoError(t, err)

	blobV2 := []byte("refdb v2 with more rows")
	src.refdbMeta["codes"] = &RefDBMeta{
		Name: "codes", Version: "v2", Filename: "codes.db",
		FileHash: checksum.SumBytes(blobV2), FileSize: int64(len(blobV2)),
	}
	src.refdbBytes["codes"] = blobV2

	res, err := f.orch.Run(context.Background(), RefDBClass("codes"))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Downloaded)

	got, err := os.ReadFile(f.store.RefDBPath("codes", "codes.db"))
	require.NoError(t, err)
	assert.Equal(t, blobV2, got)

	db, err := f.refdbs.GetByName(context.Background(), "codes")
	require.NoError(t, err)
	assert.Equal(t, "v2", db.Version)
}

func TestRunRefDBUpstreamUnreachable(t *testing.T) {
	src := &fakeSource{refdbErr: fmt.Errorf("%w: connection refused", ErrTransient)}
	f := newOrchFixture(t, src)

	_, err := f.orch.Run(context.Background(), RefDBClass("codes"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncUpstream))

	status, err := f.statuses.Get(context.Background(), "refdb:codes")
	require.NoError(t, err)
	assert.False(t, status.Healthy())
}

func TestParseRefDBClass(t *testing.T) {
	name, ok := ParseRefDBClass("refdb:codes")
	assert.True(t, ok)
	assert.Equal(t, "codes", name)

	_, ok = ParseRefDBClass(ClassAssets)
	assert.False(t, ok)

	assert.Equal(t, "refdb:codes", RefDBClass("codes"))
}

func TestNeedsUpdate(t *testing.T) {
	assert.False(t, needsUpdate("v1", "h1", "v1", "h1"))
	assert.True(t, needsUpdate("v1", "h1", "v2", "h1"))
	assert.True(t, needsUpdate("v1", "h1", "v1", "h2"))
	assert.True(t, needsUpdate("", "", "v1", "h1"))
}
