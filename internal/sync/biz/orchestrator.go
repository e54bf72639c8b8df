package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/workerpool"
)

var (
	syncCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mh_sync_cycles_total",
		Help: "Completed sync cycles by resource class and outcome.",
	}, []string{"class", "status"})

	syncCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mh_sync_cycle_duration_seconds",
		Help:    "Wall clock time of a full sync cycle.",
		Buckets: prometheus.DefBuckets,
	}, []string{"class"})

	syncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mh_sync_items_total",
		Help: "Items processed during sync cycles, by operation.",
	}, []string{"class", "op"})
)

// Phase 同步周期所处的阶段
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseDiffing    Phase = "diffing"
	PhaseApplying   Phase = "applying"
	PhaseFinalizing Phase = "finalizing"
)

// Result 一次同步周期的汇总
type Result struct {
	Class      string
	Version    string
	Downloaded int
	Updated    int
	Deleted    int
	Skipped    bool
	Errors     []string
	Duration   time.Duration
}

// Orchestrator 驱动各资源类的同步周期。
// 同一资源类同一时间只允许一个周期在运行，不同资源类互不阻塞。
type Orchestrator struct {
	source   Source
	store    CacheStore
	fetcher  *Fetcher
	assets   assetbiz.AssetRepo
	statuses SyncStatusRepo
	refdbs   ReferenceDBRepo
	pool     *workerpool.Pool
	logger   *zap.Logger

	mu     sync.Mutex
	phases map[string]Phase
}

// NewOrchestrator 创建同步编排器
func NewOrchestrator(
	source Source,
	store CacheStore,
	assets assetbiz.AssetRepo,
	statuses SyncStatusRepo,
	refdbs ReferenceDBRepo,
	pool *workerpool.Pool,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		source:   source,
		store:    store,
		fetcher:  NewFetcher(source, store, logger),
		assets:   assets,
		statuses: statuses,
		refdbs:   refdbs,
		pool:     pool,
		logger:   logger,
		phases:   make(map[string]Phase),
	}
}

// Init 确保每个资源类都有状态行。服务启动时调用一次。
func (o *Orchestrator) Init(ctx context.Context, classes []string) error {
	for _, class := range classes {
		if _, err := o.statuses.GetOrCreate(ctx, class); err != nil {
			return fmt.Errorf("init sync status %s: %w", class, err)
		}
	}
	return nil
}

// Phase 返回资源类当前所处的阶段
func (o *Orchestrator) Phase(class string) Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.phases[class]; ok {
		return p
	}
	return PhaseIdle
}

// Run 执行一个资源类的完整同步周期。
// 该资源类已有周期在运行时立即返回冲突，不排队等待。
func (o *Orchestrator) Run(ctx context.Context, class string) (*Result, error) {
	if !o.tryAcquire(class) {
		return nil, apperrors.New(apperrors.ErrSyncCycleRunning, class)
	}
	defer o.release(class)

	start := time.Now()
	var (
		res *Result
		err error
	)
	if name, ok := ParseRefDBClass(class); ok {
		res, err = o.runRefDB(ctx, class, name)
	} else if class == ClassAssets {
		res, err = o.runAssets(ctx)
	} else {
		return nil, apperrors.New(apperrors.ErrSyncUnknownClass, class)
	}

	duration := time.Since(start)
	syncCycleDuration.WithLabelValues(class).Observe(duration.Seconds())
	if err != nil {
		syncCyclesTotal.WithLabelValues(class, "failure").Inc()
		return nil, err
	}

	res.Duration = duration
	outcome := "success"
	if len(res.Errors) > 0 {
		outcome = "partial"
	}
	syncCyclesTotal.WithLabelValues(class, outcome).Inc()
	return res, nil
}

// runAssets 资产资源类的同步周期: 拉清单、比对、并行下载、清理孤儿、落状态
func (o *Orchestrator) runAssets(ctx context.Context) (*Result, error) {
	res := &Result{Class: ClassAssets}

	o.setPhase(ClassAssets, PhaseFetching)
	manifest, err := o.source.FetchManifest(ctx)
	if err != nil {
		// 上游不可达: 本地缓存保持上一次成功同步的状态，只记录失败
		o.markFailure(ctx, ClassAssets, err)
		return nil, apperrors.Wrap(err, apperrors.ErrSyncUpstream)
	}
	res.Version = manifest.Version

	o.setPhase(ClassAssets, PhaseDiffing)
	local, err := o.assets.ListCached(ctx)
	if err != nil {
		o.markFailure(ctx, ClassAssets, err)
		return nil, fmt.Errorf("list cached assets: %w", err)
	}
	plan := Diff(manifest.Assets, local)

	o.logger.Info("同步计划已生成",
		zap.String("class", ClassAssets),
		zap.String("version", manifest.Version),
		zap.Int("download", len(plan.ToDownload)),
		zap.Int("update", len(plan.ToUpdate)),
		zap.Int("delete", len(plan.ToDelete)),
	)

	o.setPhase(ClassAssets, PhaseApplying)
	errs := o.applyPlan(ctx, plan, res)

	o.setPhase(ClassAssets, PhaseFinalizing)
	res.Errors = errs
	if len(errs) > 0 {
		o.markFailure(ctx, ClassAssets, errors.New(strings.Join(errs, "; ")))
	} else if err := o.statuses.MarkSuccess(ctx, ClassAssets, manifest.Version, manifest.Hash, time.Now()); err != nil {
		o.logger.Error("同步状态写入失败", zap.String("class", ClassAssets), zap.Error(err))
		res.Errors = append(res.Errors, fmt.Sprintf("mark success: %v", err))
	}

	o.logger.Info("同步周期完成",
		zap.String("class", ClassAssets),
		zap.String("version", manifest.Version),
		zap.Int("downloaded", res.Downloaded),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// applyPlan 并行下载新增与变更条目，串行清理孤儿。
// 单个条目失败不中断其余条目，失败信息汇总返回。
func (o *Orchestrator) applyPlan(ctx context.Context, plan *Plan, res *Result) []string {
	type job struct {
		desc assetbiz.Descriptor
		op   string
	}
	jobs := make([]job, 0, len(plan.ToDownload)+len(plan.ToUpdate))
	for _, d := range plan.ToDownload {
		jobs = append(jobs, job{desc: d, op: "downloaded"})
	}
	for _, d := range plan.ToUpdate {
		jobs = append(jobs, job{desc: d, op: "updated"})
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []string
	)
	for _, j := range jobs {
		j := j
		wg.Add(1)
		submitErr := o.pool.Submit(func() {
			defer wg.Done()
			if err := o.applyItem(ctx, &j.desc); err != nil {
				o.logger.Warn("条目同步失败", zap.String("asset_id", j.desc.ID), zap.Error(err))
				syncItemsTotal.WithLabelValues(ClassAssets, "failed").Inc()
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", j.desc.ID, err))
				mu.Unlock()
				return
			}
			syncItemsTotal.WithLabelValues(ClassAssets, j.op).Inc()
			mu.Lock()
			if j.op == "downloaded" {
				res.Downloaded++
			} else {
				res.Updated++
			}
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Sprintf("%s: submit: %v", j.desc.ID, submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()

	for _, orphan := range plan.ToDelete {
		if err := o.removeOrphan(ctx, orphan); err != nil {
			o.logger.Warn("孤儿条目清理失败", zap.String("asset_id", orphan.ID), zap.Error(err))
			syncItemsTotal.WithLabelValues(ClassAssets, "failed").Inc()
			errs = append(errs, fmt.Sprintf("%s: %v", orphan.ID, err))
			continue
		}
		syncItemsTotal.WithLabelValues(ClassAssets, "deleted").Inc()
		res.Deleted++
	}

	return errs
}

// applyItem 下载并校验一个条目，成功后把镜像行与缓存位置写入数据库
func (o *Orchestrator) applyItem(ctx context.Context, desc *assetbiz.Descriptor) error {
	fetched, err := o.fetcher.FetchAsset(ctx, desc)
	if err != nil {
		return err
	}
	entry := &assetbiz.CacheEntry{
		LocalPath:  fetched.LocalPath,
		CachedHash: fetched.Hash,
		CachedAt:   time.Now(),
	}
	if err := o.assets.ApplyFetched(ctx, desc, entry); err != nil {
		return fmt.Errorf("apply fetched: %w", err)
	}
	return nil
}

// removeOrphan 删除孤儿条目的缓存文件并清掉数据库中的缓存位置
func (o *Orchestrator) removeOrphan(ctx context.Context, a *assetbiz.Asset) error {
	if a.CacheEntry != nil {
		if err := o.store.Remove(a.CacheEntry.LocalPath); err != nil {
			return err
		}
	}
	return o.assets.ClearCacheEntry(ctx, a.ID)
}

// runRefDB 参考数据库资源类的同步周期。
// 版本与哈希都没变时跳过下载，整个周期只有一次元信息请求。
func (o *Orchestrator) runRefDB(ctx context.Context, class, name string) (*Result, error) {
	res := &Result{Class: class}

	o.setPhase(class, PhaseFetching)
	meta, err := o.source.FetchRefDBMeta(ctx, name)
	if err != nil {
		o.markFailure(ctx, class, err)
		return nil, apperrors.Wrap(err, apperrors.ErrSyncUpstream)
	}
	res.Version = meta.Version

	o.setPhase(class, PhaseDiffing)
	status, err := o.statuses.GetOrCreate(ctx, class)
	if err != nil {
		o.markFailure(ctx, class, err)
		return nil, fmt.Errorf("load sync status: %w", err)
	}

	if !needsUpdate(status.Version, status.LastHash, meta.Version, meta.FileHash) {
		res.Skipped = true
		if err := o.statuses.MarkSuccess(ctx, class, meta.Version, meta.FileHash, time.Now()); err != nil {
			o.logger.Error("同步状态写入失败", zap.String("class", class), zap.Error(err))
		}
		o.logger.Info("参考数据库已是最新",
			zap.String("name", name),
			zap.String("version", meta.Version),
		)
		return res, nil
	}

	o.setPhase(class, PhaseApplying)
	fetched, err := o.fetcher.FetchRefDB(ctx, meta)
	if err != nil {
		o.markFailure(ctx, class, err)
		syncItemsTotal.WithLabelValues(class, "failed").Inc()
		if errors.Is(err, ErrTransient) {
			return nil, apperrors.Wrap(err, apperrors.ErrSyncUpstream)
		}
		return nil, err
	}

	filename := meta.Filename
	if filename == "" {
		filename = name + ".db"
	}
	if err := o.refdbs.UpsertLocal(ctx, &ReferenceDB{
		Name:      name,
		Version:   meta.Version,
		FileHash:  fetched.Hash,
		FileSize:  fetched.Size,
		Filename:  filename,
		LocalPath: fetched.LocalPath,
	}); err != nil {
		o.markFailure(ctx, class, err)
		return nil, fmt.Errorf("upsert refdb %s: %w", name, err)
	}

	o.setPhase(class, PhaseFinalizing)
	if err := o.statuses.MarkSuccess(ctx, class, meta.Version, meta.FileHash, time.Now()); err != nil {
		o.logger.Error("同步状态写入失败", zap.String("class", class), zap.Error(err))
		res.Errors = append(res.Errors, fmt.Sprintf("mark success: %v", err))
	}
	res.Downloaded = 1
	syncItemsTotal.WithLabelValues(class, "downloaded").Inc()

	o.logger.Info("参考数据库已更新",
		zap.String("name", name),
		zap.String("version", meta.Version),
		zap.Int64("size", fetched.Size),
	)
	return res, nil
}

// needsUpdate 版本或哈希任一变化即需要重新下载
func needsUpdate(localVersion, localHash, remoteVersion, remoteHash string) bool {
	return localVersion != remoteVersion || localHash != remoteHash
}

func (o *Orchestrator) tryAcquire(class string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.phases[class]; ok && p != PhaseIdle {
		return false
	}
	o.phases[class] = PhaseFetching
	return true
}

func (o *Orchestrator) setPhase(class string, p Phase) {
	o.mu.Lock()
	o.phases[class] = p
	o.mu.Unlock()
}

func (o *Orchestrator) release(class string) {
	o.setPhase(class, PhaseIdle)
}

// markFailure 把失败原因写进状态行，保留上一次成功的版本与哈希
func (o *Orchestrator) markFailure(ctx context.Context, class string, cause error) {
	msg := cause.Error()
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	if err := o.statuses.MarkFailure(ctx, class, msg, time.Now()); err != nil {
		o.logger.Error("同步失败状态写入失败", zap.String("class", class), zap.Error(err))
	}
}
