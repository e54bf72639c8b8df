package biz

import (
	"sort"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
)

// Plan 一次同步周期需要执行的操作集合
type Plan struct {
	// ToDownload 远端有、本地缓存没有的条目
	ToDownload []assetbiz.Descriptor
	// ToUpdate 两边都有但内容哈希不一致的条目
	ToUpdate []assetbiz.Descriptor
	// ToDelete 本地缓存有、远端清单已不存在的孤儿条目
	ToDelete []*assetbiz.Asset
}

// Empty 计划中没有任何操作
func (p *Plan) Empty() bool {
	return len(p.ToDownload) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// Total 计划中的操作总数
func (p *Plan) Total() int {
	return len(p.ToDownload) + len(p.ToUpdate) + len(p.ToDelete)
}

// Diff 比较远端清单与本地缓存清单，按 ID 对齐产出同步计划。
// 纯函数: 相同输入永远产出相同计划，三个列表都按 ID 升序排列。
func Diff(remote []assetbiz.Descriptor, local []*assetbiz.Asset) *Plan {
	localByID := make(map[string]*assetbiz.Asset, len(local))
	for _, a := range local {
		localByID[a.ID] = a
	}

	plan := &Plan{}
	seen := make(map[string]struct{}, len(remote))
	for _, desc := range remote {
		if desc.ID == "" {
			continue
		}
		// 清单中的重复条目只处理第一条
		if _, dup := seen[desc.ID]; dup {
			continue
		}
		seen[desc.ID] = struct{}{}

		cur, ok := localByID[desc.ID]
		switch {
		case !ok || cur.CacheEntry == nil:
			plan.ToDownload = append(plan.ToDownload, desc)
		case !cur.CacheEntry.Fresh(desc.ContentHash):
			plan.ToUpdate = append(plan.ToUpdate, desc)
		}
	}

	for _, a := range local {
		if _, ok := seen[a.ID]; !ok {
			plan.ToDelete = append(plan.ToDelete, a)
		}
	}

	sort.Slice(plan.ToDownload, func(i, j int) bool { return plan.ToDownload[i].ID < plan.ToDownload[j].ID })
	sort.Slice(plan.ToUpdate, func(i, j int) bool { return plan.ToUpdate[i].ID < plan.ToUpdate[j].ID })
	sort.Slice(plan.ToDelete, func(i, j int) bool { return plan.ToDelete[i].ID < plan.ToDelete[j].ID })

	return plan
}
