// Package visibility decides which assets an organization's subjects may
// view, edit and approve. One policy exists per organization kind; the
// kind is resolved from the subject's organization, never passed by the
// caller.
package visibility

import (
	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	identitybiz "github.com/lk2023060901/media-hub-backend/internal/identity/biz"
)

// Policy determines kind-level view visibility of assets for one
// organization kind. Policies are pure; all inputs arrive as arguments.
type Policy interface {
	CanView(org *identitybiz.Organization, asset *assetbiz.Asset) bool
}

// fullAccessPolicy sees everything. Used by the operating organization's
// own staff.
type fullAccessPolicy struct{}

func (fullAccessPolicy) CanView(_ *identitybiz.Organization, _ *assetbiz.Asset) bool {
	return true
}

// tenantScopedPolicy sees assets whose visibility scope intersects the
// organization's tenant set. Internal-only catalogs are always excluded
// for this kind.
type tenantScopedPolicy struct{}

func (tenantScopedPolicy) CanView(org *identitybiz.Organization, asset *assetbiz.Asset) bool {
	if asset.CatalogInternal {
		return false
	}
	return intersects(asset.VisibilityScope, org.TenantIDs)
}

// ownOrgOnlyPolicy sees only assets owned by the subject's own
// organization.
type ownOrgOnlyPolicy struct{}

func (ownOrgOnlyPolicy) CanView(org *identitybiz.Organization, asset *assetbiz.Asset) bool {
	return asset.OwnerOrgID != "" && asset.OwnerOrgID == org.ID
}

// allowListedPolicy sees assets owned by explicitly allowed organizations.
type allowListedPolicy struct{}

func (allowListedPolicy) CanView(org *identitybiz.Organization, asset *assetbiz.Asset) bool {
	return contains(org.AllowedOwnerIDs, asset.OwnerOrgID)
}

// deniedPolicy sees nothing. Applied to unknown organization kinds.
type deniedPolicy struct{}

func (deniedPolicy) CanView(_ *identitybiz.Organization, _ *assetbiz.Asset) bool {
	return false
}

// PolicyFor selects the policy for an organization kind.
func PolicyFor(kind identitybiz.OrgKind) Policy {
	switch kind {
	case identitybiz.OrgKindFullAccess:
		return fullAccessPolicy{}
	case identitybiz.OrgKindTenantScoped:
		return tenantScopedPolicy{}
	case identitybiz.OrgKindOwnOrgOnly:
		return ownOrgOnlyPolicy{}
	case identitybiz.OrgKindAllowListed:
		return allowListedPolicy{}
	default:
		return deniedPolicy{}
	}
}

// Filter binds a resolved subject and organization to the organization's
// policy.
type Filter struct {
	subject *identitybiz.Subject
	org     *identitybiz.Organization
	policy  Policy
}

func NewFilter(subject *identitybiz.Subject, org *identitybiz.Organization) *Filter {
	return &Filter{
		subject: subject,
		org:     org,
		policy:  PolicyFor(org.Kind),
	}
}

// CanView reports whether the subject may see the asset at all.
func (f *Filter) CanView(asset *assetbiz.Asset) bool {
	return f.policy.CanView(f.org, asset)
}

// CanEdit requires view visibility plus authorship or a curator role.
func (f *Filter) CanEdit(asset *assetbiz.Asset) bool {
	if !f.CanView(asset) {
		return false
	}
	if asset.UploaderID != "" && asset.UploaderID == f.subject.ID {
		return true
	}
	return f.subject.Role.AtLeast(identitybiz.RoleContentManager)
}

// CanApprove requires edit rights and separation of duties: the approver
// must not be the uploader, regardless of role.
func (f *Filter) CanApprove(asset *assetbiz.Asset) bool {
	if !f.CanEdit(asset) {
		return false
	}
	return asset.UploaderID == "" || asset.UploaderID != f.subject.ID
}

// FilterViewable returns the subset of assets the subject may see,
// preserving input order.
func (f *Filter) FilterViewable(assets []*assetbiz.Asset) []*assetbiz.Asset {
	visible := make([]*assetbiz.Asset, 0, len(assets))
	for _, asset := range assets {
		if f.CanView(asset) {
			visible = append(visible, asset)
		}
	}
	return visible
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
