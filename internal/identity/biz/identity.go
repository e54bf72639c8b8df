package biz

import (
	"context"

	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
)

// Role is the subject's role within its organization, maintained by the
// external auth layer. Roles form a ladder; higher roles include the
// permissions of lower ones.
type Role string

const (
	RoleViewer         Role = "viewer"
	RoleEditor         Role = "editor"
	RoleContentManager Role = "content_manager"
	RoleAdmin          Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer:         0,
	RoleEditor:         1,
	RoleContentManager: 2,
	RoleAdmin:          3,
}

// AtLeast reports whether r ranks at or above other. Unknown roles rank
// below every known role.
func (r Role) AtLeast(other Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	otherRank, ok := roleRank[other]
	if !ok {
		return false
	}
	return rank >= otherRank
}

// OrgKind selects the visibility policy applied to an organization's
// subjects.
type OrgKind string

const (
	OrgKindFullAccess   OrgKind = "full_access"
	OrgKindTenantScoped OrgKind = "tenant_scoped"
	OrgKindOwnOrgOnly   OrgKind = "own_org_only"
	OrgKindAllowListed  OrgKind = "allow_listed"
)

// Subject statuses
const (
	SubjectActive   = "active"
	SubjectDisabled = "disabled"
)

// Subject represents a requesting identity (human or service account)
type Subject struct {
	ID          string
	DisplayName string
	Email       string
	OrgID       string
	Role        Role
	Status      string
}

// Active reports whether the subject may act at all.
func (s *Subject) Active() bool {
	return s.Status == SubjectActive
}

// Organization represents the tenant a subject belongs to
type Organization struct {
	ID   string
	Name string
	Kind OrgKind

	// TenantIDs is the tenant/catalog scope assigned to a tenant_scoped
	// organization.
	TenantIDs []string

	// AllowedOwnerIDs lists the owner organizations an allow_listed
	// organization may see.
	AllowedOwnerIDs []string
}

// IdentityRepo defines read-side access to subjects and organizations.
// The records themselves are owned by the external auth/CRUD layer.
type IdentityRepo interface {
	GetSubject(ctx context.Context, id string) (*Subject, error)
	GetOrganization(ctx context.Context, id string) (*Organization, error)
}

// IdentityUseCase resolves subjects together with their organization
type IdentityUseCase struct {
	repo IdentityRepo
}

func NewIdentityUseCase(repo IdentityRepo) *IdentityUseCase {
	return &IdentityUseCase{repo: repo}
}

// Resolve loads a subject and its organization, rejecting disabled accounts.
func (uc *IdentityUseCase) Resolve(ctx context.Context, subjectID string) (*Subject, *Organization, error) {
	if subjectID == "" {
		return nil, nil, apperrors.New(apperrors.ErrSubjectNotFound)
	}

	subject, err := uc.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, nil, err
	}

	if !subject.Active() {
		return nil, nil, apperrors.New(apperrors.ErrSubjectDisabled, subjectID)
	}

	org, err := uc.repo.GetOrganization(ctx, subject.OrgID)
	if err != nil {
		return nil, nil, err
	}

	return subject, org, nil
}
