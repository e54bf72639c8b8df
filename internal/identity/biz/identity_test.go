package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
)

type fakeIdentityRepo struct {
	subjects map[string]*Subject
	orgs     map[string]*Organization
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{
		subjects: make(map[string]*Subject),
		orgs:     make(map[string]*Organization),
	}
}

func (r *fakeIdentityRepo) GetSubject(_ context.Context, id string) (*Subject, error) {
	s, ok := r.subjects[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrSubjectNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeIdentityRepo) GetOrganization(_ context.Context, id string) (*Organization, error) {
	o, ok := r.orgs[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrOrgNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleViewer))
	assert.True(t, RoleContentManager.AtLeast(RoleContentManager))
	assert.True(t, RoleEditor.AtLeast(RoleViewer))

	assert.False(t, RoleViewer.AtLeast(RoleEditor))
	assert.False(t, RoleEditor.AtLeast(RoleContentManager))

	// 未知角色永远排在已知角色之下
	assert.False(t, Role("owner").AtLeast(RoleViewer))
	assert.False(t, RoleAdmin.AtLeast(Role("owner")))
}

func TestResolve(t *testing.T) {
	repo := newFakeIdentityRepo()
	repo.orgs["org-1"] = &Organization{ID: "org-1", Name: "Helios", Kind: OrgKindFullAccess}
	repo.subjects["s-1"] = &Subject{
		ID:     "s-1",
		OrgID:  "org-1",
		Role:   RoleEditor,
		Status: SubjectActive,
	}

	uc := NewIdentityUseCase(repo)

	subject, org, err := uc.Resolve(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", subject.ID)
	assert.Equal(t, "org-1", org.ID)
	assert.Equal(t, OrgKindFullAccess, org.Kind)
}

func TestResolveUnknownSubject(t *testing.T) {
	uc := NewIdentityUseCase(newFakeIdentityRepo())

	_, _, err := uc.Resolve(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSubjectNotFound))
}

func TestResolveEmptyID(t *testing.T) {
	uc := NewIdentityUseCase(newFakeIdentityRepo())

	_, _, err := uc.Resolve(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSubjectNotFound))
}

func TestResolveDisabledSubject(t *testing.T) {
	repo := newFakeIdentityRepo()
	repo.orgs["org-1"] = &Organization{ID: "org-1", Kind: OrgKindFullAccess}
	repo.subjects["s-frozen"] = &Subject{
		ID:     "s-frozen",
		OrgID:  "org-1",
		Role:   RoleViewer,
		Status: SubjectDisabled,
	}

	uc := NewIdentityUseCase(repo)

	_, _, err := uc.Resolve(context.Background(), "s-frozen")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSubjectDisabled))
}

func TestResolveMissingOrganization(t *testing.T) {
	repo := newFakeIdentityRepo()
	repo.subjects["s-orphan"] = &Subject{
		ID:     "s-orphan",
		OrgID:  "org-gone",
		Role:   RoleViewer,
		Status: SubjectActive,
	}

	uc := NewIdentityUseCase(repo)

	_, _, err := uc.Resolve(context.Background(), "s-orphan")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrOrgNotFound))
}
