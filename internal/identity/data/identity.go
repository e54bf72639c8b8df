package data

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/lk2023060901/media-hub-backend/internal/identity/biz"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/database"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
)

// StringListJSON 自定义 JSONB 类型（用于存储字符串数组）
type StringListJSON []string

func (j *StringListJSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j StringListJSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// SubjectPO represents the database model for subjects
type SubjectPO struct {
	ID          string `gorm:"type:uuid;primarykey"`
	DisplayName string `gorm:"size:100;not null"`
	Email       string `gorm:"size:255;not null"`
	OrgID       string `gorm:"type:uuid;not null;index"`
	Role        string `gorm:"size:32;not null;default:'viewer'"`
	Status      string `gorm:"size:16;not null;default:'active'"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SubjectPO) TableName() string {
	return "subjects"
}

// OrganizationPO represents the database model for organizations
type OrganizationPO struct {
	ID              string         `gorm:"type:uuid;primarykey"`
	Name            string         `gorm:"size:200;not null"`
	Kind            string         `gorm:"size:32;not null"`
	TenantIDs       StringListJSON `gorm:"type:jsonb"`
	AllowedOwnerIDs StringListJSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OrganizationPO) TableName() string {
	return "organizations"
}

// IdentityRepo implements biz.IdentityRepo
type IdentityRepo struct {
	db *database.DB
}

func NewIdentityRepo(db *database.DB) biz.IdentityRepo {
	return &IdentityRepo{db: db}
}

func (r *IdentityRepo) GetSubject(ctx context.Context, id string) (*biz.Subject, error) {
	var po SubjectPO
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrSubjectNotFound, id)
		}
		return nil, err
	}

	return toSubject(&po), nil
}

func (r *IdentityRepo) GetOrganization(ctx context.Context, id string) (*biz.Organization, error) {
	var po OrganizationPO
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrOrgNotFound, id)
		}
		return nil, err
	}

	return toOrganization(&po), nil
}

func toSubject(po *SubjectPO) *biz.Subject {
	return &biz.Subject{
		ID:          po.ID,
		DisplayName: po.DisplayName,
		Email:       po.Email,
		OrgID:       po.OrgID,
		Role:        biz.Role(po.Role),
		Status:      po.Status,
	}
}

func toOrganization(po *OrganizationPO) *biz.Organization {
	return &biz.Organization{
		ID:              po.ID,
		Name:            po.Name,
		Kind:            biz.OrgKind(po.Kind),
		TenantIDs:       po.TenantIDs,
		AllowedOwnerIDs: po.AllowedOwnerIDs,
	}
}
