package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	"github.com/lk2023060901/media-hub-backend/internal/auth"
	"github.com/lk2023060901/media-hub-backend/internal/auth/middleware"
	checkoutbiz "github.com/lk2023060901/media-hub-backend/internal/checkout/biz"
	identitybiz "github.com/lk2023060901/media-hub-backend/internal/identity/biz"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/checksum"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/logger"
)

const (
	testSigningSecret = "test-signing-secret"
	testPeerSecret    = "test-peer-secret"
)

type fakeAssetRepo struct {
	assets map[string]*assetbiz.Asset
}

func (r *fakeAssetRepo) GetByID(_ context.Context, id string) (*assetbiz.Asset, error) {
	a, ok := r.assets[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrAssetNotFound, id)
	}
	return a, nil
}

func (r *fakeAssetRepo) List(_ context.Context, _, _ int) ([]*assetbiz.Asset, int64, error) {
	out := make([]*assetbiz.Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	return out, int64(len(out)), nil
}

func (r *fakeAssetRepo) ListCached(_ context.Context) ([]*assetbiz.Asset, error) {
	return nil, nil
}

func (r *fakeAssetRepo) ListDistributable(_ context.Context, _ bool) ([]*assetbiz.Asset, error) {
	return nil, nil
}

func (r *fakeAssetRepo) ApplyFetched(_ context.Context, _ *assetbiz.Descriptor, _ *assetbiz.CacheEntry) error {
	return nil
}

func (r *fakeAssetRepo) ClearCacheEntry(_ context.Context, _ string) error {
	return nil
}

type fakeIdentityRepo struct {
	subjects map[string]*identitybiz.Subject
	orgs     map[string]*identitybiz.Organization
}

func (r *fakeIdentityRepo) GetSubject(_ context.Context, id string) (*identitybiz.Subject, error) {
	s, ok := r.subjects[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrSubjectNotFound, id)
	}
	return s, nil
}

func (r *fakeIdentityRepo) GetOrganization(_ context.Context, id string) (*identitybiz.Organization, error) {
	o, ok := r.orgs[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrOrgNotFound, id)
	}
	return o, nil
}

type fakeTokenRepo struct {
	mu    sync.Mutex
	byTok map[string]*checkoutbiz.CheckoutToken
}

func (r *fakeTokenRepo) Create(_ context.Context, token *checkoutbiz.CheckoutToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	r.byTok[token.Token] = &cp
	return nil
}

func (r *fakeTokenRepo) GetByToken(_ context.Context, token string) (*checkoutbiz.CheckoutToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byTok[token]
	if !ok {
		return nil, apperrors.New(apperrors.ErrTokenNotFound, token)
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeTokenRepo) MarkUsed(_ context.Context, token string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byTok[token]
	if !ok || rec.UsedAt != nil {
		return false, nil
	}
	used := at
	rec.UsedAt = &used
	return true, nil
}

func (r *fakeTokenRepo) DeleteExpiredBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type serviceFixture struct {
	router   *gin.Engine
	checkout *checkoutbiz.CheckoutUseCase
	peerAuth *auth.TokenManager
	content  []byte
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	content := []byte("the cached media payload")
	dir := t.TempDir()
	localPath := filepath.Join(dir, "asset-1", "clip.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(localPath), 0o755))
	require.NoError(t, os.WriteFile(localPath, content, 0o644))

	hash := checksum.SumBytes(content)
	assetRepo := &fakeAssetRepo{assets: map[string]*assetbiz.Asset{
		"asset-1": {
			ID:              "asset-1",
			Filename:        "clip.mp4",
			ContentHash:     hash,
			FileSize:        int64(len(content)),
			ContentType:     "video/mp4",
			LifecycleStatus: assetbiz.StatusApproved,
			OwnerOrgID:      "org-b",
			CacheEntry: &assetbiz.CacheEntry{
				LocalPath:  localPath,
				CachedHash: hash,
				CachedAt:   time.Now(),
			},
		},
		"asset-2": {
			ID:              "asset-2",
			Filename:        "other.mp4",
			ContentHash:     "ffff",
			LifecycleStatus: assetbiz.StatusApproved,
			OwnerOrgID:      "org-b",
		},
	}}

	identityRepo := &fakeIdentityRepo{
		subjects: map[string]*identitybiz.Subject{
			"viewer-1": {ID: "viewer-1", OrgID: "org-a", Role: identitybiz.RoleViewer, Status: identitybiz.SubjectActive},
		},
		orgs: map[string]*identitybiz.Organization{
			"org-a": {ID: "org-a", Kind: identitybiz.OrgKindFullAccess},
		},
	}

	identityUseCase := identitybiz.NewIdentityUseCase(identityRepo)
	assetUseCase := assetbiz.NewAssetUseCase(assetRepo, nil, zap.NewNop())
	checkoutUseCase := checkoutbiz.NewCheckoutUseCase(
		&fakeTokenRepo{byTok: make(map[string]*checkoutbiz.CheckoutToken)},
		assetRepo,
		identityUseCase,
		checkoutbiz.NewSigner(testSigningSecret),
		"https://hub.example.com",
		10*time.Minute,
		zap.NewNop(),
	)

	svc := NewAssetService(assetUseCase, identityUseCase, checkoutUseCase, zap.NewNop())

	peerAuth := auth.NewTokenManager(testPeerSecret, "hub-a")
	quiet := &logger.Logger{Logger: zap.NewNop()}

	router := gin.New()
	router.GET("/api/v1/assets", svc.ListAssets)
	router.GET("/api/v1/assets/:id", svc.GetAsset)
	router.GET("/api/v1/assets/:id/file", middleware.PeerAuthOptional(peerAuth, quiet), svc.Download)

	return &serviceFixture{
		router:   router,
		checkout: checkoutUseCase,
		peerAuth: peerAuth,
		content:  content,
	}
}

func (fx *serviceFixture) get(path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

// signedPath 从签发结果中取出下载路径与查询参数
func signedPath(t *testing.T, grant *checkoutbiz.Grant) string {
	t.Helper()
	u, err := url.Parse(grant.SignedURL)
	require.NoError(t, err)
	return u.Path + "?" + u.RawQuery
}

func TestDownloadWithSignedURL(t *testing.T) {
	fx := newServiceFixture(t)

	grant, err := fx.checkout.Checkout(context.Background(), "viewer-1", "asset-1", false)
	require.NoError(t, err)

	w := fx.get(signedPath(t, grant), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fx.content, w.Body.Bytes())
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("ETag"), checksum.SumBytes(fx.content))

	// 同一链接第二次使用：令牌已核销
	w = fx.get(signedPath(t, grant), nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), "token_used")
}

func TestDownloadRejectsTamperedSignature(t *testing.T) {
	fx := newServiceFixture(t)

	grant, err := fx.checkout.Checkout(context.Background(), "viewer-1", "asset-1", false)
	require.NoError(t, err)

	u, err := url.Parse(grant.SignedURL)
	require.NoError(t, err)
	q := u.Query()
	sig := q.Get("sig")
	q.Set("sig", strings.Repeat("0", len(sig)))

	w := fx.get(u.Path+"?"+q.Encode(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "bad_signature")

	// 验签失败不得消耗令牌
	w = fx.get(signedPath(t, grant), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDownloadRejectsExpiredLink(t *testing.T) {
	fx := newServiceFixture(t)

	// 直接构造一个过期的签名链接
	expires := time.Now().Add(-time.Minute).Unix()
	signer := checkoutbiz.NewSigner(testSigningSecret)
	sig := signer.Sign("asset-1", "some-token", expires)

	path := "/api/v1/assets/asset-1/file?token=some-token&expires=" +
		strconv.FormatInt(expires, 10) + "&sig=" + sig

	w := fx.get(path, nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), "token_expired")
}

func TestDownloadRequiresCredentials(t *testing.T) {
	fx := newServiceFixture(t)

	w := fx.get("/api/v1/assets/asset-1/file", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDownloadConsumesTokenOnAssetMismatch(t *testing.T) {
	fx := newServiceFixture(t)

	grant, err := fx.checkout.Checkout(context.Background(), "viewer-1", "asset-1", false)
	require.NoError(t, err)

	// 持有签名密钥才可能构造出另一个资产的有效签名；
	// 核销先于资产匹配，这种链接会烧掉令牌但拿不到内容
	u, _ := url.Parse(grant.SignedURL)
	expires, _ := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	signer := checkoutbiz.NewSigner(testSigningSecret)
	crossSig := signer.Sign("asset-2", grant.Token, expires)

	path := "/api/v1/assets/asset-2/file?token=" + grant.Token +
		"&expires=" + strconv.FormatInt(expires, 10) + "&sig=" + crossSig

	w := fx.get(path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err = fx.checkout.Validate(context.Background(), grant.Token)
	assert.True(t, apperrors.Is(err, apperrors.ErrTokenUsed))
}

func TestDownloadWithPeerToken(t *testing.T) {
	fx := newServiceFixture(t)

	peerToken, err := fx.peerAuth.GeneratePeerToken("edge-eu-1")
	require.NoError(t, err)

	w := fx.get("/api/v1/assets/asset-1/file", map[string]string{
		"Authorization": "Bearer " + peerToken,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fx.content, w.Body.Bytes())
}

func TestListAssetsFiltersAndPages(t *testing.T) {
	fx := newServiceFixture(t)

	w := fx.get("/api/v1/assets?subject_id=viewer-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "asset-1")
	assert.Contains(t, w.Body.String(), `"total":2`)

	w = fx.get("/api/v1/assets", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAssetReportsPermissions(t *testing.T) {
	fx := newServiceFixture(t)

	w := fx.get("/api/v1/assets/asset-1?subject_id=viewer-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"can_view":true`)
	assert.Contains(t, w.Body.String(), `"can_edit":false`)

	w = fx.get("/api/v1/assets/missing?subject_id=viewer-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
