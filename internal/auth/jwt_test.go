package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("peer-secret", "hub-central")

	token, err := m.GeneratePeerToken("edge-eu-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.VerifyPeerToken(token)
	require.NoError(t, err)
	assert.Equal(t, "edge-eu-1", claims.NodeID)
	assert.Equal(t, "hub-central", claims.Issuer)
}

func TestServiceTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("service-secret", "hub-central")

	token, err := m.GenerateServiceToken("order-portal")
	require.NoError(t, err)

	claims, err := m.VerifyServiceToken(token)
	require.NoError(t, err)
	assert.Equal(t, "order-portal", claims.ServiceName)
}

func TestPeerTokenRejectsServiceAudience(t *testing.T) {
	m := NewTokenManager("shared-secret", "hub-central")

	token, err := m.GenerateServiceToken("order-portal")
	require.NoError(t, err)

	_, err = m.VerifyPeerToken(token)
	assert.Error(t, err)
}

func TestServiceTokenRejectsPeerAudience(t *testing.T) {
	m := NewTokenManager("shared-secret", "hub-central")

	token, err := m.GeneratePeerToken("edge-eu-1")
	require.NoError(t, err)

	_, err = m.VerifyServiceToken(token)
	assert.Error(t, err)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	minter := NewTokenManager("secret-a", "hub-central")
	verifier := NewTokenManager("secret-b", "hub-central")

	token, err := minter.GeneratePeerToken("edge-eu-1")
	require.NoError(t, err)

	_, err = verifier.VerifyPeerToken(token)
	assert.Error(t, err)
}

func TestTokenRejectsExpired(t *testing.T) {
	m := NewTokenManager("peer-secret", "hub-central")

	// 手工签发一个已过期的 token
	claims := &PeerClaims{
		NodeID: "edge-eu-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			Audience:  jwt.ClaimStrings{AudiencePeer},
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("peer-secret"))
	require.NoError(t, err)

	_, err = m.VerifyPeerToken(token)
	assert.Error(t, err)
}

func TestPeerTokenRequiresNodeID(t *testing.T) {
	claims := &PeerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			Audience:  jwt.ClaimStrings{AudiencePeer},
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("peer-secret"))
	require.NoError(t, err)

	m := NewTokenManager("peer-secret", "hub-central")
	_, err = m.VerifyPeerToken(token)
	assert.Error(t, err)
}

func TestExtractTokenFromHeader(t *testing.T) {
	token, err := ExtractTokenFromHeader("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	_, err = ExtractTokenFromHeader("Basic abc")
	assert.Error(t, err)

	_, err = ExtractTokenFromHeader("")
	assert.Error(t, err)
}
