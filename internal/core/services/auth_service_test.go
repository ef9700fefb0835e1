package services

import (
	"testing"
	"time"

	"chatrelay/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySessionValidToken(t *testing.T) {
	svc := NewAuthService("test-secret")

	token, err := svc.GenerateToken("alice", time.Hour)
	require.NoError(t, err)

	user, err := svc.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), user)
}

func TestVerifySessionExpiredToken(t *testing.T) {
	svc := NewAuthService("test-secret")

	token, err := svc.GenerateToken("alice", -time.Minute)
	require.NoError(t, err)

	_, err = svc.VerifySession(token)
	assert.ErrorIs(t, err, domain.ErrAuthenticationRejected)
}

func TestVerifySessionWrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a")
	verifier := NewAuthService("secret-b")

	token, err := issuer.GenerateToken("alice", time.Hour)
	require.NoError(t, err)

	_, err = verifier.VerifySession(token)
	assert.ErrorIs(t, err, domain.ErrAuthenticationRejected)
}

func TestVerifySessionGarbageCredential(t *testing.T) {
	svc := NewAuthService("test-secret")

	for _, credential := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.VerifySession(credential)
		assert.ErrorIs(t, err, domain.ErrAuthenticationRejected, "credential %q", credential)
	}
}

func TestVerifySessionMissingUserID(t *testing.T) {
	svc := NewAuthService("test-secret")

	// A structurally valid token carrying no user identity.
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.VerifySession(token)
	assert.ErrorIs(t, err, domain.ErrAuthenticationRejected)
}

func TestVerifySessionRejectsUnexpectedSigningMethod(t *testing.T) {
	svc := NewAuthService("test-secret")

	// alg=none styled token must never pass.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "alice"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifySession(signed)
	assert.ErrorIs(t, err, domain.ErrAuthenticationRejected)
}
