package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	req := require.New(t)
	iss, err := NewIssuer("test-secret", time.Hour, "huddle")
	req.NoError(err)

	token, err := iss.Issue("alice")
	req.NoError(err)

	user, err := iss.Verify(context.Background(), token)
	req.NoError(err)
	req.Equal("alice", user)
}

func TestVerifyRejects(t *testing.T) {
	iss, err := NewIssuer("test-secret", time.Hour, "huddle")
	require.NoError(t, err)
	other, err := NewIssuer("other-secret", time.Hour, "huddle")
	require.NoError(t, err)

	foreign, err := other.Issue("alice")
	require.NoError(t, err)

	expiredIssuer, err := NewIssuer("test-secret", time.Hour, "huddle")
	require.NoError(t, err)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIssuer.Issue("alice")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"wrong secret", foreign},
		{"expired", expired},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Verify(context.Background(), tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewIssuerDefaults(t *testing.T) {
	_, err := NewIssuer("", time.Hour, "x")
	require.Error(t, err)

	iss, err := NewIssuer("s", 0, "x")
	require.NoError(t, err)
	require.Equal(t, DefaultTokenTTL, iss.ttl)
}

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("correct horse")
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$2a$"))

	req.NoError(ComparePassword("correct horse", hash))
	req.ErrorIs(ComparePassword("battery staple", hash), ErrPasswordMismatch)
	req.Error(ComparePassword("x", "not-a-hash"))
}
