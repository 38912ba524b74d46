package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestIssueAndParseToken(t *testing.T) {
	now := time.Now().UTC()
	signed, errIssue := IssueToken(testSecret, Claims{SubscriberID: 42, Roles: []string{RoleAnalyst}}, time.Hour, now)
	require.NoError(t, errIssue)

	claims, errParse := ParseToken(testSecret, signed)
	require.NoError(t, errParse)
	require.Equal(t, uint64(42), claims.SubscriberID)
	require.Equal(t, "42", claims.Subject)
	require.Equal(t, []string{RoleAnalyst}, claims.Roles)
	require.False(t, claims.IsPrivileged)
}

func TestParseTokenRejects(t *testing.T) {
	now := time.Now().UTC()
	valid, errIssue := IssueToken(testSecret, Claims{SubscriberID: 1}, time.Hour, now)
	require.NoError(t, errIssue)
	expired, errExpired := IssueToken(testSecret, Claims{SubscriberID: 1}, time.Minute, now.Add(-time.Hour))
	require.NoError(t, errExpired)
	none, errNone := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{SubscriberID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, errNone)

	cases := []struct {
		name   string
		secret string
		token  string
		want   error
	}{
		{name: "empty", secret: testSecret, token: "", want: ErrMissingToken},
		{name: "wrong secret", secret: "other", token: valid, want: ErrInvalidToken},
		{name: "expired", secret: testSecret, token: expired, want: ErrInvalidToken},
		{name: "alg none", secret: testSecret, token: none, want: ErrInvalidToken},
		{name: "garbage", secret: testSecret, token: "not.a.jwt", want: ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseToken(tc.secret, tc.token)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	require.Equal(t, "abc", BearerToken("Bearer abc"))
	require.Equal(t, "abc", BearerToken("bearer  abc "))
	require.Equal(t, "abc", BearerToken("abc"))
	require.Empty(t, BearerToken("  "))
}

func TestHasAnyRole(t *testing.T) {
	analyst := &Claims{Roles: []string{"analyst"}}
	require.True(t, analyst.HasAnyRole(RoleSuperAdmin, RoleAdmin, RoleAnalyst))
	require.False(t, analyst.HasAnyRole(RoleSuperAdmin, RoleAdmin))
	require.True(t, analyst.HasAnyRole())

	privileged := &Claims{IsPrivileged: true}
	require.True(t, privileged.HasAnyRole(RoleSuperAdmin))

	var missing *Claims
	require.False(t, missing.HasAnyRole(RoleAdmin))
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(16)
	if err != nil {
		t.Fatalf("GenerateRandomString: %v", err)
	}
	b, _ := GenerateRandomString(16)
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected random strings %q %q", a, b)
	}
	if _, err := GenerateRandomString(0); err == nil {
		t.Fatalf("expected error for zero length")
	}
}
