package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(scheme Scheme) *Service {
	return NewService([]byte("test-secret"), time.Hour, scheme)
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc := newTestService(SchemeEither)

	tok, err := svc.Issue(" teacher@school.org ", "forum-tests")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)

	id, err := svc.Authenticate(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "teacher@school.org", id.Email)
	assert.Equal(t, "forum-tests", id.AppName)
	assert.NotEmpty(t, id.TokenID)
}

func TestIssueRejectsBadCredentials(t *testing.T) {
	svc := newTestService(SchemeEither)

	for name, in := range map[string][2]string{
		"missing email":   {"", "app"},
		"missing app":     {"a@b.c", "  "},
		"email without @": {"teacher", "app"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Issue(in[0], in[1])
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestAuthenticateRejects(t *testing.T) {
	svc := newTestService(SchemeEither)

	t.Run("empty", func(t *testing.T) {
		_, err := svc.Authenticate("")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Authenticate("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewService([]byte("other-secret"), time.Hour, SchemeEither)
		tok, err := other.Issue("a@b.c", "app")
		require.NoError(t, err)
		_, err = svc.Authenticate(tok.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past := newTestService(SchemeEither)
		past.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
		tok, err := past.Issue("a@b.c", "app")
		require.NoError(t, err)
		_, err = svc.Authenticate(tok.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong signing method", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"email":   "a@b.c",
			"appName": "app",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.Authenticate(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		scheme  Scheme
		header  string
		want    string
		wantErr error
	}{
		{"bearer accepted by either", SchemeEither, "Bearer abc", "abc", nil},
		{"raw accepted by either", SchemeEither, "abc", "abc", nil},
		{"lowercase bearer", SchemeBearer, "bearer abc", "abc", nil},
		{"raw rejected by bearer", SchemeBearer, "abc", "", ErrInvalidToken},
		{"bearer rejected by raw", SchemeRaw, "Bearer abc", "", ErrInvalidToken},
		{"raw accepted by raw", SchemeRaw, "abc", "abc", nil},
		{"empty", SchemeEither, "  ", "", ErrMissingToken},
		{"too many parts", SchemeEither, "Bearer a b", "", ErrInvalidToken},
		{"other scheme", SchemeEither, "Basic abc", "", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestService(tt.scheme).ExtractToken(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{Email: "a@b.c", AppName: "app"})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "a@b.c", id.Email)
}
