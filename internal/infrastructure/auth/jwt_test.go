package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/infrastructure/config"
)

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-at-least-32-chars",
		AccessTokenExpiration: 15 * time.Minute,
		Issuer:                "syncengine-test",
	})
}

func TestJWTService_IssueAndValidate(t *testing.T) {
	svc := newTestJWTService()
	orgID, userID := uuid.New(), uuid.New()

	issued, err := svc.IssueAccessToken(IssueTokenInput{
		OrgID:    orgID,
		UserID:   userID,
		Username: "ops",
		Scopes:   []string{ScopeSyncRead},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), issued.ExpiresAt, time.Second)

	claims, err := svc.ValidateAccessToken(issued.Token)
	require.NoError(t, err)

	gotOrg, err := claims.OrgUUID()
	require.NoError(t, err)
	assert.Equal(t, orgID, gotOrg)
	gotUser, err := claims.UserUUID()
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)
	assert.Equal(t, "ops", claims.Username)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.HasScope(ScopeSyncRead))
	assert.False(t, claims.HasScope(ScopeSyncWrite))
	assert.Greater(t, claims.RemainingTTL(), 14*time.Minute)
}

func TestJWTService_IssueRequiresSubject(t *testing.T) {
	svc := newTestJWTService()

	_, err := svc.IssueAccessToken(IssueTokenInput{UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrMissingOrgID)

	_, err = svc.IssueAccessToken(IssueTokenInput{OrgID: uuid.New()})
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestJWTService_ValidateAccessToken_Failures(t *testing.T) {
	svc := newTestJWTService()
	sign := func(claims *Claims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	valid := func() *Claims {
		now := time.Now()
		return &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "syncengine-test",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
				IssuedAt:  jwt.NewNumericDate(now),
			},
			OrgID:  uuid.NewString(),
			UserID: uuid.NewString(),
		}
	}

	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name:    "garbage",
			token:   func() string { return "not.a.token" },
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong secret",
			token:   func() string { return sign(valid(), "another-secret-key-of-32-characters") },
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired",
			token: func() string {
				c := valid()
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
				return sign(c, "test-secret-key-at-least-32-chars")
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "not yet valid",
			token: func() string {
				c := valid()
				c.NotBefore = jwt.NewNumericDate(time.Now().Add(time.Hour))
				return sign(c, "test-secret-key-at-least-32-chars")
			},
			wantErr: ErrTokenNotYetValid,
		},
		{
			name: "other issuer",
			token: func() string {
				c := valid()
				c.Issuer = "someone-else"
				return sign(c, "test-secret-key-at-least-32-chars")
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing org",
			token: func() string {
				c := valid()
				c.OrgID = ""
				return sign(c, "test-secret-key-at-least-32-chars")
			},
			wantErr: ErrMissingOrgID,
		},
		{
			name: "missing user",
			token: func() string {
				c := valid()
				c.UserID = ""
				return sign(c, "test-secret-key-at-least-32-chars")
			},
			wantErr: ErrMissingUserID,
		},
		{
			name: "org is not a uuid",
			token: func() string {
				c := valid()
				c.OrgID = "acme"
				return sign(c, "test-secret-key-at-least-32-chars")
			},
			wantErr: ErrInvalidClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClaims_HasScope_EmptyMeansAll(t *testing.T) {
	c := &Claims{}
	assert.True(t, c.HasScope(ScopeSyncWrite))
	assert.Zero(t, c.RemainingTTL())
}

func TestInMemoryRevocationList(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	list := NewInMemoryRevocationList()
	list.now = func() time.Time { return now }

	require.NoError(t, list.Revoke(ctx, "jti-1", time.Minute))
	require.NoError(t, list.Revoke(ctx, "jti-ignored", 0))

	revoked, err := list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = list.IsRevoked(ctx, "jti-ignored")
	require.NoError(t, err)
	assert.False(t, revoked)

	now = now.Add(time.Minute)
	revoked, err = list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Empty(t, list.revoked)
}
