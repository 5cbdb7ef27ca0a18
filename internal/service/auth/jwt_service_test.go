package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/tasksync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

func newTestService(secret string, lifetime time.Duration, now func() time.Time) *hmacJWTService {
	return &hmacJWTService{
		signingKey:    []byte(secret),
		tokenLifetime: lifetime,
		timeFunc:      now,
		clockSkew:     2 * time.Minute,
	}
}

func TestNewJWTService(t *testing.T) {
	t.Parallel()

	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short", TokenLifetimeMinutes: 60})
	assert.Error(t, err)

	_, err = NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 0})
	assert.Error(t, err)

	svc, err := NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 60})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(testSecret, time.Hour, func() time.Time { return fixedTime })

	token, err := svc.GenerateToken(context.Background(), "mobile-app")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "mobile-app", claims.Subject)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	_, err = svc.GenerateToken(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptySubject)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuerSvc := newTestService(testSecret, time.Hour, func() time.Time { return fixedTime })
	token, err := issuerSvc.GenerateToken(context.Background(), "cli")
	require.NoError(t, err)

	tests := []struct {
		name    string
		secret  string
		now     time.Time
		token   string
		wantErr error
	}{
		{
			name:   "valid",
			secret: testSecret,
			now:    fixedTime.Add(30 * time.Minute),
			token:  token,
		},
		{
			name:   "within clock skew after expiry",
			secret: testSecret,
			now:    fixedTime.Add(time.Hour + time.Minute),
			token:  token,
		},
		{
			name:    "expired",
			secret:  testSecret,
			now:     fixedTime.Add(2 * time.Hour),
			token:   token,
			wantErr: ErrExpiredToken,
		},
		{
			name:    "not yet valid",
			secret:  testSecret,
			now:     fixedTime.Add(-10 * time.Minute),
			token:   token,
			wantErr: ErrTokenNotYetValid,
		},
		{
			name:    "wrong secret",
			secret:  "wrong-secret-that-is-long-enough-for-testing",
			now:     fixedTime,
			token:   token,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			secret:  testSecret,
			now:     fixedTime,
			token:   "not.a.token",
			wantErr: ErrInvalidToken,
		},
		{
			name:    "missing",
			secret:  testSecret,
			now:     fixedTime,
			token:   "",
			wantErr: ErrMissingToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			now := tt.now
			svc := newTestService(tt.secret, time.Hour, func() time.Time { return now })
			claims, err := svc.ValidateToken(context.Background(), tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "cli", claims.Subject)
		})
	}
}

func TestValidateToken_RejectsForeignIssuer(t *testing.T) {
	t.Parallel()

	now := time.Now()
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "cli",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := foreign.SignedString([]byte(testSecret))
	require.NoError(t, err)

	svc := newTestService(testSecret, time.Hour, time.Now)
	_, err = svc.ValidateToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
