package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/zwily/faye-presence/internal/ierr"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)

	return tokenString
}

func TestAuthenticator_AuthenticateJWT(t *testing.T) {
	authenticator := NewAuthenticator("test-secret", []string{"test-api-key"})

	t.Run("valid jwt", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub":                "alice",
			"exp":                time.Now().Add(time.Hour).Unix(),
			"iat":                time.Now().Unix(),
			"aud":                "presence",
			"authorizedChannels": []string{"presence:room"},
		})

		authentication, err := authenticator.AuthenticateJWT(tokenString)

		assert.NoError(t, err)
		assert.NotNil(t, authentication)
		assert.Equal(t, "alice", authentication.Subject)
		assert.Equal(t, []string{"presence:room"}, authentication.AuthorizedChannels)
		assert.False(t, authentication.IsAdmin)
		assert.True(t, authentication.IsAuthorized("presence:room"))
		assert.False(t, authentication.IsAuthorized("presence:other"))
	})

	t.Run("invalid signature", func(t *testing.T) {
		tokenString := signToken(t, "invalid-secret", jwt.MapClaims{
			"sub":                "alice",
			"exp":                time.Now().Add(time.Hour).Unix(),
			"iat":                time.Now().Unix(),
			"aud":                "presence",
			"authorizedChannels": []string{"presence:room"},
		})

		authentication, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, authentication)
		assert.True(t, ierr.HasCode(err, ierr.ErrorCodeUnauthenticated))
	})

	t.Run("expired jwt", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub":                "alice",
			"exp":                time.Now().Add(-time.Hour).Unix(),
			"iat":                time.Now().Add(-2 * time.Hour).Unix(),
			"aud":                "presence",
			"authorizedChannels": []string{"presence:room"},
		})

		authentication, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, authentication)
		assert.True(t, ierr.HasCode(err, ierr.ErrorCodeUnauthenticated))
	})

	t.Run("missing subject", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"exp":                time.Now().Add(time.Hour).Unix(),
			"iat":                time.Now().Unix(),
			"aud":                "presence",
			"authorizedChannels": []string{"presence:room"},
		})

		authentication, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, authentication)
		assert.True(t, ierr.HasCode(err, ierr.ErrorCodeInvalidArgument))
	})

	t.Run("missing authorized channels", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
			"aud": "presence",
		})

		authentication, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, authentication)
		assert.True(t, ierr.HasCode(err, ierr.ErrorCodeInvalidArgument))
	})
}

func TestAuthenticator_AuthenticateAPIKey(t *testing.T) {
	authenticator := NewAuthenticator("test-secret", []string{"test-api-key"})

	t.Run("valid key", func(t *testing.T) {
		authentication, err := authenticator.AuthenticateAPIKey("test-api-key")

		assert.NoError(t, err)
		assert.True(t, authentication.IsAdmin)
		assert.True(t, authentication.IsAuthorized("presence:any-channel"))
	})

	t.Run("invalid key", func(t *testing.T) {
		authentication, err := authenticator.AuthenticateAPIKey("wrong-key")

		assert.Error(t, err)
		assert.Nil(t, authentication)
		assert.True(t, ierr.HasCode(err, ierr.ErrorCodeUnauthenticated))
	})
}
