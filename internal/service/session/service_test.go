package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wainbox/internal/auth"
	"wainbox/internal/model"
)

type testConfig struct {
	hash string
}

func (c testConfig) OperatorPasswordHash() string { return c.hash }
func (c testConfig) TokenTTL() time.Duration      { return time.Hour }

func TestCreateSession(t *testing.T) {
	assert := assert.New(t)

	hash, err := HashPassword("password")
	require.NoError(t, err)

	ring, err := auth.LoadKeyRing(filepath.Join(t.TempDir(), "signing-key.jwk"))
	require.NoError(t, err)

	issuedAt := time.Now()
	svc := New(testConfig{hash: hash}, ring)
	svc.now = func() time.Time { return issuedAt }

	t.Run("Valid password", func(t *testing.T) {
		session, err := svc.Create(&model.CreateSessionParams{Password: "password"})
		require.NoError(t, err)
		assert.Equal(issuedAt.Add(time.Hour).Unix(), session.ExpiresAt)

		claims, err := ring.Verify(session.Token)
		require.NoError(t, err)
		assert.Equal(auth.OperatorSubject, claims.Subject)
	})

	t.Run("Wrong password", func(t *testing.T) {
		_, err := svc.Create(&model.CreateSessionParams{Password: "guess"})
		assert.ErrorIs(err, model.ErrorInvalidPassword)
	})

	t.Run("Auth disabled", func(t *testing.T) {
		disabled := New(testConfig{}, ring)
		_, err := disabled.Create(&model.CreateSessionParams{Password: "password"})
		assert.ErrorIs(err, model.ErrorUnauthorized)
	})
}
