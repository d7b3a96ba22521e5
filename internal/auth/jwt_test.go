package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	j := JWTer{SecretKey: "s3cr3t"}
	tok, err := j.CreateJWT("user-1", models.RoleResponder, time.Hour)
	require.NoError(t, err)

	id, err := j.Authenticate("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, models.RoleResponder, id.Role)
	assert.Equal(t, tok, id.Token)
	assert.True(t, id.ReceivesOffers())
}

func TestJWT_Rejections(t *testing.T) {
	j := JWTer{SecretKey: "s3cr3t"}

	_, err := j.Authenticate("")
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))

	other, err := JWTer{SecretKey: "other"}.CreateJWT("user-1", models.RoleReporter, time.Hour)
	require.NoError(t, err)
	_, err = j.Authenticate(other)
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))

	expired, err := j.CreateJWT("user-1", models.RoleReporter, -time.Minute)
	require.NoError(t, err)
	_, err = j.Authenticate(expired)
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))

	badRole, err := j.CreateJWT("user-1", models.Role("admin"), time.Hour)
	require.NoError(t, err)
	_, err = j.Authenticate(badRole)
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))
}
