package cloudinary

import (
	"net/url"
	"testing"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/config"
	"github.com/rajivgeraev/skillmates-api/internal/models"
)

func newTestService(t *testing.T) *CloudinaryService {
	t.Helper()
	s, err := NewCloudinaryService(&config.Config{CloudinaryConfig: config.CloudinaryConfig{
		CloudName:    "skillmates",
		APIKey:       "key",
		APISecret:    "secret",
		UploadFolder: "avatars",
	}})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestSignAvatarUpload(t *testing.T) {
	s := newTestService(t)

	params, err := s.SignAvatarUpload(models.Caller{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, "1700000000", params.Timestamp)
	assert.Equal(t, "avatars", params.Folder)
	assert.Equal(t, "user-1", params.PublicID)
	assert.True(t, params.Overwrite)
	assert.Equal(t, "key", params.APIKey)
	assert.Equal(t, "skillmates", params.CloudName)

	want, err := api.SignParameters(url.Values{
		"timestamp": {"1700000000"},
		"folder":    {"avatars"},
		"public_id": {"user-1"},
		"overwrite": {"true"},
	}, "secret")
	require.NoError(t, err)
	assert.Equal(t, want, params.Signature)

	assert.Contains(t, params.AvatarURL, "skillmates")
	assert.Contains(t, params.AvatarURL, "avatars/user-1")
	assert.Contains(t, params.AvatarURL, "g_face")
}

func TestSignAvatarUploadAnonymous(t *testing.T) {
	s := newTestService(t)

	_, err := s.SignAvatarUpload(models.Caller{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
