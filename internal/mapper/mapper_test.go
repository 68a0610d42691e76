package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

func TestUserFromRowDefaults(t *testing.T) {
	u := UserFromRow(store.Row{"id": "u1", "name": "Анна", "email": "anna@example.com"})

	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, models.AvailabilityFlexible, u.Availability)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.Equal(t, []string{}, u.SkillsOffered)
	assert.Equal(t, []string{}, u.SkillsWanted)
	assert.True(t, u.IsPublic)
	assert.False(t, u.IsBanned)
	assert.Zero(t, u.Rating)
	assert.Zero(t, u.Reviews)
}

func TestUserFromRowCoercesBackendShapes(t *testing.T) {
	u := UserFromRow(store.Row{
		"id":             "u1",
		"availability":   "Weekends",
		"role":           "superuser",
		"rating":         "4.5",
		"reviews":        3.0,
		"is_public":      "false",
		"skills_offered": "{Go,\"Guitar\"}",
		"skills_wanted":  []any{"Piano", nil},
		"created_at":     "2024-05-01T10:00:00.123456+00:00",
	})

	assert.Equal(t, models.AvailabilityFlexible, u.Availability)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.Equal(t, 4.5, u.Rating)
	assert.Equal(t, 3, u.Reviews)
	assert.False(t, u.IsPublic)
	assert.Equal(t, []string{"Go", "Guitar"}, u.SkillsOffered)
	assert.Equal(t, []string{"Piano"}, u.SkillsWanted)
	assert.Equal(t, 2024, u.CreatedAt.Year())
}

func TestUserFromRowClampsRating(t *testing.T) {
	assert.Equal(t, 5.0, UserFromRow(store.Row{"rating": 7.0}).Rating)
	assert.Equal(t, 0.0, UserFromRow(store.Row{"rating": -1.0, "reviews": -2.0}).Rating)
	assert.Equal(t, 0, UserFromRow(store.Row{"reviews": -2.0}).Reviews)
}

func TestUserToRowKeepsOnlySetFields(t *testing.T) {
	name := "Борис"
	public := false
	row := UserToRow(models.UserPatch{
		Name:          &name,
		IsPublic:      &public,
		SkillsOffered: []string{"Go"},
	})

	assert.Equal(t, store.Row{
		"name":           "Борис",
		"is_public":      false,
		"skills_offered": []string{"Go"},
	}, row)
	assert.Empty(t, UserToRow(models.UserPatch{}))
}

func TestRequestFromRow(t *testing.T) {
	r := RequestFromRow(store.Row{
		"id":                 "r1",
		"from_user_id":       "u1",
		"to_user_id":         "u2",
		"status":             "unknown",
		"rating_from_sender": 4.0,
	})

	assert.Equal(t, models.StatusPending, r.Status)
	require.NotNil(t, r.RatingFromSender)
	assert.Equal(t, 4, *r.RatingFromSender)
	assert.Nil(t, r.RatingFromRecipient)
}

func TestRequestToRow(t *testing.T) {
	status := models.StatusAccepted
	rating := 5
	row := RequestToRow(models.RequestPatch{Status: &status, RatingFromRecipient: &rating})
	assert.Equal(t, store.Row{"status": "accepted", "rating_from_recipient": 5}, row)
}

func TestThreadRoundTripKeepsParticipants(t *testing.T) {
	row := ThreadToRow(models.ChatThread{RequestID: "r1", ParticipantUserIDs: []string{"u1", "u2"}})
	assert.NotContains(t, row, "id")
	assert.NotContains(t, row, "is_completed")

	th := ThreadFromRow(store.Row{
		"id":                   "t1",
		"request_id":           "r1",
		"participant_user_ids": []any{"u1", "u2"},
		"completed_user_ids":   nil,
	})
	assert.Equal(t, []string{"u1", "u2"}, th.ParticipantUserIDs)
	assert.Equal(t, []string{}, th.CompletedUserIDs)
	assert.False(t, th.IsCompleted)
}

func TestAnnouncementMapping(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	row := AnnouncementToRow(models.Announcement{Message: "Плановые работы", ExpiresAt: &expires})
	assert.Equal(t, expires.UTC(), row["expires_at"])
	assert.Equal(t, false, row["is_active"])

	a := AnnouncementFromRow(store.Row{"id": "a1", "message": "Привет", "type": "banner"})
	assert.Equal(t, models.AnnouncementInfo, a.Type)
	assert.True(t, a.IsActive)
	assert.Nil(t, a.ExpiresAt)
}
