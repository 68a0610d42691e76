package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubDeliversMatchingInserts(t *testing.T) {
	h := NewHub()

	var got []Row
	sub := h.Subscribe(SwapRequests, Where("to_user_id", "u1"), func(r Row) {
		got = append(got, r)
	})

	h.Publish(SwapRequests, Row{"id": "r1", "to_user_id": "u1"})
	h.Publish(SwapRequests, Row{"id": "r2", "to_user_id": "u2"})
	h.Publish(ChatMessages, Row{"id": "m1", "to_user_id": "u1"})

	assert.Len(t, got, 1)
	assert.Equal(t, "r1", got[0]["id"])

	assert.Equal(t, 1, h.Count())

	sub.Unsubscribe()
	sub.Unsubscribe()
	h.Publish(SwapRequests, Row{"id": "r3", "to_user_id": "u1"})
	assert.Len(t, got, 1)
	assert.Equal(t, 0, h.Count())
	assert.False(t, h.Has(SwapRequests))
}

func TestHubSurvivesPanickingSubscriber(t *testing.T) {
	h := NewHub()
	delivered := 0
	h.Subscribe(ChatMessages, All(), func(Row) { panic("сбой") })
	h.Subscribe(ChatMessages, All(), func(Row) { delivered++ })

	assert.NotPanics(t, func() {
		h.Publish(ChatMessages, Row{"id": "m1"})
	})
	assert.Equal(t, 1, delivered)
}
