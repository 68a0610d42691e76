package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	row := Row{
		"id":                   "t1",
		"rating":               4.0,
		"is_active":            true,
		"rating_from_sender":   nil,
		"participant_user_ids": []any{"u1", "u2"},
	}

	assert.True(t, Match(row, All()))
	assert.True(t, Match(row, Where("id", "t1")))
	assert.False(t, Match(row, Where("id", "t2")))
	assert.True(t, Match(row, Where("rating", 4)), "числа сравниваются как float64")
	assert.True(t, Match(row, Where("is_active", true)))
	assert.True(t, Match(row, All().IsNull("rating_from_sender")))
	assert.True(t, Match(row, All().IsNull("feedback_from_sender")), "отсутствующая колонка считается NULL")
	assert.False(t, Match(row, All().IsNull("rating")))
	assert.True(t, Match(row, All().Contains("participant_user_ids", "u2")))
	assert.False(t, Match(row, All().Contains("participant_user_ids", "u3")))
	assert.False(t, Match(row, Where("missing", "x")))
}

func TestSameValueArrays(t *testing.T) {
	assert.True(t, SameValue([]any{"a", "b"}, []string{"a", "b"}))
	assert.False(t, SameValue([]any{"a"}, []string{"a", "b"}))
	assert.False(t, SameValue(nil, ""))
	assert.True(t, SameValue(nil, nil))
}

func TestSortAndPaginate(t *testing.T) {
	rows := []Row{
		{"id": "a", "created_at": "2024-01-01T00:00:00Z"},
		{"id": "b", "created_at": "2024-03-01T00:00:00Z"},
		{"id": "c", "created_at": nil},
		{"id": "d", "created_at": "2024-02-01T00:00:00Z"},
	}

	Sort(rows, []Order{{Column: "created_at", Desc: true}})
	ids := func(rs []Row) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r["id"].(string))
		}
		return out
	}
	// NULL в конце и при обратной сортировке
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(rows))

	Sort(rows, []Order{{Column: "created_at"}})
	assert.Equal(t, []string{"a", "d", "b", "c"}, ids(rows))

	assert.Equal(t, []string{"b", "c"}, ids(Paginate(rows, 2, 2)))
	assert.Empty(t, Paginate(rows, 10, 4))
	assert.Len(t, Paginate(rows, 0, 0), 4)
}

func TestFilterBuildersDoNotShareState(t *testing.T) {
	base := Where("to_user_id", "u1")
	a := base.Eq("status", "pending")
	b := base.Eq("status", "accepted")

	assert.Len(t, base.Conditions, 1)
	assert.Equal(t, "pending", a.Conditions[1].Value)
	assert.Equal(t, "accepted", b.Conditions[1].Value)
}
