package conflict

import (
	"testing"
	"time"

	"studiosync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timed(id, date, start, end string, private bool) models.Booking {
	return models.Booking{
		ID:        id,
		ShootDate: date,
		StartTime: &start,
		EndTime:   &end,
		IsPrivate: private,
		Status:    models.StatusConfirmed,
	}
}

func TestEvaluateUntimedNeverConflicts(t *testing.T) {
	candidate := models.Booking{ID: "c1", ShootDate: "2025-06-01"}
	existing := []models.Booking{
		timed("b1", "2025-06-01", "00:00", "23:59", true),
	}

	res := Evaluate(candidate, existing)
	assert.Equal(t, SeverityNone, res.Severity)
	assert.True(t, res.CanSave)
	assert.Empty(t, res.Conflicting)
}

func TestEvaluateDifferentDatesNeverConflict(t *testing.T) {
	candidate := timed("c1", "2025-06-01", "10:00", "11:00", false)
	existing := []models.Booking{
		timed("b1", "2025-06-02", "10:00", "11:00", false),
		timed("b2", "2025-05-31", "10:00", "11:00", true),
	}

	res := Evaluate(candidate, existing)
	assert.Equal(t, SeverityNone, res.Severity)
	assert.True(t, res.CanSave)
}

func TestEvaluatePlainOverlapIsWarning(t *testing.T) {
	candidate := timed("c1", "2025-06-01", "10:00", "11:00", false)
	existing := []models.Booking{
		timed("b1", "2025-06-01", "10:30", "11:30", false),
		timed("b2", "2025-06-01", "09:30", "10:15", false),
	}

	res := Evaluate(candidate, existing)
	assert.Equal(t, SeverityWarning, res.Severity)
	assert.True(t, res.CanSave)
	require.Len(t, res.Conflicting, 2)
	assert.Contains(t, res.Message, "2")
}

func TestEvaluatePrivateCandidateBlocksSave(t *testing.T) {
	candidate := timed("c1", "2025-06-01", "10:00", "11:00", true)
	existing := []models.Booking{
		timed("b1", "2025-06-01", "10:30", "11:30", false),
	}

	res := Evaluate(candidate, existing)
	assert.Equal(t, SeverityError, res.Severity)
	assert.False(t, res.CanSave)
	require.Len(t, res.Conflicting, 1)
	assert.Equal(t, "b1", res.Conflicting[0].ID)
}

func TestEvaluatePrivateExistingBlocksSave(t *testing.T) {
	candidate := timed("c1", "2025-06-01", "10:00", "12:00", false)
	existing := []models.Booking{
		timed("b1", "2025-06-01", "10:30", "11:00", true),
		timed("b2", "2025-06-01", "11:00", "11:30", false),
	}

	res := Evaluate(candidate, existing)
	assert.Equal(t, SeverityError, res.Severity)
	assert.False(t, res.CanSave)
	// Only the private overlaps are reported in this branch.
	require.Len(t, res.Conflicting, 1)
	assert.Equal(t, "b1", res.Conflicting[0].ID)
}

func TestEvaluateTouchingSlotsDoNotOverlap(t *testing.T) {
	candidate := timed("c1", "2025-06-01", "10:00", "11:00", true)
	existing := []models.Booking{
		timed("b1", "2025-06-01", "11:00", "12:00", false),
		timed("b2", "2025-06-01", "09:00", "10:00", false),
	}

	res := Evaluate(candidate, existing)
	assert.Equal(t, SeverityNone, res.Severity)
	assert.True(t, res.CanSave)
}

func TestEvaluateSkipsDeletedAndSelf(t *testing.T) {
	now := time.Now()
	deleted := timed("b1", "2025-06-01", "10:00", "11:00", true)
	deleted.DeletedAt = &now
	self := timed("c1", "2025-06-01", "10:00", "11:00", false)

	candidate := timed("c1", "2025-06-01", "10:00", "11:00", false)
	res := Evaluate(candidate, []models.Booking{deleted, self})
	assert.Equal(t, SeverityNone, res.Severity)
	assert.True(t, res.CanSave)
}

func TestEvaluateUntimedExistingIgnored(t *testing.T) {
	candidate := timed("c1", "2025-06-01", "10:00", "11:00", true)
	existing := []models.Booking{
		{ID: "b1", ShootDate: "2025-06-01"},
	}

	res := Evaluate(candidate, existing)
	assert.Equal(t, SeverityNone, res.Severity)
}

func TestEvaluateUnparsableTimesTreatedAsUntimed(t *testing.T) {
	// Garbage times never reach Evaluate through the service, but the
	// function is exported: they must degrade to the untimed case, not
	// panic or fabricate overlaps.
	candidate := timed("c1", "2025-06-01", "25:00", "26:00", true)
	existing := []models.Booking{
		timed("b1", "2025-06-01", "00:00", "23:59", false),
	}

	res := Evaluate(candidate, existing)
	assert.Equal(t, SeverityNone, res.Severity)
	assert.True(t, res.CanSave)

	// An existing booking with garbage times is likewise skipped.
	candidate = timed("c1", "2025-06-01", "10:00", "11:00", true)
	existing = []models.Booking{
		timed("b1", "2025-06-01", "garbage", "11:30", false),
	}
	res = Evaluate(candidate, existing)
	assert.Equal(t, SeverityNone, res.Severity)
}

func TestParseMinutes(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"10:30", 630, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"10:60", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := parseMinutes(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
