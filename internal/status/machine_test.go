package status

import (
	"testing"

	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.Status
		to   models.Status
		want bool
	}{
		{"open to accepted", models.StatusOpen, models.StatusAccepted, true},
		{"open to closed", models.StatusOpen, models.StatusClosed, true},
		{"open to attending skips accepted", models.StatusOpen, models.StatusAttending, false},
		{"accepted to attending", models.StatusAccepted, models.StatusAttending, true},
		{"accepted to closed", models.StatusAccepted, models.StatusClosed, true},
		{"attending to closed", models.StatusAttending, models.StatusClosed, true},
		{"accepted back to open", models.StatusAccepted, models.StatusOpen, false},
		{"closed is terminal", models.StatusClosed, models.StatusClosed, false},
		{"closed to open", models.StatusClosed, models.StatusOpen, false},
		{"same status", models.StatusOpen, models.StatusOpen, false},
		{"unknown target", models.StatusOpen, models.Status("PENDENTE"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidate_ReturnsValidationError(t *testing.T) {
	err := Validate(models.StatusClosed, models.StatusAccepted)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	err = Validate(models.StatusOpen, "BOGUS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")

	assert.NoError(t, Validate(models.StatusOpen, models.StatusAccepted))
}

func TestIsChatActive(t *testing.T) {
	assert.True(t, IsChatActive(models.StatusOpen))
	assert.True(t, IsChatActive(models.StatusAccepted))
	assert.False(t, IsChatActive(models.StatusAttending))
	assert.False(t, IsChatActive(models.StatusClosed))
}

func TestTracker_Monotonic(t *testing.T) {
	tr := NewTracker()
	var seen []models.Status
	tr.OnChange(func(_ string, _, to models.Status) { seen = append(seen, to) })

	assert.True(t, tr.Observe("i1", models.StatusOpen))
	assert.True(t, tr.Observe("i1", models.StatusAttending)) // пропуск промежуточного статуса
	assert.False(t, tr.Observe("i1", models.StatusAccepted))
	assert.False(t, tr.Observe("i1", models.StatusAttending))
	assert.True(t, tr.Observe("i1", models.StatusClosed))
	assert.False(t, tr.Observe("i1", models.StatusOpen))

	assert.Equal(t, []models.Status{models.StatusOpen, models.StatusAttending, models.StatusClosed}, seen)
	s, ok := tr.Get("i1")
	require.True(t, ok)
	assert.Equal(t, models.StatusClosed, s)
}

func TestTracker_ClosedFiresOnce(t *testing.T) {
	tr := NewTracker()
	closed := 0
	tr.OnClosed(func(id string) {
		assert.Equal(t, "i2", id)
		closed++
	})

	tr.Observe("i2", models.StatusOpen)
	tr.Observe("i2", models.StatusClosed)
	tr.Observe("i2", models.StatusClosed)

	assert.Equal(t, 1, closed)
	assert.False(t, tr.ChatActive("i2"))
}

func TestTracker_UnknownIsNotChatActive(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.ChatActive("missing"))
	tr.Observe("x", models.StatusAccepted)
	assert.True(t, tr.ChatActive("x"))
}
