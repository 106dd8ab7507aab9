package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	doors "coldchain-cloud/internal/doors/domain"
)

func TestSaveRejectsOlderReading(t *testing.T) {
	repo := NewDoorStateRepository()
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	applied, err := repo.Save(ctx, &doors.DoorState{ColdCellID: "cell-1", State: doors.StateOpen, LastReadingAt: at})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.Save(ctx, &doors.DoorState{ColdCellID: "cell-1", State: doors.StateClosed, LastReadingAt: at})
	require.NoError(t, err)
	assert.False(t, applied)

	state, err := repo.Get(ctx, "cell-1")
	require.NoError(t, err)
	assert.Equal(t, doors.StateOpen, state.State)

	open, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
