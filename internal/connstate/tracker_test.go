package connstate_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/creatorlens/channellink/errors"
	"github.com/creatorlens/channellink/internal/connstate"
)

func TestTracker_ConnectSingleFlight(t *testing.T) {
	tr := connstate.NewTracker()
	defer tr.Stop()

	assert.False(t, tr.IsConnecting("u1"))

	require.NoError(t, tr.MarkConnecting("u1"))
	assert.True(t, tr.IsConnecting("u1"))

	err := tr.MarkConnecting("u1")
	require.ErrorIs(t, err, apperrors.ErrAlreadyConnecting)

	// Different user is unaffected.
	require.NoError(t, tr.MarkConnecting("u2"))

	tr.Clear("u1")
	assert.False(t, tr.IsConnecting("u1"))
	require.NoError(t, tr.MarkConnecting("u1"))
}

func TestTracker_ClearIsIdempotent(t *testing.T) {
	tr := connstate.NewTracker()
	defer tr.Stop()

	tr.Clear("never-marked")
	require.NoError(t, tr.MarkConnecting("u1"))
	tr.Clear("u1")
	tr.Clear("u1")
	assert.False(t, tr.IsConnecting("u1"))
}

func TestTracker_ConcurrentClaims_ExactlyOneWins(t *testing.T) {
	tr := connstate.NewTracker()
	defer tr.Stop()

	const claimers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.MarkConnecting("u1") == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestTracker_RefreshSingleFlight(t *testing.T) {
	tr := connstate.NewTracker()
	defer tr.Stop()

	require.NoError(t, tr.BeginRefresh("conn-1"))
	require.ErrorIs(t, tr.BeginRefresh("conn-1"), apperrors.ErrRefreshInFlight)

	// Independent connections refresh independently.
	require.NoError(t, tr.BeginRefresh("conn-2"))

	tr.EndRefresh("conn-1")
	require.NoError(t, tr.BeginRefresh("conn-1"))
}
