package oauthflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowork/internal/api"
)

func TestChallengeStore_PutGetRemove(t *testing.T) {
	s := NewChallengeStore()
	defer s.Stop()

	s.Put(&Challenge{ID: "ch-1", ServerName: "a", Scope: api.ScopeUser})

	got, ok := s.Get("ch-1")
	require.True(t, ok)
	assert.Equal(t, "a", got.ServerName)

	s.Remove("ch-1")
	_, ok = s.Get("ch-1")
	assert.False(t, ok)
}

func TestChallengeStore_RemoveClosesListener(t *testing.T) {
	s := NewChallengeStore()
	defer s.Stop()

	l, err := NewCallbackListener("st")
	require.NoError(t, err)
	s.Put(&Challenge{ID: "ch-1", Listener: l})

	s.Remove("ch-1")
	// Close is idempotent, so this only verifies no panic after removal.
	l.Close()
}

func TestChallengeStore_SweepDropsExpired(t *testing.T) {
	s := NewChallengeStore()
	defer s.Stop()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Put(&Challenge{ID: "live", ExpiresAt: now.Add(5 * time.Minute)})
	s.Put(&Challenge{ID: "dead", ExpiresAt: now.Add(-time.Second)})

	s.sweep()

	_, ok := s.Get("live")
	assert.True(t, ok)
	_, ok = s.Get("dead")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestChallengeStore_StopClearsEverything(t *testing.T) {
	s := NewChallengeStore()
	s.Put(&Challenge{ID: "ch-1"})
	s.Stop()
	assert.Equal(t, 0, s.Len())
	// Stop twice must not panic.
	s.Stop()
}
