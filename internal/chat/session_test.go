package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_Join_One_Participant(t *testing.T) {
	req := require.New(t)
	registry := NewSessionRegistry()
	now := time.Now()

	session, err := registry.Join("c1", "  alice ", now)

	req.NoError(err)
	req.Equal(ConnID("c1"), session.ConnID)
	req.Equal("alice", session.Name)
	req.Equal(now, session.JoinedAt)
	req.Equal([]string{"alice"}, registry.Snapshot())

	found, ok := registry.Find("c1")
	req.True(ok)
	req.Equal(session, found)
	byName, ok := registry.FindByName("alice")
	req.True(ok)
	req.Equal(ConnID("c1"), byName.ConnID)
}

func TestSessionRegistry_Join_NameTaken_DoesNotMutate(t *testing.T) {
	req := require.New(t)
	registry := NewSessionRegistry()
	_, err := registry.Join("c1", "alice", time.Now())
	req.NoError(err)

	_, err = registry.Join("c2", "alice", time.Now())

	req.ErrorIs(err, ErrNameTaken)
	req.Equal([]string{"alice"}, registry.Snapshot())
	_, ok := registry.Find("c2")
	req.False(ok)
}

func TestSessionRegistry_Join_IsCaseSensitive(t *testing.T) {
	registry := NewSessionRegistry()
	_, err := registry.Join("c1", "alice", time.Now())
	require.NoError(t, err)

	_, err = registry.Join("c2", "Alice", time.Now())

	require.NoError(t, err)
	require.Equal(t, []string{"alice", "Alice"}, registry.Snapshot())
}

func TestSessionRegistry_Join_InvalidNames(t *testing.T) {
	registry := NewSessionRegistry()

	for _, name := range []string{"", " ", "\t\n", "abcdefghijklmnopqrstu"} {
		_, err := registry.Join("c1", name, time.Now())
		require.ErrorIs(t, err, ErrNameInvalid, "name %q", name)
	}
	require.Zero(t, registry.Len())

	// Exactly MaxNameLength characters is fine, multi-byte included
	_, err := registry.Join("c1", "ééééééééééééééééééé€", time.Now())
	require.NoError(t, err)
}

func TestSessionRegistry_Join_AlreadyJoined(t *testing.T) {
	registry := NewSessionRegistry()
	_, err := registry.Join("c1", "alice", time.Now())
	require.NoError(t, err)

	_, err = registry.Join("c1", "bob", time.Now())

	require.ErrorIs(t, err, ErrAlreadyJoined)
	require.Equal(t, []string{"alice"}, registry.Snapshot())
}

func TestSessionRegistry_Leave(t *testing.T) {
	req := require.New(t)
	registry := NewSessionRegistry()
	_, err := registry.Join("c1", "alice", time.Now())
	req.NoError(err)

	session, ok := registry.Leave("c1")
	req.True(ok)
	req.Equal("alice", session.Name)
	req.Empty(registry.Snapshot())

	// Leaving again is a no-op
	_, ok = registry.Leave("c1")
	req.False(ok)
	_, ok = registry.FindByName("alice")
	req.False(ok)

	// The name can be reused
	_, err = registry.Join("c2", "alice", time.Now())
	req.NoError(err)
}

// TestSessionRegistry_Snapshot_TracksJoinsMinusLeaves walks a sequence of
// joins and leaves and checks the roster size and uniqueness after each step.
func TestSessionRegistry_Snapshot_TracksJoinsMinusLeaves(t *testing.T) {
	registry := NewSessionRegistry()
	active := 0

	for i := 0; i < 50; i++ {
		_, err := registry.Join(ConnID(fmt.Sprintf("c%d", i)), fmt.Sprintf("user%d", i), time.Now())
		require.NoError(t, err)
		active++

		if i%3 == 0 {
			_, ok := registry.Leave(ConnID(fmt.Sprintf("c%d", i/2)))
			if ok {
				active--
			}
		}

		snapshot := registry.Snapshot()
		require.Len(t, snapshot, active)
		require.ElementsMatch(t, snapshot, uniq(snapshot))
	}
}

func TestSessionRegistry_Snapshot_JoinOrder(t *testing.T) {
	registry := NewSessionRegistry()
	for i, name := range []string{"zoe", "adam", "mia"} {
		_, err := registry.Join(ConnID(fmt.Sprint(i)), name, time.Now())
		require.NoError(t, err)
	}

	require.Equal(t, []string{"zoe", "adam", "mia"}, registry.Snapshot())
}
