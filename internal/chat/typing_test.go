package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypingState_StartStop(t *testing.T) {
	req := require.New(t)
	typing := NewTypingState()
	now := time.Now()

	typing.Start("bob", now)
	typing.Start("alice", now)
	req.Equal([]string{"alice", "bob"}, typing.Names())

	req.True(typing.Stop("alice"))
	req.False(typing.Stop("alice"))
	req.Equal([]string{"bob"}, typing.Names())
}

func TestTypingState_Expire(t *testing.T) {
	req := require.New(t)
	typing := NewTypingState()
	start := time.Now()

	typing.Start("alice", start)
	typing.Start("bob", start.Add(2*time.Second))
	typing.Start("carol", start.Add(500*time.Millisecond))

	expired := typing.Expire(start.Add(3*time.Second), 2*time.Second)

	req.Equal([]string{"alice", "carol"}, expired)
	req.Equal([]string{"bob"}, typing.Names())
	req.Empty(typing.Expire(start.Add(3*time.Second), 2*time.Second))
}

func TestTypingState_RestartRefreshes(t *testing.T) {
	typing := NewTypingState()
	start := time.Now()

	typing.Start("alice", start)
	typing.Start("alice", start.Add(time.Second))

	require.Empty(t, typing.Expire(start.Add(1500*time.Millisecond), time.Second))
	require.Equal(t, []string{"alice"}, typing.Expire(start.Add(2*time.Second), time.Second))
}
