package lowerthirds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, s *Subscription) State {
	t.Helper()
	select {
	case st := <-s.C:
		return st
	case <-time.After(time.Second):
		t.Fatal("no state received")
		return State{}
	}
}

func TestSubscribeReceivesCurrentState(t *testing.T) {
	h := NewHub(nil)
	h.Publish(UpNext("Bob", "Rain"))

	s := h.Subscribe()
	defer s.Close()
	st := recv(t, s)
	assert.Equal(t, KindNext, st.Type)
	assert.Equal(t, "Bob", st.Artist)
	assert.Empty(t, st.Writer)
}

func TestFreshHubIsNone(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe()
	defer s.Close()
	assert.Equal(t, KindNone, recv(t, s).Type)
}

func TestSlowSubscriberSeesLatestOnly(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe()
	defer s.Close()

	h.Publish(UpNext("A", "1"))
	h.Publish(Live("A", "1", "W", 3))
	h.Publish(UpNext("B", "2"))

	st := recv(t, s)
	assert.Equal(t, KindNext, st.Type)
	assert.Equal(t, "B", st.Artist)
	select {
	case extra := <-s.C:
		t.Fatalf("unexpected backlog: %+v", extra)
	default:
	}
}

func TestClearResetsToNone(t *testing.T) {
	h := NewHub(nil)
	h.Publish(Live("A", "1", "", 1))
	st := h.Publish(Clear())
	assert.Equal(t, KindNone, st.Type)
	assert.Equal(t, KindNone, h.Current().Type)
	assert.Empty(t, h.Current().Artist)
}

func TestSubscriberCount(t *testing.T) {
	var counts []int
	h := NewHub(func(n int) { counts = append(counts, n) })
	a := h.Subscribe()
	b := h.Subscribe()
	require.Equal(t, 2, h.Subscribers())
	a.Close()
	a.Close()
	b.Close()
	assert.Equal(t, 0, h.Subscribers())
	assert.Equal(t, []int{1, 2, 1, 0}, counts)

	h.Publish(UpNext("x", "y"))
	select {
	case <-b.C:
		t.Fatal("closed subscription should not receive")
	default:
	}
}
