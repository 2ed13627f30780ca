package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weintegritywork/weintegrity-ppm/internal/models"
)

func TestHubJoinLeave(t *testing.T) {
	h := NewHub(4, discard)
	key := RoomKey{Kind: models.ChatStory, SubjectID: "s1"}
	a := h.Join(key)
	b := h.Join(key)
	assert.Equal(t, 2, h.Subscribers(key))
	assert.Equal(t, "chat_story_s1", key.String())

	h.Leave(a)
	h.Leave(a)
	assert.Equal(t, 1, h.Subscribers(key))
	_, open := <-a.Events()
	assert.False(t, open)

	assert.Equal(t, 1, h.Broadcast(key, Event{Type: EventMessage}))
	h.Leave(b)
	assert.Equal(t, 0, h.Subscribers(key))
	assert.Equal(t, 0, h.Broadcast(key, Event{Type: EventMessage}))
}

func TestHubEvictsLaggingSubscriber(t *testing.T) {
	h := NewHub(1, discard)
	key := RoomKey{Kind: models.ChatProject, SubjectID: "p1"}
	slow := h.Join(key)

	assert.Equal(t, 1, h.Broadcast(key, Event{Type: EventMessage}))
	assert.Equal(t, 0, h.Broadcast(key, Event{Type: EventMessage}))
	assert.Equal(t, 0, h.Subscribers(key))

	// the buffered event is still readable, then the channel is closed
	_, ok := <-slow.Events()
	assert.True(t, ok)
	_, ok = <-slow.Events()
	assert.False(t, ok)
	assert.False(t, h.Direct(slow, Event{Type: EventError}))
}

func TestHubDirectOnlyReachesTarget(t *testing.T) {
	h := NewHub(4, discard)
	key := RoomKey{Kind: models.ChatStory, SubjectID: "s1"}
	a := h.Join(key)
	b := h.Join(key)
	require.True(t, h.Direct(a, Event{Type: EventError, Error: "bad"}))
	ev := <-a.Events()
	assert.Equal(t, "bad", ev.Error)
	select {
	case <-b.Events():
		t.Fatal("direct event leaked")
	default:
	}
}

// Join, Leave and Broadcast race freely; run with -race.
func TestHubConcurrentChurn(t *testing.T) {
	h := NewHub(2, discard)
	key := RoomKey{Kind: models.ChatStory, SubjectID: "hot"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := h.Join(key)
				go func() {
					for range sub.Events() {
					}
				}()
				h.Leave(sub)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Broadcast(key, Event{Type: EventMessage})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers(key))
}
