package progress

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/sqlite"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	return Event{}
}

func TestHubFiltersByOwner(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()

	mine, unsubMine := hub.Subscribe("owner-1")
	defer unsubMine()

	theirs, unsubTheirs := hub.Subscribe("owner-2")
	defer unsubTheirs()

	require.NoError(t, hub.Publish(ctx, Event{TaskID: "t1", OwnerID: "owner-1", Status: models.StatusRunning}))

	ev := receive(t, mine)
	assert.Equal(t, "t1", ev.TaskID)

	select {
	case ev := <-theirs:
		t.Fatalf("unexpected event for other owner: %+v", ev)
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(nil)

	ch, unsub := hub.Subscribe("owner-1")
	assert.Equal(t, 1, hub.Subscribers("owner-1"))

	unsub()
	unsub()

	assert.Equal(t, 0, hub.Subscribers("owner-1"))

	_, open := <-ch
	assert.False(t, open)

	assert.NotPanics(t, func() {
		_ = hub.Publish(context.Background(), Event{OwnerID: "owner-1"})
	})
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)

	ch, unsub := hub.Subscribe("owner-1")
	defer unsub()

	for i := 0; i < defaultBuffer+10; i++ {
		require.NoError(t, hub.Publish(context.Background(), Event{OwnerID: "owner-1"}))
	}

	assert.Len(t, ch, defaultBuffer)
}

func TestNotifyingStorePublishesWrites(t *testing.T) {
	base, err := sqlite.New(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)

	defer base.Close()

	hub := NewHub(nil)
	store := NewNotifyingStore(base, hub, nil)
	ctx := context.Background()

	events, unsub := hub.Subscribe("owner-1")
	defer unsub()

	task := models.NewTask(uuid.New().String(), "owner-1", models.KindDirectURL, "https://acme.io")
	require.NoError(t, store.Create(ctx, &task))
	assert.Equal(t, models.StatusPending, receive(t, events).Status)

	ok, err := store.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusRunning, receive(t, events).Status)

	require.NoError(t, store.UpdateProgress(ctx, task.ID, "scraping", 1, 4, "scraped"))

	ev := receive(t, events)
	assert.Equal(t, "scraping", ev.Stage)
	assert.Equal(t, 1, ev.Progress.Current)

	// a lost claim is not an event
	ok, err = store.Claim(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Complete(ctx, task.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, receive(t, events).Status)

	assert.Error(t, store.Fail(ctx, task.ID, "late"))
	assert.Len(t, events, 0)
}
