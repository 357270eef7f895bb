package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/progress"
	"github.com/Vector/vector-leads-pipeline/testcontainers"
)

func TestRepositoryAgainstPostgres(t *testing.T) {
	env := testcontainers.Start(t)
	ctx := env.Context()

	require.NoError(t, Migrate(ctx, env.DB))
	// twice, the schema is idempotent
	require.NoError(t, Migrate(ctx, env.DB))

	repo := NewRepository(env.DB)

	hub := progress.NewHub(nil)
	events, unsub := hub.Subscribe("owner-1")

	defer unsub()

	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()

	listenerDone := make(chan struct{})

	go func() {
		defer close(listenerDone)

		_ = NewListener(env.DB, hub, nil).Run(listenCtx)
	}()

	// give LISTEN a moment before the first write
	time.Sleep(500 * time.Millisecond)

	t.Run("claim is exclusive", func(t *testing.T) {
		task := models.NewTask(uuid.New().String(), "owner-1", models.KindDirectURL, "https://acme.io")
		require.NoError(t, repo.Create(ctx, &task))

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)

		for i := 0; i < 10; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				ok, err := repo.Claim(ctx, task.ID)
				assert.NoError(t, err)

				if ok {
					wins.Add(1)
				}
			}()
		}

		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("contacts are unique per owner", func(t *testing.T) {
		first := models.NewTask(uuid.New().String(), "owner-1", models.KindDirectURL, "https://acme.io")
		second := models.NewTask(uuid.New().String(), "owner-1", models.KindDirectURL, "https://acme.io")

		for _, task := range []*models.Task{&first, &second} {
			require.NoError(t, repo.Create(ctx, task))

			ok, err := repo.Claim(ctx, task.ID)
			require.NoError(t, err)
			require.True(t, ok)
		}

		res, err := repo.Complete(ctx, first.ID, []models.Candidate{{Name: "Acme", Email: "hello@acme.io"}})
		require.NoError(t, err)
		assert.Equal(t, models.CompleteResult{Inserted: 1}, res)

		res, err = repo.Complete(ctx, second.ID, []models.Candidate{
			{Name: "Acme", Email: "HELLO@acme.io"},
			{Name: "Beta", Email: "team@beta.io"},
		})
		require.NoError(t, err)
		assert.Equal(t, models.CompleteResult{Inserted: 1, AlreadyExisted: 1}, res)

		got, err := repo.Get(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, "saved 1 new contacts (1 already existed)", got.Progress.Message)

		existing, err := repo.ExistingEmails(ctx, "owner-1", []string{"hello@acme.io", "nobody@acme.io"})
		require.NoError(t, err)
		assert.Equal(t, []string{"hello@acme.io"}, existing)
	})

	t.Run("stuck tasks are listed", func(t *testing.T) {
		task := models.NewTask(uuid.New().String(), "owner-1", models.KindDirectURL, "https://stuck.io")
		require.NoError(t, repo.Create(ctx, &task))

		ok, err := repo.Claim(ctx, task.ID)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = env.DB.Exec(ctx, `UPDATE tasks SET updated_at = now() - interval '1 hour' WHERE id = $1`, task.ID)
		require.NoError(t, err)

		stuck, err := repo.ListStuck(ctx, 10*time.Minute, 10)
		require.NoError(t, err)

		ids := make([]string, 0, len(stuck))
		for _, s := range stuck {
			ids = append(ids, s.ID)
		}

		assert.Contains(t, ids, task.ID)

		n, err := repo.ResetToPending(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("row changes are pushed", func(t *testing.T) {
		deadline := time.After(5 * time.Second)

		for {
			select {
			case ev := <-events:
				if ev.Status == models.StatusCompleted {
					assert.Equal(t, "owner-1", ev.OwnerID)
					return
				}
			case <-deadline:
				t.Fatal("no completed event received")
			}
		}
	})

	t.Run("listening session is not returned to the pool", func(t *testing.T) {
		stopListener()
		<-listenerDone

		for _, conn := range env.DB.AcquireAllIdle(ctx) {
			var channels int

			err := conn.QueryRow(ctx, `SELECT count(*) FROM pg_listening_channels()`).Scan(&channels)
			conn.Release()

			require.NoError(t, err)
			assert.Zero(t, channels)
		}
	})
}
