package deduper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-pipeline/models"
)

type fakeIndex struct {
	mu      sync.Mutex
	stored  map[string]map[string]bool
	batches []int
	err     error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{stored: make(map[string]map[string]bool)}
}

func (f *fakeIndex) add(ownerID string, emails ...string) {
	if f.stored[ownerID] == nil {
		f.stored[ownerID] = make(map[string]bool)
	}

	for _, e := range emails {
		f.stored[ownerID][models.NormalizeEmail(e)] = true
	}
}

func (f *fakeIndex) ExistingEmails(_ context.Context, ownerID string, normalized []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, len(normalized))

	if f.err != nil {
		return nil, f.err
	}

	var ans []string

	for _, e := range normalized {
		if f.stored[ownerID][e] {
			ans = append(ans, e)
		}
	}

	return ans, nil
}

func emails(cs []models.Candidate) []string {
	ans := make([]string, 0, len(cs))
	for _, c := range cs {
		ans = append(ans, c.PrimaryEmail())
	}

	return ans
}

func TestFilterNewDropsStoredAndRepeated(t *testing.T) {
	index := newFakeIndex()
	index.add("owner-1", "known@acme.io")
	index.add("owner-2", "fresh@acme.io")

	engine := NewEngine(index, 0)

	res, err := engine.FilterNew(context.Background(), "owner-1", []models.Candidate{
		{Name: "a", Email: "fresh@acme.io"},
		{Name: "b", Email: " KNOWN@acme.io "},
		{Name: "c", Email: "Fresh@Acme.io"},
		{Name: "d"},
		{Name: "e", Emails: []string{"", "other@acme.io"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh@acme.io", "other@acme.io"}, emails(res.Unique))
	assert.Equal(t, "a", res.Unique[0].Name)
	assert.Equal(t, 2, res.DuplicateCount)
}

func TestFilterNewIsIdempotent(t *testing.T) {
	index := newFakeIndex()
	engine := NewEngine(index, 0)
	ctx := context.Background()

	in := []models.Candidate{{Email: "a@a.io"}, {Email: "b@b.io"}}

	first, err := engine.FilterNew(ctx, "owner-1", in)
	require.NoError(t, err)
	require.Len(t, first.Unique, 2)

	index.add("owner-1", emails(first.Unique)...)

	second, err := engine.FilterNew(ctx, "owner-1", in)
	require.NoError(t, err)
	assert.Empty(t, second.Unique)
	assert.Equal(t, 2, second.DuplicateCount)
}

func TestFilterNewBatchesLookups(t *testing.T) {
	index := newFakeIndex()
	engine := NewEngine(index, DefaultBatchSize)

	in := make([]models.Candidate, 2500)
	for i := range in {
		in[i] = models.Candidate{Email: fmt.Sprintf("user%d@acme.io", i)}
	}

	index.add("owner-1", "user1999@acme.io", "user2499@acme.io")

	res, err := engine.FilterNew(context.Background(), "owner-1", in)
	require.NoError(t, err)

	assert.Equal(t, []int{1000, 1000, 500}, index.batches)
	assert.Len(t, res.Unique, 2498)
	assert.Equal(t, 2, res.DuplicateCount)
	assert.Equal(t, "user0@acme.io", res.Unique[0].Email)
	assert.Equal(t, "user2498@acme.io", res.Unique[len(res.Unique)-1].Email)
}

func TestFilterNewPropagatesLookupError(t *testing.T) {
	index := newFakeIndex()
	index.err = errors.New("db down")

	_, err := NewEngine(index, 0).FilterNew(context.Background(), "owner-1", []models.Candidate{{Email: "a@a.io"}})
	require.Error(t, err)
}

func TestFilterNewEmptyInput(t *testing.T) {
	index := newFakeIndex()

	res, err := NewEngine(index, 0).FilterNew(context.Background(), "owner-1", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Unique)
	assert.Empty(t, index.batches)
}

func TestBreakIntoBatches(t *testing.T) {
	assert.Nil(t, BreakIntoBatches([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5}}, BreakIntoBatches([]int{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, [][]int{{1, 2}}, BreakIntoBatches([]int{1, 2}, 0))
}

func TestSeenConcurrent(t *testing.T) {
	seen := NewSeen()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if seen.AddIfNotExists(context.Background(), "same") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestFilterNewKeepsDistinctEmails(t *testing.T) {
	engine := NewEngine(newFakeIndex(), 0)

	candidates := make([]models.Candidate, 0, 5000)
	for i := 0; i < 5000; i++ {
		candidates = append(candidates, models.Candidate{Email: fmt.Sprintf("contact%d@acme.io", i)})
	}

	res, err := engine.FilterNew(context.Background(), "owner-1", candidates)
	require.NoError(t, err)
	assert.Len(t, res.Unique, 5000)
	assert.Zero(t, res.DuplicateCount)
}

func TestSeenStoresKeysVerbatim(t *testing.T) {
	seen := NewSeen()

	assert.True(t, seen.AddIfNotExists(context.Background(), "https://acme.io"))
	assert.True(t, seen.AddIfNotExists(context.Background(), "https://acme.io/"))
	assert.Contains(t, seen.(*hashmap).seen, "https://acme.io")
}
