package deduper

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/Vector/vector-leads-pipeline/models"
)

// DefaultBatchSize bounds the number of emails sent in one lookup.
const DefaultBatchSize = 1000

// Result is the outcome of one FilterNew call.
type Result struct {
	Unique         []models.Candidate
	DuplicateCount int
}

// Engine checks candidates against the owner's stored contacts.
type Engine struct {
	index     models.ContactIndex
	batchSize int
}

func NewEngine(index models.ContactIndex, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Engine{index: index, batchSize: batchSize}
}

// FilterNew keeps candidates whose normalized primary email is neither
// stored for ownerID nor repeated earlier in the input. Order is kept.
// Candidates without an email are dropped and not counted.
func (e *Engine) FilterNew(ctx context.Context, ownerID string, candidates []models.Candidate) (Result, error) {
	var ans Result

	// keyed on the email itself, a hash collision would drop a new contact
	seen := make(map[string]struct{}, len(candidates))

	keyed := make([]models.Candidate, 0, len(candidates))
	keys := make([]string, 0, len(candidates))

	for i := range candidates {
		key := models.NormalizeEmail(candidates[i].PrimaryEmail())
		if key == "" {
			continue
		}

		if _, dup := seen[key]; dup {
			ans.DuplicateCount++
			continue
		}

		seen[key] = struct{}{}

		keyed = append(keyed, candidates[i])
		keys = append(keys, key)
	}

	existing := make(map[string]struct{})

	for _, batch := range BreakIntoBatches(keys, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		found, err := e.index.ExistingEmails(ctx, ownerID, batch)
		if err != nil {
			return Result{}, eris.Wrap(err, "deduper: lookup existing emails")
		}

		for _, f := range found {
			existing[f] = struct{}{}
		}
	}

	ans.Unique = make([]models.Candidate, 0, len(keyed))

	for i := range keyed {
		if _, ok := existing[keys[i]]; ok {
			ans.DuplicateCount++
			continue
		}

		ans.Unique = append(ans.Unique, keyed[i])
	}

	return ans, nil
}
