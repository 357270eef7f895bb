package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	qs := NewTask("t1", "u1", KindQuerySearch, "  dentists in berlin ")
	assert.Equal(t, StatusPending, qs.Status)
	assert.Equal(t, "dentists in berlin", qs.Query)
	assert.Empty(t, qs.URL)
	assert.Equal(t, QuerySearchStages, qs.Progress.Total)

	du := NewTask("t2", "u1", KindDirectURL, "https://example.com")
	assert.Equal(t, "https://example.com", du.URL)
	assert.Empty(t, du.Query)
	assert.Equal(t, DirectURLStages, du.Progress.Total)
}

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{
			name: "valid query search",
			task: NewTask("t1", "u1", KindQuerySearch, "plumbers"),
		},
		{
			name: "valid direct url",
			task: NewTask("t1", "u1", KindDirectURL, "https://acme.io"),
		},
		{
			name:    "missing owner",
			task:    NewTask("t1", "", KindQuerySearch, "plumbers"),
			wantErr: true,
		},
		{
			name:    "empty query",
			task:    NewTask("t1", "u1", KindQuerySearch, "   "),
			wantErr: true,
		},
		{
			name:    "relative url",
			task:    NewTask("t1", "u1", KindDirectURL, "acme.io"),
			wantErr: true,
		},
		{
			name:    "unknown kind",
			task:    Task{ID: "t1", OwnerID: "u1", Kind: "crawl"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, TaskStatus("working").Valid())
}

func TestCandidatePrimaryEmail(t *testing.T) {
	assert.Equal(t, "a@b.io", Candidate{Email: " a@b.io "}.PrimaryEmail())
	assert.Equal(t, "c@d.io", Candidate{Emails: []string{"", "c@d.io"}}.PrimaryEmail())
	assert.Empty(t, Candidate{Name: "nobody"}.PrimaryEmail())
	assert.Equal(t, "info@acme.io", NormalizeEmail("  Info@ACME.io "))
}

func TestCompletionMessage(t *testing.T) {
	assert.Equal(t, "no new contacts found", CompletionMessage(CompleteResult{}))
	assert.Equal(t, "saved 2 new contacts", CompletionMessage(CompleteResult{Inserted: 2}))
	assert.Equal(t, "saved 1 new contacts (1 already existed)", CompletionMessage(CompleteResult{Inserted: 1, AlreadyExisted: 1}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	// never cuts a multi-byte rune in half
	assert.Equal(t, "a", Truncate("aé", 2))
	assert.Len(t, Truncate(strings.Repeat("x", 9000), MaxErrorLength), MaxErrorLength)
}
