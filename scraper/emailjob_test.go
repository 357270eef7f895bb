package scraper

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/gosom/scrapemate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-pipeline/exiter"
)

const acmeHTML = `<html>
<head>
  <title> Acme Roofing </title>
  <meta name="description" content="Roof repairs in Leeds">
</head>
<body>
  <a href="mailto:hello@acme.co.uk?subject=Quote">Email us</a>
  <a href="mailto:hello@acme.co.uk">Email again</a>
  <img src="logo@2x.png">
</body>
</html>`

func newResponse(t *testing.T, body string) *scrapemate.Response {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)

	return &scrapemate.Response{Body: []byte(body), Document: doc}
}

func TestEmailJobExtractsPage(t *testing.T) {
	ex := exiter.New()
	ex.SetSeedCount(1)

	job := NewEmailJob("parent", "https://acme.co.uk", WithExitMonitor(ex))

	data, next, err := job.Process(context.Background(), newResponse(t, acmeHTML))
	require.NoError(t, err)
	assert.Empty(t, next)

	page, ok := data.(*Page)
	require.True(t, ok)

	assert.Equal(t, "https://acme.co.uk", page.URL)
	assert.Equal(t, "Acme Roofing", page.Title)
	assert.Equal(t, "Roof repairs in Leeds", page.Description)
	assert.Equal(t, []string{"hello@acme.co.uk"}, page.Emails)

	done, _ := ex.Progress()
	assert.Equal(t, 1, done)
}

func TestEmailJobFallsBackToBody(t *testing.T) {
	job := NewEmailJob("parent", "https://acme.co.uk")

	body := `<html><body><p>Write to sales@acme.co.uk or see banner@3x.png</p></body></html>`

	data, _, err := job.Process(context.Background(), newResponse(t, body))
	require.NoError(t, err)

	assert.Equal(t, []string{"sales@acme.co.uk"}, data.(*Page).Emails)
}

func TestEmailJobFetchError(t *testing.T) {
	ex := exiter.New()
	job := NewEmailJob("parent", "https://down.io", WithExitMonitor(ex))

	data, _, err := job.Process(context.Background(), &scrapemate.Response{Error: errors.New("timeout")})
	require.NoError(t, err)

	page := data.(*Page)
	assert.Error(t, page.Err)
	assert.Empty(t, page.Emails)

	done, _ := ex.Progress()
	assert.Equal(t, 1, done)
	assert.True(t, job.ProcessOnFetchError())
}

func TestDefaultEmailFilter(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"info@acme.io", true},
		{"logo@2x.png", false},
		{"abc@sentry-next.wixpress.com", false},
		{"dev@app.local", false},
		{"someone@shop.test", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultEmailFilter(tt.email))
		})
	}
}

func TestExtractEmails(t *testing.T) {
	got := ExtractEmails("Contact: Jane <jane@acme.io>, jane@acme.io, bob@acme.io")
	assert.Equal(t, []string{"jane@acme.io", "bob@acme.io"}, got)
	assert.Empty(t, ExtractEmails("no address here"))
}
