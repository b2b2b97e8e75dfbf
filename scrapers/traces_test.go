package scrapers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traces-scraper/download"
	"github.com/traces-scraper/model"
)

const resultsPage = `<html><body>
<table>
  <thead><tr><th>Operator</th><th>Country</th><th></th></tr></thead>
  <tbody>
    <tr><td> Nuts 2  B.V.
      Amsterdam </td><td>NL</td><td><button>View</button></td></tr>
    <tr><td></td><td>NL</td><td></td></tr>
    <tr><td>Nuts 2 B.V. Rotterdam</td><td>NL</td><td><button>View</button></td></tr>
  </tbody>
</table>
</body></html>`

func TestParseResults(t *testing.T) {
	got, err := ParseResults(resultsPage, Selectors{})
	require.NoError(t, err)

	assert.Equal(t, []model.SearchResultEntry{
		{DisplayName: "Nuts 2 B.V. Amsterdam", Handle: 0},
		{DisplayName: "Nuts 2 B.V. Rotterdam", Handle: 2},
	}, got)
}

func TestParseResults_Empty(t *testing.T) {
	got, err := ParseResults(`<html><body><p>No results found</p></body></html>`, DefaultSelectors())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseResults_CustomSelectors(t *testing.T) {
	html := `<div class="results"><div class="row"><span class="op">Choconut B.V</span></div></div>`
	got, err := ParseResults(html, Selectors{ResultRows: "div.row", ResultName: "span.op"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Choconut B.V", got[0].DisplayName)
}

func TestNavigationError(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := fmt.Errorf("search: %w", &NavigationError{Op: "navigate", Err: cause})

	assert.ErrorIs(t, err, ErrNavigation)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "navigate")

	assert.False(t, IsRetryable(ErrSessionLost))
	assert.False(t, IsRetryable(fmt.Errorf("x: %w", ErrNoCertificate)))
}

func TestSelectorsWithDefaults(t *testing.T) {
	s := Selectors{ViewText: "Open"}.withDefaults()
	assert.Equal(t, "Open", s.ViewText)
	assert.Equal(t, DefaultSelectors().SearchInputs, s.SearchInputs)
	assert.Equal(t, "PDF certificate", s.PDFText)
}

func TestBaseScraperClassify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &BaseScraper{Ctx: ctx, Logger: log.New(io.Discard, "", 0)}

	err := b.classify("navigate", errors.New("timeout"))
	assert.ErrorIs(t, err, ErrNavigation)

	cancel()
	err = b.classify("navigate", errors.New("timeout"))
	assert.ErrorIs(t, err, ErrSessionLost)
	assert.False(t, IsRetryable(err))
}

type fakeSession struct {
	closed bool
}

func (f *fakeSession) Search(context.Context, string) error { return nil }
func (f *fakeSession) ListResults(context.Context) ([]model.SearchResultEntry, error) {
	return nil, nil
}
func (f *fakeSession) ClickDownload(context.Context, model.SearchResultEntry) error { return nil }
func (f *fakeSession) Downloads() <-chan download.Event { return nil }
func (f *fakeSession) Close() error { f.closed = true; return nil }

func TestWithSession_ClosesOnPanic(t *testing.T) {
	fs := &fakeSession{}
	factory := func(context.Context, *Config, *log.Logger) (Session, error) { return fs, nil }

	assert.Panics(t, func() {
		_ = WithSession(context.Background(), &Config{}, log.New(io.Discard, "", 0), factory, func(Session) error {
			panic("boom")
		})
	})
	assert.True(t, fs.closed)
}

func TestWithSession_FactoryError(t *testing.T) {
	factory := func(context.Context, *Config, *log.Logger) (Session, error) {
		return nil, errors.New("chrome not found")
	}
	err := WithSession(context.Background(), &Config{}, nil, factory, func(Session) error { return nil })
	assert.ErrorContains(t, err, "chrome not found")
}

func TestScripts_EscapeInput(t *testing.T) {
	s := clickTextScript(`PDF "certificate"`)
	assert.Contains(t, s, `"PDF \"certificate\""`)
	assert.Contains(t, clickViewScript(DefaultSelectors(), 3), `"table tbody tr", 3, "View"`)
}
