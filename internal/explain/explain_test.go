package explain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractJSONFencedBlockWins(t *testing.T) {
	text := "Here is my analysis:\n```json\n{\"changes\": []}\n```\nHope that helps!"
	got, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.Equal(t, `{"changes": []}`, got)
}

func TestExtractJSONBareObject(t *testing.T) {
	got, ok := ExtractJSON("  {\"changes\": [{\"description\": \"x\"}]}  ")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(got, "{"))
}

func TestExtractJSONPlainTextIsNotAnError(t *testing.T) {
	_, ok := ExtractJSON("I could not find any differences worth mentioning.")
	assert.False(t, ok)
}

func TestParseValidChanges(t *testing.T) {
	text := `{"changes": [{"location": "Header", "baseline_state": "blue", "current_state": "green", "description": "Button color changed."}]}`
	e := Parse(text)
	require.Len(t, e.Changes, 1)
	assert.Equal(t, "Header", e.Changes[0].Location)
	assert.Empty(t, e.RawText)
}

func TestParseEmptyChangesBecomesSentinel(t *testing.T) {
	e := Parse(`{"changes": []}`)
	assert.Empty(t, e.Changes)
	assert.Equal(t, NoDifferencesMessage, e.RawText)
}

func TestParseSchemaViolationDegradesToRawText(t *testing.T) {
	cases := []string{
		`{"changes": [{"location": "Header"}]}`,            // missing description
		`{"changes": [{"description": "x", "extra": 1}]}`,  // unknown field
		`{"changes": "not a list"}`,                        // wrong type
		"The page looks mostly fine to me.",                // not JSON at all
	}
	for _, text := range cases {
		e := Parse(text)
		assert.Empty(t, e.Changes, "input: %s", text)
		assert.Equal(t, text, e.RawText, "input: %s", text)
	}
}

// scriptedProvider is a canned Provider for chain-order tests.
type scriptedProvider struct {
	name      string
	available bool
	response  string
	err       error
	calls     int
}

func (p *scriptedProvider) Name() string    { return p.name }
func (p *scriptedProvider) Available() bool { return p.available }
func (p *scriptedProvider) Explain(ctx context.Context, images Images) (string, error) {
	p.calls++
	return p.response, p.err
}

func writeArtifacts(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 3)
	for i, name := range []string{"baseline.png", "current.png", "diff.png"} {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("png"), 0o644))
	}
	return paths[0], paths[1], paths[2]
}

func TestChainInvokesExactlyOneProvider(t *testing.T) {
	baseline, current, diff := writeArtifacts(t)

	first := &scriptedProvider{name: "unavailable", available: false}
	second := &scriptedProvider{name: "primary", available: true, response: `{"changes": []}`}
	third := &scriptedProvider{name: "fallback", available: true, response: `{"changes": []}`}

	chain := NewChainWithProviders(zap.NewNop(), first, second, third)
	e := chain.Explain(context.Background(), baseline, current, diff)

	assert.Equal(t, 0, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls, "later providers must not run once one was selected")
	assert.Equal(t, NoDifferencesMessage, e.RawText)
}

func TestChainProviderErrorBecomesSyntheticChange(t *testing.T) {
	baseline, current, diff := writeArtifacts(t)

	p := &scriptedProvider{name: "primary", available: true, err: errors.New("rate limit exceeded (429)")}
	chain := NewChainWithProviders(zap.NewNop(), p)
	e := chain.Explain(context.Background(), baseline, current, diff)

	require.Len(t, e.Changes, 1)
	assert.Equal(t, "Error", e.Changes[0].Location)
	assert.Contains(t, e.Changes[0].Description, "rate limit")
}

func TestChainNoProviderConfigured(t *testing.T) {
	baseline, current, diff := writeArtifacts(t)

	chain := NewChainWithProviders(zap.NewNop(), &scriptedProvider{name: "off", available: false})
	e := chain.Explain(context.Background(), baseline, current, diff)

	require.Len(t, e.Changes, 1)
	assert.Equal(t, "Error", e.Changes[0].Location)
	assert.Contains(t, e.Changes[0].Description, "disabled")
}

func TestChainMissingArtifactDegrades(t *testing.T) {
	p := &scriptedProvider{name: "primary", available: true, response: `{"changes": []}`}
	chain := NewChainWithProviders(zap.NewNop(), p)
	e := chain.Explain(context.Background(), "/nope/baseline.png", "/nope/current.png", "/nope/diff.png")

	require.Len(t, e.Changes, 1)
	assert.Equal(t, "Error", e.Changes[0].Location)
	assert.Equal(t, 0, p.calls)
}

func TestRenderHTMLEscapesCells(t *testing.T) {
	e := &Explanation{Changes: []Change{{
		Location:    "<script>alert(1)</script>",
		Description: "a & b",
	}}}
	html := RenderHTML(e)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "a &amp; b")
}

func TestRenderMarkdownSanitizesCells(t *testing.T) {
	e := &Explanation{Changes: []Change{{
		Location:    "Header | Footer",
		Description: "line one\nline two",
	}}}
	md := RenderMarkdown(e)
	assert.Contains(t, md, `Header \| Footer`)
	assert.Contains(t, md, "line one line two")
}

func TestRenderRawTextFallback(t *testing.T) {
	e := &Explanation{RawText: "model refused to answer"}
	assert.Contains(t, RenderHTML(e), "model refused to answer")
	assert.Contains(t, RenderMarkdown(e), "model refused to answer")
}
