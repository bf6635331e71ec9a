package prompts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/domain"
)

type stubPromptRepo struct {
	rows []domain.PromptTemplate
	err  error
}

func (r *stubPromptRepo) ListActive(domain.Context) ([]domain.PromptTemplate, error) {
	return r.rows, r.err
}

var defaultKeys = []string{
	"comment_analysis",
	"dm_analysis",
	"post_caption",
	"post_review",
	"attribution_validation",
	"analytics_narrative",
	"oversight_explanation",
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	s := Load(context.Background(), nil)
	for _, key := range defaultKeys {
		tpl, ok := s.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, 0, tpl.Version, key)
		assert.NotEmpty(t, tpl.Template, key)
	}
}

func TestLoadStoreRowsOverrideDefaults(t *testing.T) {
	repo := &stubPromptRepo{rows: []domain.PromptTemplate{
		{Key: "dm_analysis", Version: 3, Template: "reply to {{message_text}}"},
	}}
	s := Load(context.Background(), repo)

	rendered, version, err := s.Render("dm_analysis", map[string]string{"message_text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, "reply to hi", rendered)

	// Untouched keys keep the embedded default.
	tpl, ok := s.Get("comment_analysis")
	require.True(t, ok)
	assert.Equal(t, 0, tpl.Version)
}

func TestLoadDegradedStoreKeepsDefaults(t *testing.T) {
	repo := &stubPromptRepo{err: errors.New("connection refused")}
	s := Load(context.Background(), repo)

	_, ok := s.Get("comment_analysis")
	assert.True(t, ok)
}

func TestRenderSubstitution(t *testing.T) {
	s := Load(context.Background(), nil)

	rendered, version, err := s.Render("comment_analysis", map[string]string{
		"account_username": "acme",
		"post_caption":     "summer drop",
		"author":           "fan42",
		"comment_text":     "where do I buy this?",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, version)
	assert.Contains(t, rendered, "acme")
	assert.Contains(t, rendered, "where do I buy this?")
	assert.NotContains(t, rendered, "{{comment_text}}")
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	repo := &stubPromptRepo{rows: []domain.PromptTemplate{
		{Key: "partial", Version: 1, Template: "{{known}} and {{unknown}}"},
	}}
	s := Load(context.Background(), repo)

	rendered, _, err := s.Render("partial", map[string]string{"known": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x and {{unknown}}", rendered)
}

func TestRenderUnknownKey(t *testing.T) {
	s := Load(context.Background(), nil)
	_, _, err := s.Render("no_such_template", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDefaultsDeclareExpectedPlaceholders(t *testing.T) {
	s := Load(context.Background(), nil)
	tpl, ok := s.Get("attribution_validation")
	require.True(t, ok)
	for _, name := range []string{"order_value", "signals", "journey", "model_scores"} {
		assert.True(t, strings.Contains(tpl.Template, "{{"+name+"}}"), name)
	}
}
