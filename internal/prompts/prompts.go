// Package prompts serves prompt templates: rows from the prompt_templates
// table when present, embedded defaults otherwise. Templates are loaded once
// at startup; a reload requires a restart.
package prompts

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/socialops/oversight-agent/internal/domain"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Service resolves prompt templates by key and renders placeholders.
type Service struct {
	templates map[string]domain.PromptTemplate
}

// Load builds the service: embedded defaults first, store rows layered on
// top. A degraded store is not fatal; the defaults carry the system.
func Load(ctx domain.Context, repo domain.PromptRepository) *Service {
	templates := map[string]domain.PromptTemplate{}

	var defaults map[string]string
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// The embedded file is part of the binary; this only fires on a bad build.
		slog.Error("embedded prompt defaults are invalid", slog.Any("error", err))
	}
	for key, tpl := range defaults {
		templates[key] = domain.PromptTemplate{Key: key, Version: 0, Template: tpl}
	}

	if repo != nil {
		rows, err := repo.ListActive(ctx)
		if err != nil {
			slog.Warn("prompt table unavailable, using embedded defaults", slog.Any("error", err))
		}
		for _, row := range rows {
			templates[row.Key] = row
		}
	}

	slog.Info("prompt templates loaded", slog.Int("count", len(templates)))
	return &Service{templates: templates}
}

// Get returns the template for key.
func (s *Service) Get(key string) (domain.PromptTemplate, bool) {
	t, ok := s.templates[key]
	return t, ok
}

// Render substitutes {{name}} placeholders. Unknown placeholders are left
// intact so a malformed template is visible in the prompt rather than silent.
func (s *Service) Render(key string, vars map[string]string) (string, int, error) {
	t, ok := s.templates[key]
	if !ok {
		return "", 0, fmt.Errorf("op=prompts.Render: %w: template %q", domain.ErrNotFound, key)
	}
	out := t.Template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out, t.Version, nil
}
