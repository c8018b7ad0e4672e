package worker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/outreach-engine/internal/domain"
)

var tokenRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Renderer renders campaign stage templates per contact with liquid
// tokens ({{first_name}}, {{company}}, ...).
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer creates the template renderer.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// RenderedStage is a stage rendered for one contact. Missing lists the
// template tokens the contact had no value for; the quality gate treats
// leftovers as a hard block, so callers surface them instead of sending.
type RenderedStage struct {
	Subject string
	Body    string
	Missing []string
}

// RenderStage renders a stage's subject and body against a contact.
func (r *Renderer) RenderStage(stage domain.MessageStage, contact *domain.Contact) (*RenderedStage, error) {
	bindings := map[string]any{
		"first_name":   contact.FirstName,
		"last_name":    contact.LastName,
		"full_name":    contact.FullName(),
		"email":        contact.Email,
		"title":        contact.Title,
		"company":      contact.Company,
		"location":     contact.Location,
		"linkedin_url": contact.LinkedInURL,
	}

	subject, err := r.engine.ParseAndRenderString(stage.Subject, bindings)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	body, err := r.engine.ParseAndRenderString(stage.Body, bindings)
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	return &RenderedStage{
		Subject: subject,
		Body:    body,
		Missing: missingTokens(stage.Subject+"\n"+stage.Body, bindings),
	}, nil
}

// missingTokens lists template variables whose binding is absent or
// empty. Liquid renders those as empty strings, so the damage is
// invisible in the output; detection has to run against the source.
func missingTokens(template string, bindings map[string]any) []string {
	var missing []string
	seen := map[string]bool{}
	for _, m := range tokenRe.FindAllStringSubmatch(template, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		v, ok := bindings[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
