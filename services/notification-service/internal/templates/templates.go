package templates

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
)

var ErrUnknownTemplate = errors.New("unknown template")

var bodies = map[string]string{
	"admin_slots_requested": `{{.candidate_email}} requested {{.slot_count}} interview slot(s) for application {{.application_id}}.

{{.slots}}

Times are shown in {{.timezone}}.
`,
	"admin_slot_rescheduled": `{{.candidate_email}} rescheduled the interview for application {{.application_id}}.

Previous: {{.old_date}} at {{.old_time}}
New:      {{.new_date}}, {{.new_time}} - {{.new_end_time}} ({{.duration}} minutes)

Times are shown in {{.timezone}}.
`,
	"candidate_slot_rescheduled": `Hello,

your examiner interview has been moved from {{.old_date}} at {{.old_time}} to {{.new_date}}, {{.new_time}} - {{.new_end_time}}.
The interview takes {{.duration}} minutes. Times are shown in {{.timezone}}.
`,
}

// Renderer holds the parsed plain-text email bodies keyed by template id.
type Renderer struct {
	tmpl map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{tmpl: make(map[string]*template.Template, len(bodies))}
	for id, body := range bodies {
		t, err := template.New(id).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", id, err)
		}
		r.tmpl[id] = t
	}
	return r, nil
}

// Render executes the template. A variable the template uses but the map
// lacks is an error.
func (r *Renderer) Render(templateID string, vars map[string]string) (string, error) {
	t, ok := r.tmpl[templateID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	if vars == nil {
		vars = map[string]string{}
	}
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", templateID, err)
	}
	return b.String(), nil
}
