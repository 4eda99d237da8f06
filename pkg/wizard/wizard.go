// Package wizard implements the stepwise request-creation flow shared by
// interactive frontends. The wizard owns the in-progress selection and the
// working configuration; it never talks to the network itself.
package wizard

import (
	"fmt"
	"strings"

	"github.com/stackform/portal/pkg/api/client"
	"github.com/stackform/portal/pkg/lifecycle"
	"github.com/stackform/portal/pkg/schema"
)

// Step identifies a position in the request-creation flow.
type Step int

const (
	// StepEnvironment selects the target environment.
	StepEnvironment Step = iota
	// StepResource selects the resource type to provision.
	StepResource
	// StepConfig edits the configuration form and names the request.
	StepConfig
	// StepReview shows the assembled request before creation.
	StepReview
)

// String returns the step's display name.
func (s Step) String() string {
	switch s {
	case StepEnvironment:
		return "environment"
	case StepResource:
		return "resource"
	case StepConfig:
		return "configuration"
	case StepReview:
		return "review"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Wizard drives the four-step request flow. The zero value is not usable;
// construct with New.
type Wizard struct {
	step        Step
	environment *client.Environment
	resource    *client.ResourceType
	fields      []schema.Field
	config      map[string]any
	title       string
	description string
	priority    string
}

// Request priorities accepted by SetPriority.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// New returns a wizard positioned at the environment step.
func New() *Wizard {
	return &Wizard{step: StepEnvironment, config: map[string]any{}, priority: PriorityNormal}
}

// Step returns the current step.
func (w *Wizard) Step() Step {
	return w.step
}

// Environment returns the selected environment, or nil before selection.
func (w *Wizard) Environment() *client.Environment {
	return w.environment
}

// Resource returns the selected resource type, or nil before selection.
func (w *Wizard) Resource() *client.ResourceType {
	return w.resource
}

// Fields returns the normalized configuration fields for the selected
// resource type, in declaration order.
func (w *Wizard) Fields() []schema.Field {
	return w.fields
}

// Config returns the working configuration values.
func (w *Wizard) Config() map[string]any {
	return w.config
}

// Title returns the working request title.
func (w *Wizard) Title() string {
	return w.title
}

// Description returns the working request description.
func (w *Wizard) Description() string {
	return w.description
}

// SelectEnvironment records the target environment. The working
// configuration is left alone; only resource selection reseeds it.
func (w *Wizard) SelectEnvironment(env client.Environment) {
	w.environment = &env
}

// SelectResource records the resource type, normalizes its configuration
// schema and reseeds the working configuration from the schema defaults.
// Values entered for a previously selected type are discarded.
func (w *Wizard) SelectResource(rt client.ResourceType) error {
	fields, err := schema.Normalize(rt.Schema)
	if err != nil {
		return err
	}
	w.resource = &rt
	w.fields = fields
	w.config = schema.Defaults(fields)
	return nil
}

// SetTitle records the request title.
func (w *Wizard) SetTitle(title string) {
	w.title = title
}

// SetDescription records the request description.
func (w *Wizard) SetDescription(description string) {
	w.description = description
}

// Priority returns the working request priority.
func (w *Wizard) Priority() string {
	return w.priority
}

// SetPriority records the request priority. A blank value resets to normal.
func (w *Wizard) SetPriority(priority string) error {
	trimmed := strings.ToLower(strings.TrimSpace(priority))
	if trimmed == "" {
		w.priority = PriorityNormal
		return nil
	}
	switch trimmed {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		w.priority = trimmed
		return nil
	}
	return fmt.Errorf("%w: unknown priority %q", lifecycle.ErrValidation, priority)
}

// SetField validates and stores one configuration value. Keys outside the
// selected resource type's schema are rejected.
func (w *Wizard) SetField(key string, value any) error {
	if w.resource == nil {
		return fmt.Errorf("%w: select a resource type before configuring", lifecycle.ErrState)
	}
	merged, err := schema.Merge(w.fields, map[string]any{key: value})
	if err != nil {
		return err
	}
	w.config[key] = merged[key]
	return nil
}

// CanProceed reports whether the current step's gate is satisfied, with the
// reason when it is not.
func (w *Wizard) CanProceed() error {
	switch w.step {
	case StepEnvironment:
		if w.environment == nil {
			return fmt.Errorf("%w: select an environment", lifecycle.ErrValidation)
		}
	case StepResource:
		if w.resource == nil {
			return fmt.Errorf("%w: select a resource type", lifecycle.ErrValidation)
		}
	case StepConfig:
		if strings.TrimSpace(w.title) == "" {
			return fmt.Errorf("%w: the request needs a title", lifecycle.ErrValidation)
		}
	}
	return nil
}

// Next advances to the following step if the gate allows it. Advancing past
// review is an error.
func (w *Wizard) Next() error {
	if w.step == StepReview {
		return fmt.Errorf("%w: already at the review step", lifecycle.ErrState)
	}
	if err := w.CanProceed(); err != nil {
		return err
	}
	w.step++
	return nil
}

// Previous steps back without losing any entered state. Stepping back from
// the first step is an error.
func (w *Wizard) Previous() error {
	if w.step == StepEnvironment {
		return fmt.Errorf("%w: already at the first step", lifecycle.ErrState)
	}
	w.step--
	return nil
}

// Build assembles the create-request payload. It is only valid at the review
// step; earlier steps may still hold incomplete state.
func (w *Wizard) Build() (client.CreateRequestInput, error) {
	if w.step != StepReview {
		return client.CreateRequestInput{}, fmt.Errorf("%w: build is only available at the review step", lifecycle.ErrState)
	}
	config := make(map[string]any, len(w.config))
	for key, value := range w.config {
		config[key] = value
	}
	return client.CreateRequestInput{
		EnvironmentID:  w.environment.ID,
		ResourceTypeID: w.resource.ID,
		Title:          strings.TrimSpace(w.title),
		Description:    strings.TrimSpace(w.description),
		Priority:       w.priority,
		Config:         config,
	}, nil
}
