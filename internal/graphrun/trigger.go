package graphrun

import "time"

// TriggerType identifies how a run is initiated.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
)

// CatchUpPolicy controls what happens to schedule fire windows missed while
// the process was down.
type CatchUpPolicy string

const (
	// CatchUpSkip drops missed windows; the next fire is the next future one.
	CatchUpSkip CatchUpPolicy = "skip"
	// CatchUpOnce fires exactly one make-up run at scheduler start when at
	// least one window was missed, regardless of how many were missed.
	CatchUpOnce CatchUpPolicy = "catchup_once"
)

// TriggerDefinition binds a plan to an activation rule. Created by
// configuration, read-only at runtime; deactivation is an administrative
// action outside the engine.
type TriggerDefinition struct {
	ID     string      `json:"id"`
	PlanID string      `json:"plan_id"`
	Type   TriggerType `json:"type"`

	// Schedule triggers.
	CronExpr string        `json:"cron_expr,omitempty"`
	Timezone string        `json:"timezone,omitempty"`
	CatchUp  CatchUpPolicy `json:"catch_up,omitempty"`

	// Event triggers.
	// EventMatch is an expr-lang predicate over the event payload; an empty
	// expression matches every event.
	EventMatch string `json:"event_match,omitempty"`
	// Secret enables HMAC signature verification on ingested events.
	Secret string `json:"secret,omitempty"`
	// InputMapping maps run input keys to payload keys. Empty mapping
	// passes the payload through unchanged.
	InputMapping map[string]string `json:"input_mapping,omitempty"`

	// DefaultInputs are merged under the activation payload for unbound
	// entry-node inputs.
	DefaultInputs map[string]any `json:"default_inputs,omitempty"`

	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastFireAt *time.Time `json:"last_fire_at,omitempty"`
	NextFireAt time.Time  `json:"next_fire_at,omitempty"`
}
