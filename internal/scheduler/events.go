package scheduler

// events.go — TriggerService turns ingested event payloads into runs.
// Signature verification happens at the transport edge; this layer handles
// matching, deduplication, and input mapping.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"
	"github.com/soochol/graphrun/internal/graphrun"
	"github.com/soochol/graphrun/internal/repository"
)

// ErrDuplicateEvent is returned when an event's idempotency key was already
// seen inside the dedup window. The original run stands; no new run starts.
var ErrDuplicateEvent = errors.New("duplicate event")

// ErrEventNotMatched is returned when the trigger's match predicate rejects
// the payload.
var ErrEventNotMatched = errors.New("event did not match trigger predicate")

// ErrTriggerDisabled is returned when the addressed trigger exists but is
// not enabled.
var ErrTriggerDisabled = errors.New("trigger is disabled")

// DefaultDedupTTL is how long an event idempotency key suppresses
// redeliveries.
const DefaultDedupTTL = 10 * time.Minute

// TriggerService activates plans from external events.
type TriggerService struct {
	triggerRepo repository.TriggerRepository
	planRepo    repository.PlanRepository
	dispatcher  Dispatcher
	dedup       *dedupWindow
}

// NewTriggerService creates a TriggerService. A non-positive dedupTTL uses
// DefaultDedupTTL.
func NewTriggerService(
	triggerRepo repository.TriggerRepository,
	planRepo repository.PlanRepository,
	dispatcher Dispatcher,
	dedupTTL time.Duration,
) *TriggerService {
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &TriggerService{
		triggerRepo: triggerRepo,
		planRepo:    planRepo,
		dispatcher:  dispatcher,
		dedup:       newDedupWindow(dedupTTL),
	}
}

// Stop terminates the dedup window's GC goroutine.
func (s *TriggerService) Stop() {
	s.dedup.Stop()
}

// OnEvent processes one ingested event for the addressed trigger: check the
// trigger is an enabled event trigger, evaluate the match predicate, drop
// redeliveries by idempotency key, map the payload to run inputs, and
// dispatch. When the caller supplies no eventID, the idempotency key falls
// back to a hash of the payload, so byte-identical redeliveries are still
// suppressed.
func (s *TriggerService) OnEvent(ctx context.Context, triggerID string, payload map[string]any, eventID string) (*graphrun.RunRecord, error) {
	trigger, err := s.triggerRepo.Get(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if trigger.Type != graphrun.TriggerEvent {
		return nil, fmt.Errorf("trigger %s is not an event trigger", triggerID)
	}
	if !trigger.Enabled {
		return nil, ErrTriggerDisabled
	}

	matched, err := matchEvent(trigger.EventMatch, payload)
	if err != nil {
		return nil, fmt.Errorf("evaluate match predicate: %w", err)
	}
	if !matched {
		return nil, ErrEventNotMatched
	}

	if s.dedup.observe(dedupKey(trigger.ID, eventID, payload)) {
		slog.Info("trigger: duplicate event suppressed",
			"trigger", trigger.ID, "event", eventID)
		return nil, ErrDuplicateEvent
	}

	plan, err := s.planRepo.Get(ctx, trigger.PlanID)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", trigger.PlanID, err)
	}

	inputs := mapInputs(trigger, payload)
	record, err := s.dispatcher.Submit(ctx, plan, inputs, graphrun.TriggerEvent, trigger.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	trigger.LastFireAt = &now
	if updateErr := s.triggerRepo.Update(ctx, trigger); updateErr != nil {
		slog.Warn("trigger: failed to update trigger after fire", "err", updateErr)
	}

	slog.Info("trigger: event run dispatched",
		"trigger", trigger.ID, "run", record.ID, "event", eventID)
	return record, nil
}

// dedupKey builds the idempotency key for one delivery, scoped to the
// trigger. Without a caller-provided event ID the key is derived from the
// canonical payload JSON, whose map keys marshal in sorted order.
func dedupKey(triggerID, eventID string, payload map[string]any) string {
	if eventID == "" {
		raw, _ := json.Marshal(payload)
		sum := sha256.Sum256(raw)
		eventID = "sha256:" + hex.EncodeToString(sum[:])
	}
	return triggerID + "/" + eventID
}

// matchEvent evaluates the trigger's expr predicate against the payload.
// An empty expression matches everything.
func matchEvent(expression string, payload map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}
	env := map[string]any{"event": payload}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	return ok && matched, nil
}

// mapInputs builds run inputs from the trigger defaults and the event
// payload. With a mapping, only the mapped payload keys are used; without
// one, the whole payload overlays the defaults.
func mapInputs(trigger *graphrun.TriggerDefinition, payload map[string]any) map[string]any {
	inputs := make(map[string]any, len(trigger.DefaultInputs)+len(payload))
	for k, v := range trigger.DefaultInputs {
		inputs[k] = v
	}

	if len(trigger.InputMapping) == 0 {
		for k, v := range payload {
			inputs[k] = v
		}
		return inputs
	}

	for inputKey, payloadKey := range trigger.InputMapping {
		if v, ok := payload[payloadKey]; ok {
			inputs[inputKey] = v
		}
	}
	return inputs
}
