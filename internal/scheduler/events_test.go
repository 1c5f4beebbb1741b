package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soochol/graphrun/internal/graphrun"
	"github.com/soochol/graphrun/internal/repository"
)

func newEventFixture(t *testing.T, trigger *graphrun.TriggerDefinition) (*TriggerService, *fakeDispatcher) {
	t.Helper()
	triggerRepo := repository.NewMemoryTriggerRepository()
	planRepo := repository.NewMemoryPlanRepository()
	seedPlan(t, planRepo)

	if trigger.PlanID == "" {
		trigger.PlanID = "plan-test"
	}
	if err := triggerRepo.Create(context.Background(), trigger); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	svc := NewTriggerService(triggerRepo, planRepo, dispatcher, time.Minute)
	t.Cleanup(svc.Stop)
	return svc, dispatcher
}

func TestOnEvent_DispatchesRun(t *testing.T) {
	svc, dispatcher := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:      "trig-1",
		Type:    graphrun.TriggerEvent,
		Enabled: true,
	})

	record, err := svc.OnEvent(context.Background(), "trig-1",
		map[string]any{"key": "value"}, "evt-1")
	if err != nil {
		t.Fatalf("OnEvent failed: %v", err)
	}
	if record == nil || record.ID == "" {
		t.Fatal("expected a run record")
	}

	calls := dispatcher.submissions()
	if len(calls) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(calls))
	}
	if calls[0].triggerType != graphrun.TriggerEvent {
		t.Fatalf("expected event trigger type, got %s", calls[0].triggerType)
	}
	if calls[0].inputs["key"] != "value" {
		t.Fatalf("expected payload passthrough, got %v", calls[0].inputs)
	}
}

func TestOnEvent_DuplicateSuppressed(t *testing.T) {
	svc, dispatcher := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:      "trig-1",
		Type:    graphrun.TriggerEvent,
		Enabled: true,
	})

	if _, err := svc.OnEvent(context.Background(), "trig-1", nil, "evt-dup"); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	_, err := svc.OnEvent(context.Background(), "trig-1", nil, "evt-dup")
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	if len(dispatcher.submissions()) != 1 {
		t.Fatalf("redelivery must not start a second run, got %d", len(dispatcher.submissions()))
	}
}

func TestOnEvent_DistinctEventIDsBothRun(t *testing.T) {
	svc, dispatcher := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:      "trig-1",
		Type:    graphrun.TriggerEvent,
		Enabled: true,
	})

	for _, id := range []string{"evt-1", "evt-2"} {
		if _, err := svc.OnEvent(context.Background(), "trig-1", nil, id); err != nil {
			t.Fatalf("delivery %s failed: %v", id, err)
		}
	}
	if len(dispatcher.submissions()) != 2 {
		t.Fatalf("expected 2 runs for distinct event IDs, got %d", len(dispatcher.submissions()))
	}
}

func TestOnEvent_IdenticalPayloadWithoutEventIDSuppressed(t *testing.T) {
	svc, dispatcher := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:      "trig-1",
		Type:    graphrun.TriggerEvent,
		Enabled: true,
	})

	payload := map[string]any{"order": "123"}
	if _, err := svc.OnEvent(context.Background(), "trig-1", payload, ""); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	_, err := svc.OnEvent(context.Background(), "trig-1", payload, "")
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("identical payload without event ID must dedup by payload hash, got %v", err)
	}
	if len(dispatcher.submissions()) != 1 {
		t.Fatalf("expected 1 run for redelivered payload, got %d", len(dispatcher.submissions()))
	}
}

func TestOnEvent_DistinctPayloadsWithoutEventIDBothRun(t *testing.T) {
	svc, dispatcher := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:      "trig-1",
		Type:    graphrun.TriggerEvent,
		Enabled: true,
	})

	for _, order := range []string{"123", "456"} {
		if _, err := svc.OnEvent(context.Background(), "trig-1",
			map[string]any{"order": order}, ""); err != nil {
			t.Fatalf("delivery for order %s failed: %v", order, err)
		}
	}
	if len(dispatcher.submissions()) != 2 {
		t.Fatalf("expected 2 runs for distinct payloads, got %d", len(dispatcher.submissions()))
	}
}

func TestDedupKey_PayloadHashIsDeterministic(t *testing.T) {
	a := dedupKey("trig-1", "", map[string]any{"a": 1, "b": "x"})
	b := dedupKey("trig-1", "", map[string]any{"b": "x", "a": 1})
	if a != b {
		t.Fatalf("key must not depend on map iteration order: %q vs %q", a, b)
	}
	if c := dedupKey("trig-2", "", map[string]any{"a": 1, "b": "x"}); c == a {
		t.Fatal("key must be scoped to the trigger")
	}
	if d := dedupKey("trig-1", "evt-1", map[string]any{"a": 1}); d != "trig-1/evt-1" {
		t.Fatalf("caller-provided event ID must win, got %q", d)
	}
}

func TestOnEvent_MatchPredicate(t *testing.T) {
	svc, dispatcher := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:         "trig-1",
		Type:       graphrun.TriggerEvent,
		EventMatch: `event.action == "opened"`,
		Enabled:    true,
	})

	_, err := svc.OnEvent(context.Background(), "trig-1",
		map[string]any{"action": "closed"}, "evt-1")
	if !errors.Is(err, ErrEventNotMatched) {
		t.Fatalf("expected ErrEventNotMatched, got %v", err)
	}

	if _, err := svc.OnEvent(context.Background(), "trig-1",
		map[string]any{"action": "opened"}, "evt-2"); err != nil {
		t.Fatalf("matching event failed: %v", err)
	}

	if len(dispatcher.submissions()) != 1 {
		t.Fatalf("expected only the matching event to run, got %d", len(dispatcher.submissions()))
	}
}

func TestOnEvent_InputMapping(t *testing.T) {
	svc, dispatcher := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:            "trig-1",
		Type:          graphrun.TriggerEvent,
		InputMapping:  map[string]string{"user": "sender", "ref": "branch"},
		DefaultInputs: map[string]any{"env": "prod", "user": "nobody"},
		Enabled:       true,
	})

	_, err := svc.OnEvent(context.Background(), "trig-1", map[string]any{
		"sender":  "alice",
		"branch":  "main",
		"ignored": "x",
	}, "evt-1")
	if err != nil {
		t.Fatalf("OnEvent failed: %v", err)
	}

	inputs := dispatcher.submissions()[0].inputs
	if inputs["user"] != "alice" {
		t.Fatalf("mapped payload key must override the default, got %v", inputs["user"])
	}
	if inputs["ref"] != "main" {
		t.Fatalf("expected mapped ref, got %v", inputs["ref"])
	}
	if inputs["env"] != "prod" {
		t.Fatalf("expected unmapped default retained, got %v", inputs["env"])
	}
	if _, ok := inputs["ignored"]; ok {
		t.Fatal("unmapped payload keys must be dropped when a mapping exists")
	}
}

func TestOnEvent_DisabledTrigger(t *testing.T) {
	svc, _ := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:      "trig-1",
		Type:    graphrun.TriggerEvent,
		Enabled: false,
	})

	_, err := svc.OnEvent(context.Background(), "trig-1", nil, "evt-1")
	if !errors.Is(err, ErrTriggerDisabled) {
		t.Fatalf("expected ErrTriggerDisabled, got %v", err)
	}
}

func TestOnEvent_WrongTriggerType(t *testing.T) {
	svc, _ := newEventFixture(t, &graphrun.TriggerDefinition{
		ID:       "trig-1",
		Type:     graphrun.TriggerSchedule,
		CronExpr: "*/5 * * * *",
		Enabled:  true,
	})

	if _, err := svc.OnEvent(context.Background(), "trig-1", nil, "evt-1"); err == nil {
		t.Fatal("expected error for schedule trigger on the event path")
	}
}

func TestDedupWindow_ExpiryAllowsReuse(t *testing.T) {
	w := newDedupWindow(20 * time.Millisecond)
	defer w.Stop()

	if w.observe("k") {
		t.Fatal("first observation must not be a duplicate")
	}
	if !w.observe("k") {
		t.Fatal("second observation inside the window must be a duplicate")
	}

	time.Sleep(30 * time.Millisecond)
	if w.observe("k") {
		t.Fatal("observation after the TTL must not be a duplicate")
	}
}
