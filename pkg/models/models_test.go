package models

import (
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

func TestMetadata_InsertionOrder(t *testing.T) {
	m := NewMetadata()
	m.Set("b", 1)
	m.Set("a", 2)
	m.Set("c", 3)
	m.Set("b", 10)

	if got, want := m.Keys(), []string{"b", "a", "c"}; !slices.Equal(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	if v, _ := m.Get("b"); v != 10 {
		t.Errorf("Get(b) = %v, want 10", v)
	}

	if !m.Delete("b") {
		t.Fatal("Delete(b) = false, want true")
	}
	if m.Delete("b") {
		t.Error("second Delete(b) = true, want false")
	}
	m.Set("b", 1)
	if got, want := m.Keys(), []string{"a", "c", "b"}; !slices.Equal(got, want) {
		t.Errorf("Keys() after re-add = %v, want %v", got, want)
	}
}

func TestMetadata_ZeroValueAndNil(t *testing.T) {
	var m Metadata
	m.Set("k", "v")
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	var nilMeta *Metadata
	if nilMeta.Len() != 0 || nilMeta.Keys() != nil {
		t.Error("nil metadata should be empty")
	}
	if _, ok := nilMeta.Get("k"); ok {
		t.Error("nil metadata Get should miss")
	}
	if nilMeta.Clone().Len() != 0 {
		t.Error("Clone of nil should be empty")
	}
}

func TestMetadata_CloneIsIndependent(t *testing.T) {
	m := NewMetadata()
	m.Set("step", 1)
	cp := m.Clone()
	cp.Set("step", 2)
	cp.Set("extra", true)

	if v, _ := m.Get("step"); v != 1 {
		t.Errorf("original step = %v, want 1", v)
	}
	if m.Len() != 1 {
		t.Errorf("original Len() = %d, want 1", m.Len())
	}
}

func TestMetadata_JSONKeepsOrder(t *testing.T) {
	m := NewMetadata()
	m.Set("zeta", 1)
	m.Set("alpha", "x")

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"zeta":1,"alpha":"x"}` {
		t.Errorf("Marshal = %s", data)
	}

	var back Metadata
	if err := json.Unmarshal([]byte(`{"z":1,"a":2,"m":3}`), &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got, want := back.Keys(), []string{"z", "a", "m"}; !slices.Equal(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}

	if err := json.Unmarshal([]byte(`[1,2]`), &back); err == nil {
		t.Error("Unmarshal of array should fail")
	}
}

func TestMetadata_Concurrent(t *testing.T) {
	m := NewMetadata()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			m.Set(key, i)
			m.Get(key)
			_ = m.Keys()
		}(i)
	}
	wg.Wait()
	if m.Len() != 26 {
		t.Errorf("Len() = %d, want 26", m.Len())
	}
}

// ---------------------------------------------------------------------------
// ExecutionContext
// ---------------------------------------------------------------------------

func validContext() *ExecutionContext {
	return &ExecutionContext{
		ID:        "ctx-1",
		UserID:    "alice",
		RunID:     "run-1",
		Role:      auth.RoleStandard,
		Metadata:  NewMetadata(),
		CreatedAt: time.Now().UTC(),
	}
}

func TestExecutionContext_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ExecutionContext)
		field  string
	}{
		{name: "missing id", mutate: func(c *ExecutionContext) { c.ID = "" }, field: "context id"},
		{name: "missing user", mutate: func(c *ExecutionContext) { c.UserID = "" }, field: "user_id"},
		{name: "missing run", mutate: func(c *ExecutionContext) { c.RunID = "" }, field: "run_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validContext()
			tt.mutate(c)
			err := c.Validate()
			if !sserr.HasCode(err, sserr.CodeValidationRequired) {
				t.Fatalf("Validate() = %v, want VAL_002", err)
			}
		})
	}

	if err := validContext().Validate(); err != nil {
		t.Errorf("Validate() on valid context = %v", err)
	}
	var nilCtx *ExecutionContext
	if err := nilCtx.Validate(); err == nil {
		t.Error("Validate() on nil context should fail")
	}
}

func TestExecutionContext_Clone(t *testing.T) {
	c := validContext()
	c.Metadata.Set("owner", "alice")

	cp := c.Clone()
	cp.Metadata.Set("owner", "bob")
	cp.UserID = "bob"

	if v, _ := c.Metadata.Get("owner"); v != "alice" {
		t.Errorf("original metadata owner = %v, want alice", v)
	}
	if c.UserID != "alice" {
		t.Errorf("original UserID = %q, want alice", c.UserID)
	}
	if (*ExecutionContext)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestExecutionContext_Age(t *testing.T) {
	c := validContext()
	c.CreatedAt = time.Now().Add(-time.Minute)
	if c.Age() < time.Minute {
		t.Errorf("Age() = %v, want >= 1m", c.Age())
	}
	if (&ExecutionContext{}).Age() != 0 {
		t.Error("Age() of zero context should be 0")
	}
}

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

func TestNewEvent(t *testing.T) {
	data := map[string]any{"tool": "search"}
	ev, err := NewEvent("run-1", EventToolExecuting, data)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	data["tool"] = "mutated"
	if ev.Data["tool"] != "search" {
		t.Errorf("event data aliased caller map: %v", ev.Data["tool"])
	}
	if ev.Timestamp.IsZero() || ev.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp = %v, want non-zero UTC", ev.Timestamp)
	}

	empty, err := NewEvent("run-1", EventAgentStarted, nil)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if empty.Data == nil {
		t.Error("Data should default to an empty map")
	}
}

func TestNewEvent_Invalid(t *testing.T) {
	if _, err := NewEvent("", EventAgentStarted, nil); !sserr.HasCode(err, sserr.CodeValidationRequired) {
		t.Errorf("missing run id: got %v, want VAL_002", err)
	}
	if _, err := NewEvent("run-1", EventType("agent_exploded"), nil); !sserr.IsValidation(err) {
		t.Errorf("unknown type: got %v, want validation error", err)
	}
}

func TestEvent_WireFormat(t *testing.T) {
	ev := Event{
		RunID:     "run-7",
		Type:      EventCapabilityDegraded,
		Data:      map[string]any{"capability": "ai_chat"},
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"run_id":"run-7","event_type":"capability_degraded","data":{"capability":"ai_chat"},"timestamp":"2026-01-01T00:00:00Z"}`
	if string(data) != want {
		t.Errorf("Marshal =\n%s\nwant\n%s", data, want)
	}
}
