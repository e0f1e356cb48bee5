package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/voocel/conform"
	"github.com/voocel/conform/adapter"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRequest() *conform.Request {
	return conform.NewRequest(
		json.RawMessage(`{"type": "object"}`),
		"extract the person",
		conform.WithAdapter(&adapter.Script{Path: "/bin/true"}),
	)
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)

	out := &conform.Outcome{
		Status: conform.StatusSuccess,
		Value:  json.RawMessage(`{"name": "Ada", "age": 36}`),
		Attempts: []conform.AttemptRecord{
			{
				Number:           1,
				PromptSent:       "first prompt",
				RawOutput:        "raw output 1",
				Submitted:        json.RawMessage(`{"name": "Ada"}`),
				ValidationErrors: []string{"/: missing required property 'age'"},
				Elapsed:          1200 * time.Millisecond,
			},
			{
				Number:     2,
				PromptSent: "second prompt",
				RawOutput:  "raw output 2",
				Submitted:  json.RawMessage(`{"name": "Ada", "age": 36}`),
				Elapsed:    800 * time.Millisecond,
			},
		},
		Metrics: conform.Metrics{
			Attempts:              2,
			WallTime:              2 * time.Second,
			EstimatedInputTokens:  50,
			EstimatedOutputTokens: 20,
			InputTokens:           120,
			OutputTokens:          45,
		},
	}

	id, err := s.SaveOutcome(sampleRequest(), out)
	if err != nil {
		t.Fatalf("SaveOutcome: %v", err)
	}

	run, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != "success" {
		t.Errorf("status = %q", run.Status)
	}
	if string(run.Value) != `{"name": "Ada", "age": 36}` {
		t.Errorf("value = %s", run.Value)
	}
	if run.Adapter != "script" {
		t.Errorf("adapter = %q", run.Adapter)
	}
	if run.Metrics.Attempts != 2 || run.Metrics.InputTokens != 120 {
		t.Errorf("metrics = %+v", run.Metrics)
	}
	if run.Metrics.WallTime != 2*time.Second {
		t.Errorf("wall time = %s", run.Metrics.WallTime)
	}

	attempts, err := s.GetAttempts(id)
	if err != nil {
		t.Fatalf("GetAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("len(attempts) = %d", len(attempts))
	}
	if attempts[0].Number != 1 || attempts[1].Number != 2 {
		t.Error("attempts out of order")
	}
	if len(attempts[0].ValidationErrors) != 1 {
		t.Errorf("attempt 1 errors = %v", attempts[0].ValidationErrors)
	}
	if attempts[1].ValidationErrors != nil {
		t.Errorf("attempt 2 errors = %v", attempts[1].ValidationErrors)
	}
	if attempts[0].Elapsed != 1200*time.Millisecond {
		t.Errorf("attempt 1 elapsed = %s", attempts[0].Elapsed)
	}
}

func TestSaveAgentError(t *testing.T) {
	s := openTestStore(t)

	out := &conform.Outcome{
		Status: conform.StatusAgentError,
		Err:    errors.New("spawn agent: no such file"),
	}
	id, err := s.SaveOutcome(sampleRequest(), out)
	if err != nil {
		t.Fatalf("SaveOutcome: %v", err)
	}

	run, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != "agent_error" {
		t.Errorf("status = %q", run.Status)
	}
	if run.Error != "spawn agent: no such file" {
		t.Errorf("error = %q", run.Error)
	}
	if run.Value != nil {
		t.Errorf("value = %s, want nil", run.Value)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		out := &conform.Outcome{Status: conform.StatusMaxRetriesExceeded}
		if _, err := s.SaveOutcome(sampleRequest(), out); err != nil {
			t.Fatalf("SaveOutcome: %v", err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d", len(runs))
	}
	if runs[0].ID <= runs[1].ID {
		t.Errorf("runs not newest first: %d, %d", runs[0].ID, runs[1].ID)
	}
}

func TestDeleteRun(t *testing.T) {
	s := openTestStore(t)

	out := &conform.Outcome{
		Status:   conform.StatusMaxRetriesExceeded,
		Attempts: []conform.AttemptRecord{{Number: 1, PromptSent: "p", RawOutput: "r"}},
	}
	id, err := s.SaveOutcome(sampleRequest(), out)
	if err != nil {
		t.Fatalf("SaveOutcome: %v", err)
	}

	if err := s.DeleteRun(id); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(id); err == nil {
		t.Error("run still present after delete")
	}
	attempts, err := s.GetAttempts(id)
	if err != nil {
		t.Fatalf("GetAttempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("attempts still present after delete: %d", len(attempts))
	}
}
