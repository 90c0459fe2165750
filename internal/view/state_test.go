package view

import (
	"encoding/json"
	"strings"
	"testing"

	"aegis/internal/domain"
)

func event(t *testing.T, kind domain.EventKind, agent domain.AgentID, status string, payload any) domain.Event {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = raw
	}
	return domain.Event{Kind: kind, Agent: agent, Status: status, Data: data}
}

func TestWorkflowStartedResetsAllAgents(t *testing.T) {
	s := NewState()
	s.Agents[0] = AgentView{Status: AgentCompleted, Summary: "old"}
	s.Agents[1] = AgentView{Status: AgentRunning, Message: "leftover"}
	s.Agents[2] = AgentView{Status: AgentCompleted}
	s.Candidates = []domain.Candidate{{ID: 0}}
	s.Verdict = Verdict{Kind: VerdictApproved, Text: "MISSION APPROVED"}

	s = Reduce(s, event(t, domain.EventWorkflowStarted, "orchestrator", "STARTED", domain.WorkflowStartedPayload{
		RunID:  "run-1",
		Target: "Bennu",
	}))

	for i, agent := range s.Agents {
		if agent.Status != AgentWaiting {
			t.Fatalf("agent %d status=%s want=%s", i, agent.Status, AgentWaiting)
		}
		if agent.Message != "" || agent.Summary != "" {
			t.Fatalf("agent %d kept stale text %+v", i, agent)
		}
	}
	if !s.ResultsVisible || !s.Analyzing {
		t.Fatalf("expected results visible and analyzing, got %+v", s)
	}
	if s.Verdict.Kind != VerdictAnalyzing {
		t.Fatalf("verdict=%s want=%s", s.Verdict.Kind, VerdictAnalyzing)
	}
	if s.Candidates != nil {
		t.Fatalf("candidate table must clear on a new run")
	}
	if s.TargetName != "Bennu" {
		t.Fatalf("target=%s want=Bennu", s.TargetName)
	}
}

func TestAgentTransitions(t *testing.T) {
	s := NewState()
	s = Reduce(s, event(t, domain.EventAgentStarted, domain.AgentIntel, "RUNNING", domain.AgentStartedPayload{
		Message: "Analyzing threat level...",
	}))
	if s.Agents[0].Status != AgentRunning || s.Agents[0].Message != "Analyzing threat level..." {
		t.Fatalf("agent 1 after start: %+v", s.Agents[0])
	}

	s = Reduce(s, event(t, domain.EventAgentStatus, domain.AgentIntel, "RUNNING", domain.AgentStatusPayload{
		Message: "Querying database...",
	}))
	if s.Agents[0].Status != AgentRunning {
		t.Fatalf("agent_status must not change status, got %s", s.Agents[0].Status)
	}
	if s.Agents[0].Message != "Querying database..." {
		t.Fatalf("message=%q", s.Agents[0].Message)
	}

	// Unknown agent ids are ignored.
	before := s.Agents
	s = Reduce(s, event(t, domain.EventAgentStarted, "agent_9", "RUNNING", domain.AgentStartedPayload{Message: "?"}))
	if s.Agents != before {
		t.Fatalf("unknown agent changed state: %+v", s.Agents)
	}
}

func TestRiskScoreRendersHalfUp(t *testing.T) {
	risk := 7.25
	energy := 710.04
	required := true
	s := Reduce(NewState(), event(t, domain.EventAgentCompleted, domain.AgentIntel, "COMPLETED", domain.AgentCompletedPayload{
		RiskScore:          &risk,
		KineticEnergyMt:    &energy,
		RequiresDeflection: &required,
	}))
	if s.Agents[0].Status != AgentCompleted {
		t.Fatalf("status=%s want=%s", s.Agents[0].Status, AgentCompleted)
	}
	if !strings.Contains(s.Agents[0].Summary, "7.3/10") {
		t.Fatalf("summary %q must render 7.25 as 7.3", s.Agents[0].Summary)
	}
	if !strings.Contains(s.Agents[0].Summary, "710.0 Mt") {
		t.Fatalf("summary %q must carry the energy metric", s.Agents[0].Summary)
	}
}

func TestAgentCompletedWithMissingMetrics(t *testing.T) {
	s := Reduce(NewState(), event(t, domain.EventAgentCompleted, domain.AgentSafety, "COMPLETED", domain.AgentCompletedPayload{}))
	if s.Agents[2].Status != AgentCompleted {
		t.Fatalf("status=%s want=%s", s.Agents[2].Status, AgentCompleted)
	}
	if !strings.Contains(s.Agents[2].Summary, "-") {
		t.Fatalf("missing metrics must render as dashes, got %q", s.Agents[2].Summary)
	}
}

func TestCandidatesReplaceTableVerbatim(t *testing.T) {
	s := NewState()
	s.Candidates = []domain.Candidate{{ID: 42, Score: 0.1}}

	incoming := []domain.Candidate{
		{ID: 0, Score: 0.5, Valid: true},
		{ID: 1, Score: 0.9, Valid: true}, // not client-sorted
	}
	s = Reduce(s, event(t, domain.EventCandidatesGenerated, domain.AgentStrategist, "RUNNING", domain.CandidatesPayload{
		Candidates: incoming,
	}))
	if len(s.Candidates) != 2 || s.Candidates[0].ID != 0 || s.Candidates[1].ID != 1 {
		t.Fatalf("table must match the event verbatim: %+v", s.Candidates)
	}
	if s.Agents[1].Status != AgentRunning {
		t.Fatalf("agent 2 status=%s want=%s", s.Agents[1].Status, AgentRunning)
	}

	// A frame without a candidate list leaves the table alone.
	s = Reduce(s, event(t, domain.EventCandidatesGenerated, domain.AgentStrategist, "RUNNING", map[string]string{
		"message": "Running quantum optimization...",
	}))
	if len(s.Candidates) != 2 {
		t.Fatalf("missing list must not clear the table: %+v", s.Candidates)
	}
}

func TestWorkflowCompletedVerdicts(t *testing.T) {
	cases := []struct {
		status   string
		wantKind VerdictKind
		wantText string
	}{
		{"APPROVED", VerdictApproved, "MISSION APPROVED"},
		{"REJECTED", VerdictRejected, "MISSION REJECTED"},
		{"NO_ACTION", VerdictNoAction, "NO ACTION REQUIRED"},
	}
	for _, tc := range cases {
		s := NewState()
		s.Analyzing = true
		s = Reduce(s, event(t, domain.EventWorkflowCompleted, "orchestrator", tc.status, nil))
		if s.Analyzing {
			t.Fatalf("%s: terminal event must clear the analyzing flag", tc.status)
		}
		if s.Verdict.Kind != tc.wantKind || s.Verdict.Text != tc.wantText {
			t.Fatalf("%s: verdict=%+v", tc.status, s.Verdict)
		}
	}
}

func TestUnknownCompletionStatusLeavesVerdict(t *testing.T) {
	s := NewState()
	s.Analyzing = true
	s.Verdict = Verdict{Kind: VerdictAnalyzing, Icon: "⏳", Text: "ANALYZING..."}

	s = Reduce(s, event(t, domain.EventWorkflowCompleted, "orchestrator", "MAYBE_LATER", nil))
	if s.Analyzing {
		t.Fatalf("terminal event must clear the analyzing flag")
	}
	if s.Verdict.Kind != VerdictAnalyzing {
		t.Fatalf("unknown status must leave the verdict untouched, got %+v", s.Verdict)
	}
}

func TestWorkflowErrorRejectsWithServerText(t *testing.T) {
	s := NewState()
	s.Analyzing = true
	s = Reduce(s, event(t, domain.EventWorkflowError, domain.AgentIntel, "ERROR", domain.WorkflowErrorPayload{
		Error: "could not identify asteroid",
	}))
	if s.Analyzing {
		t.Fatalf("error must clear the analyzing flag")
	}
	if s.Verdict.Kind != VerdictRejected || s.Verdict.Text != "could not identify asteroid" {
		t.Fatalf("verdict=%+v", s.Verdict)
	}
}

func TestMalformedPayloadsNeverPanic(t *testing.T) {
	kinds := []domain.EventKind{
		domain.EventWorkflowStarted,
		domain.EventAgentStarted,
		domain.EventAgentStatus,
		domain.EventAsteroidFound,
		domain.EventCandidatesGenerated,
		domain.EventAgentCompleted,
		domain.EventWorkflowCompleted,
		domain.EventWorkflowError,
		domain.EventKind("totally_unknown"),
	}
	s := NewState()
	for _, kind := range kinds {
		s = Reduce(s, domain.Event{
			Kind:  kind,
			Agent: domain.AgentIntel,
			Data:  json.RawMessage(`"not an object"`),
		})
	}
	// Still a usable snapshot.
	_ = Render(s)
}

func TestAsteroidFoundRecordsTarget(t *testing.T) {
	s := Reduce(NewState(), event(t, domain.EventAsteroidFound, domain.AgentIntel, "COMPLETED", domain.AsteroidFoundPayload{
		Name: "Apophis-2026",
	}))
	if s.TargetName != "Apophis-2026" {
		t.Fatalf("target=%s want=Apophis-2026", s.TargetName)
	}
}

func TestRenderFrame(t *testing.T) {
	s := NewState()
	s = s.WithConnected(true)
	s = Reduce(s, event(t, domain.EventWorkflowStarted, "orchestrator", "STARTED", domain.WorkflowStartedPayload{Target: "Orpheus"}))
	s = Reduce(s, event(t, domain.EventCandidatesGenerated, domain.AgentStrategist, "RUNNING", domain.CandidatesPayload{
		Candidates: []domain.Candidate{{ID: 0, VelocityKms: 12.34, AngleDeg: 45.6, ImpactorMassKg: 900.5, Score: 0.9123, Valid: true}},
	}))

	f := Render(s)
	if !strings.Contains(f.StatusLine, "analysis in progress") {
		t.Fatalf("status line=%q", f.StatusLine)
	}
	if len(f.CandidateRows) != 1 {
		t.Fatalf("rows=%d want=1", len(f.CandidateRows))
	}
	if f.CandidateRows[0][5] != "yes" {
		t.Fatalf("valid column=%q want=yes", f.CandidateRows[0][5])
	}
	if f.VerdictLine == "" {
		t.Fatalf("expected a verdict banner while analyzing")
	}

	offline := Render(NewState())
	if !strings.Contains(offline.StatusLine, "OFFLINE") {
		t.Fatalf("offline status=%q", offline.StatusLine)
	}
}
