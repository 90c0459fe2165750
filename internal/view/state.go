package view

import (
	"fmt"
	"math"

	"aegis/internal/domain"
)

type AgentStatus string

const (
	AgentWaiting   AgentStatus = "waiting"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
)

type VerdictKind string

const (
	VerdictAnalyzing VerdictKind = "analyzing"
	VerdictApproved  VerdictKind = "approved"
	VerdictRejected  VerdictKind = "rejected"
	VerdictNoAction  VerdictKind = "no-action"
)

type AgentView struct {
	Status  AgentStatus
	Message string
	Summary string
}

type Verdict struct {
	Kind VerdictKind
	Icon string
	Text string
}

// State is the immutable dashboard snapshot. Reduce returns a new value
// for every event; nothing mutates a snapshot in place.
type State struct {
	Connected      bool
	Analyzing      bool
	ResultsVisible bool
	TargetName     string
	Agents         [3]AgentView
	Verdict        Verdict
	Candidates     []domain.Candidate
}

// NewState returns the pre-connection snapshot.
func NewState() State {
	var s State
	for i := range s.Agents {
		s.Agents[i] = AgentView{Status: AgentWaiting}
	}
	return s
}

// WithConnected records a connection edge. Socket state comes from the
// connection manager, not from workflow events.
func (s State) WithConnected(connected bool) State {
	s.Connected = connected
	return s
}

// Reduce applies one workflow event to the snapshot. Unknown event
// kinds, unknown agents, and undecodable payloads leave the snapshot
// unchanged; no frame may panic the dashboard.
func Reduce(s State, ev domain.Event) State {
	switch ev.Kind {
	case domain.EventConnected, domain.EventPong:
		return s

	case domain.EventWorkflowStarted:
		var payload domain.WorkflowStartedPayload
		_ = ev.DecodeData(&payload)
		s.ResultsVisible = true
		s.Analyzing = true
		s.Candidates = nil
		if payload.Target != "" {
			s.TargetName = payload.Target
		}
		for i := range s.Agents {
			s.Agents[i] = AgentView{Status: AgentWaiting}
		}
		s.Verdict = Verdict{Kind: VerdictAnalyzing, Icon: "⏳", Text: "ANALYZING..."}
		return s

	case domain.EventAgentStarted:
		idx, ok := agentIndex(ev.Agent)
		if !ok {
			return s
		}
		var payload domain.AgentStartedPayload
		_ = ev.DecodeData(&payload)
		s.Agents[idx].Status = AgentRunning
		s.Agents[idx].Message = payload.Message
		return s

	case domain.EventAgentStatus:
		idx, ok := agentIndex(ev.Agent)
		if !ok {
			return s
		}
		var payload domain.AgentStatusPayload
		if err := ev.DecodeData(&payload); err != nil {
			return s
		}
		s.Agents[idx].Message = payload.Message
		return s

	case domain.EventAsteroidFound:
		var payload domain.AsteroidFoundPayload
		if err := ev.DecodeData(&payload); err != nil {
			return s
		}
		if payload.Name != "" {
			s.TargetName = payload.Name
		}
		return s

	case domain.EventCandidatesGenerated:
		idx, ok := agentIndex(domain.AgentStrategist)
		if ok {
			s.Agents[idx].Status = AgentRunning
		}
		var payload domain.CandidatesPayload
		if err := ev.DecodeData(&payload); err != nil {
			return s
		}
		// A present list replaces the table verbatim; the server owns
		// the ordering.
		if payload.Candidates != nil {
			s.Candidates = payload.Candidates
		}
		return s

	case domain.EventAgentCompleted:
		idx, ok := agentIndex(ev.Agent)
		if !ok {
			return s
		}
		var payload domain.AgentCompletedPayload
		if err := ev.DecodeData(&payload); err != nil {
			s.Agents[idx].Status = AgentCompleted
			return s
		}
		s.Agents[idx].Status = AgentCompleted
		s.Agents[idx].Summary = summarize(ev.Agent, payload)
		return s

	case domain.EventWorkflowCompleted:
		s.Analyzing = false
		switch domain.RunStatus(ev.Status) {
		case domain.RunStatusApproved:
			s.Verdict = Verdict{Kind: VerdictApproved, Icon: "✅", Text: "MISSION APPROVED"}
		case domain.RunStatusRejected:
			s.Verdict = Verdict{Kind: VerdictRejected, Icon: "❌", Text: "MISSION REJECTED"}
		case domain.RunStatusNoAction:
			s.Verdict = Verdict{Kind: VerdictNoAction, Icon: "🛡", Text: "NO ACTION REQUIRED"}
		}
		// Any other status code leaves the banner as it was.
		return s

	case domain.EventWorkflowError:
		var payload domain.WorkflowErrorPayload
		_ = ev.DecodeData(&payload)
		s.Analyzing = false
		text := payload.Error
		if text == "" {
			text = "workflow failed"
		}
		s.Verdict = Verdict{Kind: VerdictRejected, Icon: "❌", Text: text}
		return s

	default:
		return s
	}
}

func agentIndex(id domain.AgentID) (int, bool) {
	switch id {
	case domain.AgentIntel:
		return 0, true
	case domain.AgentStrategist:
		return 1, true
	case domain.AgentSafety:
		return 2, true
	default:
		return -1, false
	}
}

func summarize(agent domain.AgentID, p domain.AgentCompletedPayload) string {
	switch agent {
	case domain.AgentIntel:
		deflection := "no deflection needed"
		if p.RequiresDeflection != nil && *p.RequiresDeflection {
			deflection = "deflection required"
		}
		return fmt.Sprintf("Risk %s/10 | %s Mt | %s", fmt1(p.RiskScore), fmt1(p.KineticEnergyMt), deflection)
	case domain.AgentStrategist:
		return fmt.Sprintf("Optimal #%s | score %s | confidence %s%%",
			fmtInt(p.OptimalID), fmt1(p.Score), fmt1(percent(p.SuccessProbability)))
	case domain.AgentSafety:
		return fmt.Sprintf("Fragmentation %s%% | miss %s km | confidence %s%%",
			fmt1(p.FragmentationRisk), fmt1(p.MissDistanceKm), fmt1(p.Confidence))
	default:
		return ""
	}
}

// fmt1 renders a metric to one decimal, rounding halves up, with a dash
// for a missing value.
func fmt1(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", math.Round(*v*10)/10)
}

func fmtInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func percent(v *float64) *float64 {
	if v == nil {
		return nil
	}
	p := *v * 100
	return &p
}
