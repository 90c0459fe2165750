package domain

import (
	"encoding/json"
	"time"
)

// EventKind is the closed set of frame types broadcast over the /ws socket.
type EventKind string

const (
	EventConnected           EventKind = "connected"
	EventWorkflowStarted     EventKind = "workflow_started"
	EventAgentStarted        EventKind = "agent_started"
	EventAgentStatus         EventKind = "agent_status"
	EventAsteroidFound       EventKind = "asteroid_found"
	EventCandidatesGenerated EventKind = "candidates_generated"
	EventAgentCompleted      EventKind = "agent_completed"
	EventWorkflowCompleted   EventKind = "workflow_completed"
	EventWorkflowError       EventKind = "workflow_error"
	EventPong                EventKind = "pong"
)

// AgentID identifies one of the three workflow stages.
type AgentID string

const (
	AgentIntel      AgentID = "agent_1"
	AgentStrategist AgentID = "agent_2"
	AgentSafety     AgentID = "agent_3"
)

type RunStatus string

const (
	RunStatusApproved RunStatus = "APPROVED"
	RunStatusRejected RunStatus = "REJECTED"
	RunStatusNoAction RunStatus = "NO_ACTION"
	RunStatusError    RunStatus = "ERROR"
	RunStatusRunning  RunStatus = "RUNNING"
)

// Event is the envelope for every frame on the workflow socket. Data
// carries a kind-specific payload and may be absent.
type Event struct {
	Kind      EventKind       `json:"event"`
	Agent     AgentID         `json:"agent,omitempty"`
	Status    string          `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodeData unmarshals the event payload into v. A nil payload is left
// as the zero value without error.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Asteroid holds the physical parameters an analysis runs against.
type Asteroid struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	DiameterM         float64   `json:"diameter_m"`
	VelocityKms       float64   `json:"velocity_kms"`
	MassKg            float64   `json:"mass_kg"`
	ImpactProbability float64   `json:"impact_probability"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
}

// AnalysisRequest is the POST /analyze body. Either Prompt or the
// explicit parameters must be present; Prompt wins when both are set.
type AnalysisRequest struct {
	Prompt            string  `json:"prompt,omitempty"`
	Name              string  `json:"name,omitempty"`
	DiameterM         float64 `json:"diameter_m,omitempty"`
	VelocityKms       float64 `json:"velocity_kms,omitempty"`
	MassKg            float64 `json:"mass_kg,omitempty"`
	ImpactProbability float64 `json:"impact_probability,omitempty"`
}

// ThreatAssessment is the intel stage's verdict on the target.
type ThreatAssessment struct {
	RiskScore          float64 `json:"risk_score"`
	KineticEnergyMt    float64 `json:"kinetic_energy_mt"`
	ImpactProbability  float64 `json:"impact_probability"`
	RequiresDeflection bool    `json:"requires_deflection"`
}

// Candidate is one kinetic-impactor maneuver proposal.
type Candidate struct {
	ID             int     `json:"id"`
	VelocityKms    float64 `json:"velocity_kms"`
	AngleDeg       float64 `json:"angle_deg"`
	ImpactorMassKg float64 `json:"impactor_mass_kg"`
	Score          float64 `json:"score"`
	Valid          bool    `json:"valid"`
}

// QuantumResult is the outcome of the maneuver search, whether it came
// from the collaborator service or the deterministic fallback.
type QuantumResult struct {
	OptimalID          int     `json:"optimal_id"`
	Score              float64 `json:"score"`
	SuccessProbability float64 `json:"success_probability"`
	Iterations         int     `json:"iterations"`
	Method             string  `json:"method"`
}

// SafetyEvaluation is the safety stage's judgement of the chosen maneuver.
type SafetyEvaluation struct {
	FragmentationRisk float64 `json:"fragmentation_risk"`
	MissDistanceKm    float64 `json:"miss_distance_km"`
	Confidence        float64 `json:"confidence"`
	Approved          bool    `json:"approved"`
}

// AgentLog is one persisted line of per-run agent activity.
type AgentLog struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Agent     AgentID   `json:"agent"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is the durable record of one workflow execution.
type Run struct {
	ID         string    `json:"id"`
	AsteroidID string    `json:"asteroid_id"`
	Target     string    `json:"target"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Payload shapes for the typed events.

type WorkflowStartedPayload struct {
	RunID  string `json:"run_id"`
	Target string `json:"target"`
}

type AgentStartedPayload struct {
	Message string `json:"message"`
}

type AgentStatusPayload struct {
	Message string `json:"message"`
}

type AsteroidFoundPayload struct {
	Name              string  `json:"name"`
	DiameterM         float64 `json:"diameter_m"`
	VelocityKms       float64 `json:"velocity_kms"`
	ImpactProbability float64 `json:"impact_probability"`
}

type CandidatesPayload struct {
	Candidates []Candidate `json:"candidates"`
}

// AgentCompletedPayload carries the union of per-stage summary fields.
// Pointers distinguish absent metrics from zero values.
type AgentCompletedPayload struct {
	RiskScore          *float64 `json:"risk_score,omitempty"`
	KineticEnergyMt    *float64 `json:"kinetic_energy_mt,omitempty"`
	RequiresDeflection *bool    `json:"requires_deflection,omitempty"`
	OptimalID          *int     `json:"optimal_id,omitempty"`
	Score              *float64 `json:"score,omitempty"`
	SuccessProbability *float64 `json:"success_probability,omitempty"`
	FragmentationRisk  *float64 `json:"fragmentation_risk,omitempty"`
	MissDistanceKm     *float64 `json:"miss_distance_km,omitempty"`
	Confidence         *float64 `json:"confidence,omitempty"`
}

type WorkflowCompletedPayload struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

type WorkflowErrorPayload struct {
	Error string `json:"error"`
}

// Maneuver is the quantum collaborator's view of a candidate, exchanged
// through the maneuver file the strategist stage writes.
type Maneuver struct {
	ID    int     `json:"id"`
	Score float64 `json:"score"`
	Valid bool    `json:"valid"`
}

// GroverResponse is the GET /run-grover reply body.
type GroverResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    *GroverData `json:"data,omitempty"`
}

type GroverData struct {
	PlotImage          string   `json:"plot_image"`
	Maneuver           Maneuver `json:"maneuver"`
	SuccessProbability float64  `json:"success_probability"`
	Iterations         int      `json:"iterations"`
}
