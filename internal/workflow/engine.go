package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/internal/domain"
	"aegis/internal/store/sqlite"
)

var ErrNoTarget = errors.New("analysis request names no target")

// Store is the persistence surface the engine needs.
type Store interface {
	CreateAsteroid(ctx context.Context, a domain.Asteroid) error
	SearchAsteroid(ctx context.Context, term string) (domain.Asteroid, error)
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, runID string) (domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error
	SaveAssessment(ctx context.Context, runID string, a domain.ThreatAssessment) error
	SaveCandidates(ctx context.Context, runID string, candidates []domain.Candidate) error
	MarkOptimal(ctx context.Context, runID string, candidateID int) error
	SaveQuantumResult(ctx context.Context, runID string, q domain.QuantumResult) error
	SaveSafetyEvaluation(ctx context.Context, runID string, ev domain.SafetyEvaluation) error
	SaveDecision(ctx context.Context, runID string, status domain.RunStatus, rationale string) error
	AppendAgentLog(ctx context.Context, entry domain.AgentLog) error
}

// Broadcaster fans workflow events out to connected dashboards.
type Broadcaster interface {
	Publish(ev domain.Event)
}

type Config struct {
	StageDelay     time.Duration
	ManeuverPath   string
	CandidateCount int
	TopK           int
}

func (c Config) withDefaults() Config {
	if c.CandidateCount <= 0 {
		c.CandidateCount = 50
	}
	if c.TopK <= 0 {
		c.TopK = 16
	}
	if c.ManeuverPath == "" {
		c.ManeuverPath = "maneuvers.json"
	}
	return c
}

// Engine runs the three-stage deflection analysis, persisting each
// stage artifact and broadcasting progress events as it goes.
type Engine struct {
	store  Store
	bus    Broadcaster
	logger *log.Logger
	cfg    Config

	mu  sync.Mutex
	rng *rand.Rand
	wg  sync.WaitGroup
}

func New(store Store, bus Broadcaster, logger *log.Logger, cfg Config) *Engine {
	return &Engine{
		store:  store,
		bus:    bus,
		logger: logger,
		cfg:    cfg.withDefaults(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// StartRun registers a run and launches the analysis in the background.
func (e *Engine) StartRun(ctx context.Context, req domain.AnalysisRequest) (string, error) {
	target := strings.TrimSpace(req.Name)
	if target == "" {
		target = strings.TrimSpace(req.Prompt)
	}
	if target == "" {
		return "", ErrNoTarget
	}

	runID := uuid.NewString()
	if err := e.store.CreateRun(ctx, domain.Run{
		ID:     runID,
		Target: target,
		Status: domain.RunStatusRunning,
	}); err != nil {
		return "", fmt.Errorf("register run: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(context.WithoutCancel(ctx), runID, req)
	}()
	return runID, nil
}

// Status reports the durable state of a run.
func (e *Engine) Status(ctx context.Context, runID string) (domain.Run, error) {
	return e.store.GetRun(ctx, runID)
}

// Wait blocks until every in-flight run has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) execute(ctx context.Context, runID string, req domain.AnalysisRequest) {
	e.publish(domain.EventWorkflowStarted, "orchestrator", "STARTED", domain.WorkflowStartedPayload{
		RunID:  runID,
		Target: firstNonEmpty(req.Name, req.Prompt),
	})

	asteroid, err := e.runIntel(ctx, runID, req)
	if err != nil {
		e.fail(ctx, runID, domain.AgentIntel, err)
		return
	}

	assessment := assessThreat(asteroid)
	if err := e.store.SaveAssessment(ctx, runID, assessment); err != nil {
		e.logger.Printf("workflow %s: save assessment: %v", runID, err)
	}
	e.logAgent(ctx, runID, domain.AgentIntel, "threat_assessed",
		fmt.Sprintf("risk=%.2f energy=%.1fMt", assessment.RiskScore, assessment.KineticEnergyMt))
	e.publish(domain.EventAgentCompleted, domain.AgentIntel, "COMPLETED", domain.AgentCompletedPayload{
		RiskScore:          &assessment.RiskScore,
		KineticEnergyMt:    &assessment.KineticEnergyMt,
		RequiresDeflection: &assessment.RequiresDeflection,
	})

	if !assessment.RequiresDeflection {
		e.finish(ctx, runID, domain.RunStatusNoAction, "low risk, no deflection needed")
		return
	}

	e.sleep(ctx)
	optimal, quantum, err := e.runStrategist(ctx, runID)
	if err != nil {
		e.fail(ctx, runID, domain.AgentStrategist, err)
		return
	}

	e.sleep(ctx)
	verdict := e.runSafety(ctx, runID, optimal, quantum)
	if verdict.Approved {
		e.finish(ctx, runID, domain.RunStatusApproved, "all safety gates passed")
	} else {
		e.finish(ctx, runID, domain.RunStatusRejected, "safety gates failed")
	}
}

// runIntel resolves the analysis target, from the survey catalog when a
// prompt is given or from the explicit parameters otherwise.
func (e *Engine) runIntel(ctx context.Context, runID string, req domain.AnalysisRequest) (domain.Asteroid, error) {
	e.publish(domain.EventAgentStarted, domain.AgentIntel, "RUNNING", domain.AgentStartedPayload{
		Message: "Analyzing threat level...",
	})
	e.sleep(ctx)

	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		e.publish(domain.EventAgentStatus, domain.AgentIntel, "RUNNING", domain.AgentStatusPayload{
			Message: fmt.Sprintf("Parsing command: %q...", prompt),
		})

		asteroid, err := e.resolvePrompt(ctx, prompt)
		if err != nil {
			return domain.Asteroid{}, fmt.Errorf("could not identify asteroid in database from prompt %q", prompt)
		}
		e.publish(domain.EventAsteroidFound, domain.AgentIntel, "COMPLETED", domain.AsteroidFoundPayload{
			Name:              asteroid.Name,
			DiameterM:         asteroid.DiameterM,
			VelocityKms:       asteroid.VelocityKms,
			ImpactProbability: asteroid.ImpactProbability,
		})
		e.publish(domain.EventAgentStatus, domain.AgentIntel, "RUNNING", domain.AgentStatusPayload{
			Message: "Target Identified: " + asteroid.Name,
		})
		e.logAgent(ctx, runID, domain.AgentIntel, "target_resolved", asteroid.Name)
		return asteroid, nil
	}

	asteroid := domain.Asteroid{
		ID:                uuid.NewString(),
		Name:              req.Name,
		DiameterM:         req.DiameterM,
		VelocityKms:       req.VelocityKms,
		MassKg:            req.MassKg,
		ImpactProbability: req.ImpactProbability,
	}
	if asteroid.MassKg == 0 {
		asteroid.MassKg = 1e10
	}
	if asteroid.VelocityKms == 0 {
		asteroid.VelocityKms = 20
	}
	if err := e.store.CreateAsteroid(ctx, asteroid); err != nil {
		return domain.Asteroid{}, fmt.Errorf("record target: %w", err)
	}
	e.logAgent(ctx, runID, domain.AgentIntel, "target_recorded", asteroid.Name)
	return asteroid, nil
}

// resolvePrompt looks up capitalized words against the catalog, falling
// back to a whole-prompt search for short prompts.
func (e *Engine) resolvePrompt(ctx context.Context, prompt string) (domain.Asteroid, error) {
	for _, word := range strings.Fields(prompt) {
		trimmed := strings.Trim(word, ".,!?'\"")
		if len(trimmed) <= 3 || trimmed[0] < 'A' || trimmed[0] > 'Z' {
			continue
		}
		e.publish(domain.EventAgentStatus, domain.AgentIntel, "RUNNING", domain.AgentStatusPayload{
			Message: fmt.Sprintf("Querying database for %q...", trimmed),
		})
		asteroid, err := e.store.SearchAsteroid(ctx, trimmed)
		if err == nil {
			return asteroid, nil
		}
		if !errors.Is(err, sqlite.ErrNotFound) {
			return domain.Asteroid{}, err
		}
	}
	if len(strings.Fields(prompt)) <= 2 {
		return e.store.SearchAsteroid(ctx, prompt)
	}
	return domain.Asteroid{}, sqlite.ErrNotFound
}

func (e *Engine) runStrategist(ctx context.Context, runID string) (domain.Candidate, domain.QuantumResult, error) {
	e.publish(domain.EventAgentStarted, domain.AgentStrategist, "RUNNING", domain.AgentStartedPayload{
		Message: "Generating deflection strategies...",
	})
	e.sleep(ctx)

	candidates := e.generateCandidates()
	if err := e.store.SaveCandidates(ctx, runID, candidates); err != nil {
		return domain.Candidate{}, domain.QuantumResult{}, fmt.Errorf("persist candidates: %w", err)
	}
	if err := writeManeuverFile(e.cfg.ManeuverPath, candidates); err != nil {
		// The collaborator service just sees stale data; the run goes on.
		e.logger.Printf("workflow %s: write maneuver file: %v", runID, err)
	}
	e.publish(domain.EventCandidatesGenerated, domain.AgentStrategist, "RUNNING", domain.CandidatesPayload{
		Candidates: candidates,
	})
	e.sleep(ctx)

	optimal, ok := selectOptimal(candidates)
	if !ok {
		return domain.Candidate{}, domain.QuantumResult{}, errors.New("no deflection candidates generated")
	}
	quantum := domain.QuantumResult{
		OptimalID:          optimal.ID,
		Score:              optimal.Score,
		SuccessProbability: optimal.Score,
		Iterations:         iterationsFor(len(candidates)),
		Method:             "classical",
	}
	if err := e.store.SaveQuantumResult(ctx, runID, quantum); err != nil {
		e.logger.Printf("workflow %s: save quantum result: %v", runID, err)
	}
	if err := e.store.MarkOptimal(ctx, runID, optimal.ID); err != nil {
		e.logger.Printf("workflow %s: mark optimal: %v", runID, err)
	}
	e.logAgent(ctx, runID, domain.AgentStrategist, "optimal_selected",
		fmt.Sprintf("candidate=%d score=%.4f", optimal.ID, optimal.Score))
	e.publish(domain.EventAgentCompleted, domain.AgentStrategist, "COMPLETED", domain.AgentCompletedPayload{
		OptimalID:          &optimal.ID,
		Score:              &optimal.Score,
		SuccessProbability: &quantum.SuccessProbability,
	})
	return optimal, quantum, nil
}

func (e *Engine) runSafety(ctx context.Context, runID string, optimal domain.Candidate, quantum domain.QuantumResult) domain.SafetyEvaluation {
	e.publish(domain.EventAgentStarted, domain.AgentSafety, "RUNNING", domain.AgentStartedPayload{
		Message: "Validating solution safety...",
	})
	e.sleep(ctx)

	evaluation := evaluateSafety(optimal, quantum)
	if err := e.store.SaveSafetyEvaluation(ctx, runID, evaluation); err != nil {
		e.logger.Printf("workflow %s: save safety evaluation: %v", runID, err)
	}
	e.logAgent(ctx, runID, domain.AgentSafety, "safety_validated",
		fmt.Sprintf("approved=%t fragmentation=%.1f miss=%.0fkm", evaluation.Approved, evaluation.FragmentationRisk, evaluation.MissDistanceKm))
	e.publish(domain.EventAgentCompleted, domain.AgentSafety, "COMPLETED", domain.AgentCompletedPayload{
		FragmentationRisk: &evaluation.FragmentationRisk,
		MissDistanceKm:    &evaluation.MissDistanceKm,
		Confidence:        &evaluation.Confidence,
	})
	return evaluation
}

func (e *Engine) finish(ctx context.Context, runID string, status domain.RunStatus, rationale string) {
	if err := e.store.SaveDecision(ctx, runID, status, rationale); err != nil {
		e.logger.Printf("workflow %s: save decision: %v", runID, err)
	}
	if err := e.store.UpdateRunStatus(ctx, runID, status, ""); err != nil {
		e.logger.Printf("workflow %s: update status: %v", runID, err)
	}
	e.publish(domain.EventWorkflowCompleted, "orchestrator", string(status), domain.WorkflowCompletedPayload{
		RunID:  runID,
		Reason: rationale,
	})
	e.logger.Printf("workflow %s: finished status=%s", runID, status)
}

func (e *Engine) fail(ctx context.Context, runID string, agent domain.AgentID, cause error) {
	if err := e.store.UpdateRunStatus(ctx, runID, domain.RunStatusError, cause.Error()); err != nil {
		e.logger.Printf("workflow %s: update error status: %v", runID, err)
	}
	e.publish(domain.EventWorkflowError, agent, "ERROR", domain.WorkflowErrorPayload{
		Error: cause.Error(),
	})
	e.logger.Printf("workflow %s: failed at %s: %v", runID, agent, cause)
}

func (e *Engine) publish(kind domain.EventKind, agent domain.AgentID, status string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Printf("marshal %s payload: %v", kind, err)
		return
	}
	e.bus.Publish(domain.Event{
		Kind:      kind,
		Agent:     agent,
		Status:    status,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Engine) logAgent(ctx context.Context, runID string, agent domain.AgentID, action, detail string) {
	if err := e.store.AppendAgentLog(ctx, domain.AgentLog{
		RunID:  runID,
		Agent:  agent,
		Action: action,
		Detail: detail,
	}); err != nil {
		e.logger.Printf("workflow %s: append agent log: %v", runID, err)
	}
}

func (e *Engine) sleep(ctx context.Context) {
	if e.cfg.StageDelay <= 0 {
		return
	}
	select {
	case <-time.After(e.cfg.StageDelay):
	case <-ctx.Done():
	}
}

// generateCandidates simulates the kinetic-impactor sweep: a wide sample
// scored against the 12 km/s, 45 degree optimum, trimmed to the top
// candidates and re-numbered for the maneuver search.
func (e *Engine) generateCandidates() []domain.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := make([]domain.Candidate, 0, e.cfg.CandidateCount)
	for i := 0; i < e.cfg.CandidateCount; i++ {
		velocity := 5.0 + e.rng.Float64()*20.0
		angle := 10.0 + e.rng.Float64()*80.0
		impactor := 500.0 + e.rng.Float64()*1000.0

		vScore := 1.0 - math.Min(1.0, math.Abs(velocity-12.0)/12.0)
		aScore := 1.0 - math.Min(1.0, math.Abs(angle-45.0)/45.0)
		score := (vScore*0.6 + aScore*0.4) * (0.9 + e.rng.Float64()*0.2)
		score = math.Max(0.1, math.Min(0.99, score))

		valid := true
		if score < 0.3 {
			valid = e.rng.Float64() > 0.8
		}

		candidates = append(candidates, domain.Candidate{
			ID:             i,
			VelocityKms:    round2(velocity),
			AngleDeg:       round2(angle),
			ImpactorMassKg: round1(impactor),
			Score:          round4(score),
			Valid:          valid,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > e.cfg.TopK {
		candidates = candidates[:e.cfg.TopK]
	}
	for i := range candidates {
		candidates[i].ID = i
	}
	return candidates
}

// selectOptimal picks the highest-scoring valid candidate, falling back
// to the highest-scoring one overall when none pass validity.
func selectOptimal(candidates []domain.Candidate) (domain.Candidate, bool) {
	var best domain.Candidate
	found := false
	for _, c := range candidates {
		if !c.Valid {
			continue
		}
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	if found {
		return best, true
	}
	for _, c := range candidates {
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}

func assessThreat(a domain.Asteroid) domain.ThreatAssessment {
	energy := 0.5 * a.MassKg * math.Pow(a.VelocityKms*1000, 2) / 4.184e15
	score := a.ImpactProbability * 10
	if a.DiameterM > 100 {
		score++
	}
	score = math.Min(10, score)
	return domain.ThreatAssessment{
		RiskScore:          score,
		KineticEnergyMt:    energy,
		ImpactProbability:  a.ImpactProbability,
		RequiresDeflection: score >= 4.0,
	}
}

func evaluateSafety(optimal domain.Candidate, quantum domain.QuantumResult) domain.SafetyEvaluation {
	fragmentation := optimal.VelocityKms / 20 * 60
	miss := 15000 + float64(optimal.ID)*500
	confidence := quantum.SuccessProbability * 100
	return domain.SafetyEvaluation{
		FragmentationRisk: fragmentation,
		MissDistanceKm:    miss,
		Confidence:        confidence,
		Approved:          fragmentation < 100 && miss > 10000 && confidence > 75,
	}
}

type maneuverFile struct {
	Maneuvers []domain.Maneuver `json:"maneuvers"`
}

func writeManeuverFile(path string, candidates []domain.Candidate) error {
	payload := maneuverFile{Maneuvers: make([]domain.Maneuver, 0, len(candidates))}
	for _, c := range candidates {
		payload.Maneuvers = append(payload.Maneuvers, domain.Maneuver{
			ID:    c.ID,
			Score: c.Score,
			Valid: c.Valid,
		})
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal maneuvers: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write maneuvers: %w", err)
	}
	return nil
}

// iterationsFor approximates the search iteration count for n entries.
func iterationsFor(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Round(math.Pi / 4 * math.Sqrt(float64(n))))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
