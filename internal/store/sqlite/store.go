package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aegis/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS asteroids (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	diameter_m REAL NOT NULL,
	velocity_kms REAL NOT NULL,
	mass_kg REAL NOT NULL,
	impact_probability REAL NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_asteroids_name ON asteroids(name);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	asteroid_id TEXT NOT NULL,
	target TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_assessments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	risk_score REAL NOT NULL,
	kinetic_energy_mt REAL NOT NULL,
	impact_probability REAL NOT NULL,
	requires_deflection INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS simulation_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	candidate_id INTEGER NOT NULL,
	velocity_kms REAL NOT NULL,
	angle_deg REAL NOT NULL,
	impactor_mass_kg REAL NOT NULL,
	score REAL NOT NULL,
	valid INTEGER NOT NULL,
	optimal INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, candidate_id),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_simulation_runs_run ON simulation_runs(run_id, candidate_id);

CREATE TABLE IF NOT EXISTS quantum_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	optimal_id INTEGER NOT NULL,
	score REAL NOT NULL,
	success_probability REAL NOT NULL,
	iterations INTEGER NOT NULL,
	method TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS safety_evaluations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	fragmentation_risk REAL NOT NULL,
	miss_distance_km REAL NOT NULL,
	confidence REAL NOT NULL,
	approved INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS final_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	status TEXT NOT NULL,
	rationale TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS agent_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	agent TEXT NOT NULL,
	action TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_agent_logs_run ON agent_logs(run_id, created_at);
`

type seedAsteroid struct {
	id          string
	name        string
	diameterM   float64
	velocityKms float64
	massKg      float64
	impactProb  float64
}

// Survey catalog used until live observation feeds exist.
var seedAsteroids = []seedAsteroid{
	{"APO2026", "Apophis-2026", 340, 30.73, 6.1e10, 0.92},
	{"BENNU101", "Bennu", 492, 28.0, 7.329e10, 0.08},
	{"ATLAS2025", "Atlas-2025", 280, 25.5, 3.2e10, 0.45},
	{"DIDYMOS", "Didymos", 780, 23.8, 5.32e11, 0.001},
	{"RYUGU", "Ryugu", 900, 19.2, 4.5e11, 0.0001},
	{"EROS433", "Eros", 16840, 24.36, 6.687e15, 0.0},
	{"TOUTATIS", "Toutatis", 2450, 29.45, 5.0e13, 0.0},
	{"PHAETHON", "Phaethon", 5100, 35.0, 1.4e14, 0.0},
	{"HERMES", "Hermes", 400, 26.8, 2.0e10, 0.15},
	{"ORPHEUS", "Orpheus", 348, 31.2, 6.5e10, 0.68},
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema and seeds the survey catalog. Seeding is
// idempotent, existing rows are left alone.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	now := time.Now().UTC().Unix()
	for _, a := range seedAsteroids {
		_, err := s.db.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO asteroids(
				id, name, diameter_m, velocity_kms, mass_kg, impact_probability, created_at
			) VALUES(?, ?, ?, ?, ?, ?, ?)`,
			a.id, a.name, a.diameterM, a.velocityKms, a.massKg, a.impactProb, now,
		)
		if err != nil {
			return fmt.Errorf("seed asteroid %s: %w", a.name, err)
		}
	}
	return nil
}

func (s *Store) CreateAsteroid(ctx context.Context, a domain.Asteroid) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO asteroids(
			id, name, diameter_m, velocity_kms, mass_kg, impact_probability, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			diameter_m = excluded.diameter_m,
			velocity_kms = excluded.velocity_kms,
			mass_kg = excluded.mass_kg,
			impact_probability = excluded.impact_probability`,
		a.ID, a.Name, a.DiameterM, a.VelocityKms, a.MassKg, a.ImpactProbability, a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create asteroid: %w", err)
	}
	return nil
}

func (s *Store) GetAsteroid(ctx context.Context, id string) (domain.Asteroid, error) {
	return s.getAsteroid(ctx, `WHERE id = ?`, id)
}

func (s *Store) GetAsteroidByName(ctx context.Context, name string) (domain.Asteroid, error) {
	return s.getAsteroid(ctx, `WHERE name = ? COLLATE NOCASE`, name)
}

// SearchAsteroid finds the first asteroid whose name contains the term,
// case-insensitively. Used for prompt resolution.
func (s *Store) SearchAsteroid(ctx context.Context, term string) (domain.Asteroid, error) {
	pattern := "%" + strings.TrimSpace(term) + "%"
	return s.getAsteroid(ctx, `WHERE name LIKE ? COLLATE NOCASE ORDER BY name LIMIT 1`, pattern)
}

func (s *Store) getAsteroid(ctx context.Context, clause string, args ...any) (domain.Asteroid, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, diameter_m, velocity_kms, mass_kg, impact_probability, created_at
		FROM asteroids `+clause,
		args...,
	)
	var a domain.Asteroid
	var created int64
	if err := row.Scan(&a.ID, &a.Name, &a.DiameterM, &a.VelocityKms, &a.MassKg, &a.ImpactProbability, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Asteroid{}, ErrNotFound
		}
		return domain.Asteroid{}, fmt.Errorf("get asteroid: %w", err)
	}
	a.CreatedAt = unixToTime(created)
	return a, nil
}

func (s *Store) ListAsteroids(ctx context.Context) ([]domain.Asteroid, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, diameter_m, velocity_kms, mass_kg, impact_probability, created_at
		FROM asteroids ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list asteroids: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Asteroid, 0)
	for rows.Next() {
		var a domain.Asteroid
		var created int64
		if err := rows.Scan(&a.ID, &a.Name, &a.DiameterM, &a.VelocityKms, &a.MassKg, &a.ImpactProbability, &created); err != nil {
			return nil, fmt.Errorf("scan asteroid: %w", err)
		}
		a.CreatedAt = unixToTime(created)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asteroids: %w", err)
	}
	return result, nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs(id, asteroid_id, target, status, error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AsteroidID, run.Target, string(run.Status), run.Error,
		run.CreatedAt.Unix(), run.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, asteroid_id, target, status, error, created_at, updated_at
		FROM runs WHERE id = ?`,
		runID,
	)
	var r domain.Run
	var status string
	var created, updated int64
	if err := row.Scan(&r.ID, &r.AsteroidID, &r.Target, &status, &r.Error, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, ErrNotFound
		}
		return domain.Run{}, fmt.Errorf("get run: %w", err)
	}
	r.Status = domain.RunStatus(status)
	r.CreatedAt = unixToTime(created)
	r.UpdatedAt = unixToTime(updated)
	return r, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SaveAssessment(ctx context.Context, runID string, a domain.ThreatAssessment) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO risk_assessments(
			run_id, risk_score, kinetic_energy_mt, impact_probability, requires_deflection, created_at
		) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, a.RiskScore, a.KineticEnergyMt, a.ImpactProbability, boolToInt(a.RequiresDeflection),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

func (s *Store) SaveCandidates(ctx context.Context, runID string, candidates []domain.Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save candidates: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Unix()
	for _, c := range candidates {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO simulation_runs(
				run_id, candidate_id, velocity_kms, angle_deg, impactor_mass_kg, score, valid, created_at
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, c.ID, c.VelocityKms, c.AngleDeg, c.ImpactorMassKg, c.Score, boolToInt(c.Valid), now,
		)
		if err != nil {
			return fmt.Errorf("save candidate %d: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save candidates: %w", err)
	}
	return nil
}

func (s *Store) ListCandidates(ctx context.Context, runID string) ([]domain.Candidate, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT candidate_id, velocity_kms, angle_deg, impactor_mass_kg, score, valid
		FROM simulation_runs WHERE run_id = ? ORDER BY candidate_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Candidate, 0)
	for rows.Next() {
		var c domain.Candidate
		var valid int
		if err := rows.Scan(&c.ID, &c.VelocityKms, &c.AngleDeg, &c.ImpactorMassKg, &c.Score, &valid); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Valid = valid != 0
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return result, nil
}

// MarkOptimal flags the chosen candidate for the run, clearing any
// previous choice first.
func (s *Store) MarkOptimal(ctx context.Context, runID string, candidateID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark optimal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE simulation_runs SET optimal = 0 WHERE run_id = ?`,
		runID,
	); err != nil {
		return fmt.Errorf("clear optimal: %w", err)
	}
	res, err := tx.ExecContext(
		ctx,
		`UPDATE simulation_runs SET optimal = 1 WHERE run_id = ? AND candidate_id = ?`,
		runID, candidateID,
	)
	if err != nil {
		return fmt.Errorf("mark optimal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark optimal rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark optimal: %w", err)
	}
	return nil
}

func (s *Store) SaveQuantumResult(ctx context.Context, runID string, q domain.QuantumResult) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO quantum_results(
			run_id, optimal_id, score, success_probability, iterations, method, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		runID, q.OptimalID, q.Score, q.SuccessProbability, q.Iterations, q.Method,
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save quantum result: %w", err)
	}
	return nil
}

func (s *Store) SaveSafetyEvaluation(ctx context.Context, runID string, ev domain.SafetyEvaluation) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO safety_evaluations(
			run_id, fragmentation_risk, miss_distance_km, confidence, approved, created_at
		) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, ev.FragmentationRisk, ev.MissDistanceKm, ev.Confidence, boolToInt(ev.Approved),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save safety evaluation: %w", err)
	}
	return nil
}

func (s *Store) SaveDecision(ctx context.Context, runID string, status domain.RunStatus, rationale string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO final_decisions(run_id, status, rationale, created_at) VALUES(?, ?, ?, ?)`,
		runID, string(status), rationale, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

func (s *Store) AppendAgentLog(ctx context.Context, entry domain.AgentLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO agent_logs(run_id, agent, action, detail, created_at) VALUES(?, ?, ?, ?, ?)`,
		entry.RunID, string(entry.Agent), entry.Action, entry.Detail, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append agent log: %w", err)
	}
	return nil
}

func (s *Store) ListAgentLogs(ctx context.Context, runID string) ([]domain.AgentLog, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, agent, action, detail, created_at
		FROM agent_logs WHERE run_id = ? ORDER BY created_at, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list agent logs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AgentLog, 0)
	for rows.Next() {
		var entry domain.AgentLog
		var agent string
		var created int64
		if err := rows.Scan(&entry.ID, &entry.RunID, &agent, &entry.Action, &entry.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan agent log: %w", err)
		}
		entry.Agent = domain.AgentID(agent)
		entry.CreatedAt = unixToTime(created)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent logs: %w", err)
	}
	return result, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
