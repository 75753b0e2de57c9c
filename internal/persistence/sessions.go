package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kemerova/argus/internal/orchestrator"
)

// ErrSessionNotFound is returned when no archived session has the given id.
var ErrSessionNotFound = errors.New("session not found")

// PhaseRecord is the archived summary of one phase.
type PhaseRecord struct {
	Phase         string
	Status        orchestrator.Status
	Consensus     float64
	ExecutionTime time.Duration
	AgentCount    int
	QualityGates  map[string]string // gate name to passed, failed or not_run
}

// SessionRecord is an archived run.
type SessionRecord struct {
	SessionID         string
	Project           string
	Status            orchestrator.Status
	StartedAt         time.Time
	TotalTime         time.Duration
	ConsensusAchieved bool
	FinalOutput       string
	Metadata          map[string]any
	Phases            []PhaseRecord // empty in ListSessions results
}

// ArchiveSession stores a finished run, replacing any earlier archive of
// the same session.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, result orchestrator.Result) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode session metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Deleting the session row cascades to its phases.
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, result.SessionID); err != nil {
		return fmt.Errorf("failed to clear previous archive: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions
			(session_id, project, status, started_at, total_time_ms, consensus_achieved, final_output, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, result.SessionID, result.Project, string(result.Status), result.StartedAt.UnixMilli(),
		result.TotalTime.Milliseconds(), result.ConsensusAchieved, result.FinalOutput, string(metadata))
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	for i, p := range result.Phases {
		gates := make(map[string]string, len(p.QualityGates))
		for name, g := range p.QualityGates {
			gates[name] = g.Status.String()
		}
		gatesJSON, err := json.Marshal(gates)
		if err != nil {
			return fmt.Errorf("failed to encode quality gates: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_phases
				(session_id, position, phase, status, consensus, execution_time_ms, agent_count, quality_gates)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, result.SessionID, i, p.Phase, string(p.Status), p.Consensus,
			p.ExecutionTime.Milliseconds(), len(p.Responses), string(gatesJSON))
		if err != nil {
			return fmt.Errorf("failed to archive phase %q: %w", p.Phase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSessionRecord loads an archived run with its phases.
// Returns an error wrapping ErrSessionNotFound for unknown ids.
func (s *SQLiteStore) GetSessionRecord(ctx context.Context, sessionID string) (SessionRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rec, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT session_id, project, status, started_at, total_time_ms, consensus_achieved, final_output, metadata
		FROM sessions
		WHERE session_id = ?
	`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to query session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, status, consensus, execution_time_ms, agent_count, quality_gates
		FROM session_phases
		WHERE session_id = ?
		ORDER BY position
	`, sessionID)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to query phases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p         PhaseRecord
			status    string
			execMS    int64
			gatesJSON string
		)
		if err := rows.Scan(&p.Phase, &status, &p.Consensus, &execMS, &p.AgentCount, &gatesJSON); err != nil {
			return SessionRecord{}, fmt.Errorf("failed to scan phase: %w", err)
		}
		p.Status = orchestrator.Status(status)
		p.ExecutionTime = time.Duration(execMS) * time.Millisecond
		if err := json.Unmarshal([]byte(gatesJSON), &p.QualityGates); err != nil {
			return SessionRecord{}, fmt.Errorf("failed to decode quality gates: %w", err)
		}
		rec.Phases = append(rec.Phases, p)
	}
	if err := rows.Err(); err != nil {
		return SessionRecord{}, fmt.Errorf("error iterating phases: %w", err)
	}
	return rec, nil
}

// ListSessions returns the most recently started runs first, without
// their phases. A non-positive limit returns every run.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, project, status, started_at, total_time_ms, consensus_achieved, final_output, metadata
		FROM sessions
		ORDER BY started_at DESC, session_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec       SessionRecord
		status    string
		startedMS int64
		totalMS   int64
		metadata  string
	)
	if err := row.Scan(&rec.SessionID, &rec.Project, &status, &startedMS, &totalMS,
		&rec.ConsensusAchieved, &rec.FinalOutput, &metadata); err != nil {
		return SessionRecord{}, err
	}
	rec.Status = orchestrator.Status(status)
	rec.StartedAt = time.UnixMilli(startedMS)
	rec.TotalTime = time.Duration(totalMS) * time.Millisecond
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return SessionRecord{}, fmt.Errorf("decode metadata: %w", err)
	}
	return rec, nil
}

var _ Store = (*SQLiteStore)(nil)
