package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/SeamusWaldron/wakering/internal/measure"
	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// Session is one stored measurement session.
type Session struct {
	SessionID string
	Device    string
	Kind      protocol.Kind
	StartedAt time.Time
	EndedAt   *time.Time
	Reading   *protocol.Value
	Error     string
	Frames    int
}

// Frame is one archived notification.
type Frame struct {
	FrameID    int64
	SessionID  string
	Kind       protocol.Kind
	CapturedAt time.Time
	Raw        []byte
	Diagnostic string
}

// MeasurementRepository archives measurement sessions and their frames. It
// implements measure.SessionArchive.
type MeasurementRepository struct {
	db     *DB
	device string
}

// NewMeasurementRepository creates a repository recording sessions of the
// ring at device.
func NewMeasurementRepository(db *DB, device string) *MeasurementRepository {
	return &MeasurementRepository{db: db, device: device}
}

var _ measure.SessionArchive = (*MeasurementRepository)(nil)

// BeginSession records the start of a session.
func (r *MeasurementRepository) BeginSession(sessionID string, kind protocol.Kind, at time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO sessions (session_id, device, kind, started_at_ms)
		VALUES (?, ?, ?, ?)
	`, sessionID, r.device, kind.String(), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// EndSession records how a session ended.
func (r *MeasurementRepository) EndSession(sessionID string, out measure.Outcome) error {
	var raw, scale sql.NullInt64
	if out.Reading != nil {
		raw = sql.NullInt64{Int64: int64(out.Reading.Value.Raw), Valid: true}
		scale = sql.NullInt64{Int64: int64(out.Reading.Value.Scale), Valid: true}
	}
	var errText sql.NullString
	if out.Err != nil {
		errText = sql.NullString{String: out.Err.Error(), Valid: true}
	}

	res, err := r.db.Exec(`
		UPDATE sessions
		SET ended_at_ms = ?, result_raw = ?, result_scale = ?, error = ?
		WHERE session_id = ?
	`, out.EndedAt.UnixMilli(), raw, scale, errText, sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to end session: %s not found", sessionID)
	}
	return nil
}

// AppendFrame archives one frame of a session.
func (r *MeasurementRepository) AppendFrame(sessionID string, f measure.ArchivedFrame) error {
	_, err := r.db.Exec(`
		INSERT INTO frames (session_id, kind, ts_ms, raw, diagnostic)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, f.Kind.String(), f.CapturedAt.UnixMilli(), f.Raw, f.Diagnostic.String())
	if err != nil {
		return fmt.Errorf("failed to archive frame: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first. A KindNone
// kind lists every kind; limit <= 0 means no limit.
func (r *MeasurementRepository) ListSessions(kind protocol.Kind, limit int) ([]Session, error) {
	query := `
		SELECT s.session_id, s.device, s.kind, s.started_at_ms, s.ended_at_ms,
			s.result_raw, s.result_scale, s.error,
			(SELECT COUNT(*) FROM frames f WHERE f.session_id = s.session_id)
		FROM sessions s
		WHERE s.device = ?`
	args := []any{r.device}
	if kind != protocol.KindNone {
		query += ` AND s.kind = ?`
		args = append(args, kind.String())
	}
	query += ` ORDER BY s.started_at_ms DESC, s.rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s          Session
			kindName   string
			startedMs  int64
			endedMs    sql.NullInt64
			raw, scale sql.NullInt64
			errText    sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &s.Device, &kindName, &startedMs, &endedMs, &raw, &scale, &errText, &s.Frames); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Kind, _ = protocol.ParseKind(kindName)
		s.StartedAt = time.UnixMilli(startedMs)
		if endedMs.Valid {
			t := time.UnixMilli(endedMs.Int64)
			s.EndedAt = &t
		}
		if raw.Valid {
			s.Reading = &protocol.Value{Raw: int(raw.Int64), Scale: int(scale.Int64)}
		}
		s.Error = errText.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Frames returns the frames of a session in arrival order.
func (r *MeasurementRepository) Frames(sessionID string) ([]Frame, error) {
	rows, err := r.db.Query(`
		SELECT frame_id, session_id, kind, ts_ms, raw, diagnostic
		FROM frames
		WHERE session_id = ?
		ORDER BY frame_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var f Frame
		var kindName string
		var tsMs int64
		if err := rows.Scan(&f.FrameID, &f.SessionID, &kindName, &tsMs, &f.Raw, &f.Diagnostic); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		f.Kind, _ = protocol.ParseKind(kindName)
		f.CapturedAt = time.UnixMilli(tsMs)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteSessionsBefore removes sessions started before t together with
// their frames, returning how many sessions were removed.
func (r *MeasurementRepository) DeleteSessionsBefore(t time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE device = ? AND started_at_ms < ?`, r.device, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}
