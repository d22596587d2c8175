package recorder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/facestream/internal/fusion"
)

// SessionRow is one recorded session.
type SessionRow struct {
	ID            uuid.UUID
	StartedAt     time.Time
	ListenAddress string
	Frames        int
}

// Frame is one recorded tick output. The summary columns are duplicated in
// Output for convenience.
type Frame struct {
	SessionID      uuid.UUID
	Timestamp      time.Time
	EyeActive      bool
	FaceActive     bool
	CombinedYaw    float64
	CombinedPitch  float64
	CombinedEyelid float64
	JawOpen        float64
	SmileLeft      float64
	SmileRight     float64
	Output         fusion.Output
}

// TransitionRecord is one recorded liveness change.
type TransitionRecord struct {
	SessionID uuid.UUID
	At        time.Time
	Category  string
	State     string
}

// Sessions lists every session, newest first, with its frame count.
func (r *Recorder) Sessions() ([]SessionRow, error) {
	rows, err := r.db.Query(`
		SELECT s.id, s.started_at, s.listen_address, COUNT(f.session_id)
		FROM sessions s
		LEFT JOIN frames f ON f.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			s       SessionRow
			id      string
			started int64
		)
		if err := rows.Scan(&id, &started, &s.ListenAddress, &s.Frames); err != nil {
			return nil, err
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("session id %q: %w", id, err)
		}
		s.StartedAt = time.Unix(0, started).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Frames returns the recorded frames of sessionID in time order.
func (r *Recorder) Frames(sessionID uuid.UUID) ([]Frame, error) {
	rows, err := r.db.Query(`
		SELECT ts_unix_nanos, eye_active, face_active, combined_yaw, combined_pitch,
		       combined_eyelid, jaw_open, smile_left, smile_right, payload
		FROM frames
		WHERE session_id = ?
		ORDER BY ts_unix_nanos`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var (
			f       Frame
			ts      int64
			payload string
		)
		if err := rows.Scan(&ts, &f.EyeActive, &f.FaceActive, &f.CombinedYaw, &f.CombinedPitch,
			&f.CombinedEyelid, &f.JawOpen, &f.SmileLeft, &f.SmileRight, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &f.Output); err != nil {
			return nil, fmt.Errorf("decode frame at %d: %w", ts, err)
		}
		f.SessionID = sessionID
		f.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// Transitions returns the recorded liveness changes of sessionID in time
// order.
func (r *Recorder) Transitions(sessionID uuid.UUID) ([]TransitionRecord, error) {
	rows, err := r.db.Query(`
		SELECT ts, category, state FROM transitions
		WHERE session_id = ?
		ORDER BY ts`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		t := TransitionRecord{SessionID: sessionID}
		var ts int64
		if err := rows.Scan(&ts, &t.Category, &t.State); err != nil {
			return nil, err
		}
		t.At = time.Unix(0, ts).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
