// Package recorder persists sessions, sampled tick outputs and liveness
// transitions to SQLite for later inspection.
package recorder

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/facestream/internal/fusion"
	"github.com/banshee-data/facestream/internal/tracking"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// DefaultQueueSize is the number of pending writes held before frames
	// are dropped.
	DefaultQueueSize = 1024

	maxBatch = 128
)

var (
	ErrClosed    = errors.New("recorder closed")
	ErrQueueFull = errors.New("recorder queue full")

	errEncodeFrame = errors.New("encode frame")
)

// Options tune the write path.
type Options struct {
	// Interval is the minimum spacing between recorded frames of one
	// session. Zero records every output.
	Interval  time.Duration
	QueueSize int
}

type transitionRow struct {
	sessionID uuid.UUID
	tr        tracking.Transition
}

// item is one unit of work for the writer. Exactly one field is set.
type item struct {
	frame      *fusion.Output
	transition *transitionRow
	done       chan struct{}
}

// Recorder owns the database and a single writer goroutine. Publish and
// RecordTransition never block on the database.
type Recorder struct {
	db       *sql.DB
	path     string
	interval time.Duration

	mu     sync.RWMutex
	queue  chan item
	closed bool
	wg     sync.WaitGroup

	sampleMu sync.Mutex
	last     map[uuid.UUID]time.Time

	written     atomic.Int64
	dropped     atomic.Int64
	writeErrors atomic.Int64
}

// Open opens or creates the database at path, applies pending migrations
// and starts the writer.
func Open(path string, opts Options) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	r := &Recorder{
		db:       db,
		path:     path,
		interval: opts.Interval,
		queue:    make(chan item, opts.QueueSize),
		last:     make(map[uuid.UUID]time.Time),
	}
	if err := r.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	opsf("opened %s (interval=%s)", path, opts.Interval)

	r.wg.Add(1)
	go r.writeLoop()
	return r, nil
}

// DB exposes the underlying handle for read-only tooling.
func (r *Recorder) DB() *sql.DB { return r.db }

func (r *Recorder) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite", driver)
}

// MigrateUp applies every embedded migration not yet applied.
func (r *Recorder) MigrateUp() error {
	m, err := r.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close r.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion reports the applied schema version. An empty database is
// version 0.
func (r *Recorder) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := r.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// RecordSession inserts the session row. Recording the same session twice
// is a no-op.
func (r *Recorder) RecordSession(id uuid.UUID, startedAt time.Time, listenAddress string) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, started_at, listen_address) VALUES (?, ?, ?)`,
		id.String(), startedAt.UnixNano(), listenAddress,
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", id, err)
	}
	return nil
}

// Publish queues o for writing when at least Interval has passed since the
// last recorded frame of its session. A full queue drops the frame.
func (r *Recorder) Publish(o fusion.Output) {
	if !r.sample(o) {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- item{frame: &o}:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) sample(o fusion.Output) bool {
	r.sampleMu.Lock()
	defer r.sampleMu.Unlock()
	last, ok := r.last[o.SessionID]
	if ok && r.interval > 0 && o.Timestamp.Sub(last) < r.interval {
		return false
	}
	r.last[o.SessionID] = o.Timestamp
	return true
}

// RecordTransition queues a liveness transition for sessionID.
func (r *Recorder) RecordTransition(sessionID uuid.UUID, tr tracking.Transition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- item{transition: &transitionRow{sessionID: sessionID, tr: tr}}:
		return nil
	default:
		r.dropped.Add(1)
		return ErrQueueFull
	}
}

// TransitionObserver returns a callback suitable for
// receiver.Receiver.OnTransition.
func (r *Recorder) TransitionObserver(sessionID uuid.UUID) func(tracking.Transition) {
	return func(tr tracking.Transition) {
		if err := r.RecordTransition(sessionID, tr); err != nil {
			diagf("transition %s %s dropped: %v", tr.Category, tr.To, err)
		}
	}
}

// Flush blocks until every write queued before the call has been
// committed.
func (r *Recorder) Flush() error {
	done := make(chan struct{})
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	r.queue <- item{done: done}
	r.mu.RUnlock()
	<-done
	return nil
}

// Written is the number of frames committed.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Dropped is the number of frames and transitions discarded on a full
// queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// WriteErrors counts failed batches and frames skipped because they could
// not be encoded.
func (r *Recorder) WriteErrors() int64 { return r.writeErrors.Load() }

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	batch := make([]item, 0, maxBatch)
	for it := range r.queue {
		batch = append(batch[:0], it)
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := r.write(batch); err != nil {
			r.writeErrors.Add(1)
			opsf("write batch of %d: %v", len(batch), err)
		}
		for _, b := range batch {
			if b.done != nil {
				close(b.done)
			}
		}
	}
}

func (r *Recorder) write(batch []item) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	frames, transitions := 0, 0
	for _, it := range batch {
		switch {
		case it.frame != nil:
			err := insertFrame(tx, it.frame)
			if errors.Is(err, errEncodeFrame) {
				// Skip only this frame; the rest of the batch still commits.
				r.writeErrors.Add(1)
				opsf("skip frame at %s: %v", it.frame.Timestamp.Format(time.RFC3339Nano), err)
				continue
			}
			if err != nil {
				return err
			}
			frames++
		case it.transition != nil:
			t := it.transition
			if _, err := tx.Exec(
				`INSERT INTO transitions (session_id, ts, category, state) VALUES (?, ?, ?, ?)`,
				t.sessionID.String(), t.tr.At.UnixNano(), t.tr.Category.String(), t.tr.To.String(),
			); err != nil {
				return fmt.Errorf("insert transition: %w", err)
			}
			transitions++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.written.Add(int64(frames))
	if frames+transitions > 0 {
		tracef("committed %d frames, %d transitions", frames, transitions)
	}
	return nil
}

func insertFrame(tx *sql.Tx, o *fusion.Output) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("%w: %v", errEncodeFrame, err)
	}
	c := o.Eyes.Combined
	f := o.Mouth.Face
	_, err = tx.Exec(`
		INSERT INTO frames (
			session_id, ts_unix_nanos, eye_active, face_active,
			combined_yaw, combined_pitch, combined_eyelid,
			jaw_open, smile_left, smile_right, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SessionID.String(), o.Timestamp.UnixNano(), o.Eyes.Active, o.Mouth.Active,
		c.Yaw, c.Pitch, c.Eyelid,
		f.JawOpen, f.SmileFrownLeft, f.SmileFrownRight, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// Close stops accepting writes, drains the queue and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	opsf("closed %s: %d frames written, %d dropped", r.path, r.written.Load(), r.dropped.Load())
	return r.db.Close()
}
