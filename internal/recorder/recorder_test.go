package recorder

import (
	"bytes"
	"compress/gzip"
	"io"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facestream/internal/fusion"
	"github.com/banshee-data/facestream/internal/testutil"
	"github.com/banshee-data/facestream/internal/tracking"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func openTest(t *testing.T, opts Options) *Recorder {
	t.Helper()
	r, err := Open(testutil.TempDBPath(t), opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func output(id uuid.UUID, at time.Time, yaw float32) fusion.Output {
	eye := fusion.Reconstruct(yaw, 0)
	eye.Eyelid = 1
	out := fusion.Output{
		SessionID: id,
		Timestamp: at,
		Eyes:      fusion.Eyes{Active: true, Left: eye, Right: eye, Combined: eye},
	}
	out.Mouth.Active = true
	out.Mouth.Face.JawOpen = 0.5
	out.Mouth.Face.SmileFrownLeft = 0.25
	out.Mouth.Face.SmileFrownRight = -0.25
	return out
}

func TestOpen_AppliesMigrations(t *testing.T) {
	r := openTest(t, Options{})
	version, dirty, err := r.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Reapplying is a no-op.
	require.NoError(t, r.MigrateUp())
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := testutil.TempDBPath(t)
	r, err := Open(path, Options{})
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, r.RecordSession(id, t0, "127.0.0.1:9000"))
	require.NoError(t, r.Close())

	r, err = Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()
	sessions, err := r.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, t0, sessions[0].StartedAt)
	assert.Equal(t, "127.0.0.1:9000", sessions[0].ListenAddress)
}

func TestFrames_RoundTrip(t *testing.T) {
	r := openTest(t, Options{})
	id := uuid.New()
	require.NoError(t, r.RecordSession(id, t0, "127.0.0.1:9000"))

	want := []fusion.Output{
		output(id, t0, 0.5),
		output(id, t0.Add(11*time.Millisecond), -0.5),
	}
	for _, o := range want {
		r.Publish(o)
	}
	require.NoError(t, r.Flush())
	assert.Equal(t, int64(2), r.Written())

	frames, err := r.Frames(id)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	for i, f := range frames {
		if diff := cmp.Diff(want[i], f.Output); diff != "" {
			t.Errorf("frame %d payload mismatch (-want +got):\n%s", i, diff)
		}
		assert.Equal(t, want[i].Timestamp, f.Timestamp)
		assert.True(t, f.EyeActive)
		assert.True(t, f.FaceActive)
		assert.InDelta(t, want[i].Eyes.Combined.Yaw, f.CombinedYaw, 1e-9)
		assert.InDelta(t, 0.5, f.JawOpen, 1e-6)
		assert.InDelta(t, 0.25, f.SmileLeft, 1e-6)
		assert.InDelta(t, -0.25, f.SmileRight, 1e-6)
	}
	assert.InDelta(t, 30, frames[0].CombinedYaw, 1e-6)

	sessions, err := r.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].Frames)
}

func TestPublish_SamplesPerSession(t *testing.T) {
	r := openTest(t, Options{Interval: 100 * time.Millisecond})
	a, b := uuid.New(), uuid.New()
	require.NoError(t, r.RecordSession(a, t0, ""))
	require.NoError(t, r.RecordSession(b, t0, ""))

	for i := 0; i < 30; i++ {
		at := t0.Add(time.Duration(i) * 10 * time.Millisecond)
		r.Publish(output(a, at, 0))
		r.Publish(output(b, at, 0))
	}
	require.NoError(t, r.Flush())

	for _, id := range []uuid.UUID{a, b} {
		frames, err := r.Frames(id)
		require.NoError(t, err)
		// 0ms, 100ms, 200ms
		require.Len(t, frames, 3)
		assert.Equal(t, t0.Add(200*time.Millisecond), frames[2].Timestamp)
	}
}

func TestPublish_UnknownSessionCountsWriteError(t *testing.T) {
	r := openTest(t, Options{})
	r.Publish(output(uuid.New(), t0, 0))
	require.NoError(t, r.Flush())
	assert.Equal(t, int64(1), r.WriteErrors())
	assert.Zero(t, r.Written())
}

func TestPublish_UnencodableFrameSkipsOnlyItself(t *testing.T) {
	r := openTest(t, Options{})
	id := uuid.New()
	require.NoError(t, r.RecordSession(id, t0, ""))

	good := output(id, t0, 0.5)
	bad := output(id, t0.Add(11*time.Millisecond), 0.5)
	bad.Mouth.Face.SmileFrownLeft = float32(math.NaN())
	after := output(id, t0.Add(22*time.Millisecond), -0.5)

	r.Publish(good)
	r.Publish(bad)
	r.Publish(after)
	require.NoError(t, r.Flush())

	assert.Equal(t, int64(2), r.Written())
	assert.Equal(t, int64(1), r.WriteErrors())
	frames, err := r.Frames(id)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, good.Timestamp, frames[0].Timestamp)
	assert.Equal(t, after.Timestamp, frames[1].Timestamp)
}

func TestTransitions_RoundTrip(t *testing.T) {
	r := openTest(t, Options{})
	id := uuid.New()
	require.NoError(t, r.RecordSession(id, t0, ""))

	observe := r.TransitionObserver(id)
	observe(tracking.Transition{Category: tracking.CategoryEye, From: tracking.Stale, To: tracking.Active, At: t0})
	require.NoError(t, r.RecordTransition(id, tracking.Transition{
		Category: tracking.CategoryEye, From: tracking.Active, To: tracking.Stale, At: t0.Add(5 * time.Second),
	}))
	require.NoError(t, r.Flush())

	got, err := r.Transitions(id)
	require.NoError(t, err)
	want := []TransitionRecord{
		{SessionID: id, At: t0, Category: "eye", State: "active"},
		{SessionID: id, At: t0.Add(5 * time.Second), Category: "eye", State: "stale"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueFull_Drops(t *testing.T) {
	r := openTest(t, Options{QueueSize: 1})
	id := uuid.New()
	require.NoError(t, r.RecordSession(id, t0, ""))

	// Hold the writer on the single connection so the queue cannot drain.
	tx, err := r.DB().Begin()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		r.Publish(output(id, t0.Add(time.Duration(i)*time.Millisecond), 0))
	}
	require.NoError(t, tx.Rollback())
	require.NoError(t, r.Flush())

	assert.Positive(t, r.Dropped())
	assert.Equal(t, int64(10), r.Written()+r.Dropped())
}

func TestClose_Idempotent(t *testing.T) {
	r, err := Open(testutil.TempDBPath(t), Options{})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	r.Publish(output(uuid.New(), t0, 0))
	assert.ErrorIs(t, r.Flush(), ErrClosed)
	assert.ErrorIs(t, r.RecordTransition(uuid.New(), tracking.Transition{}), ErrClosed)
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	r := openTest(t, Options{})
	require.NoError(t, r.RecordSession(uuid.New(), t0, ""))

	mux := http.NewServeMux()
	require.NoError(t, r.AttachAdminRoutes(mux))

	w := testutil.ServeDebug(t, mux, http.MethodGet, "/debug/backup")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=sessions-backup-")

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")))
}

func TestAttachAdminRoutes_TailSQLMounted(t *testing.T) {
	r := openTest(t, Options{})
	mux := http.NewServeMux()
	require.NoError(t, r.AttachAdminRoutes(mux))

	w := testutil.ServeDebug(t, mux, http.MethodGet, "/debug/tailsql/")
	assert.NotEqual(t, http.StatusNotFound, w.Code)
}
