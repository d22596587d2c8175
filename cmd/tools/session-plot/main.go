// Command session-plot renders the gaze and jaw traces of a recorded session
// to a PNG.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/facestream/internal/recorder"
	"github.com/banshee-data/facestream/internal/security"
)

var (
	dbPath    = flag.String("db", "facestream.db", "Session recording database")
	sessionID = flag.String("session", "", "Session ID to plot (latest when empty)")
	outPath   = flag.String("out", "session.png", "Output PNG path")
	width     = flag.Float64("width", 14, "Image width in inches")
	height    = flag.Float64("height", 8, "Image height in inches")
	list      = flag.Bool("list", false, "List recorded sessions and exit")
)

func main() {
	flag.Parse()

	rec, err := recorder.Open(*dbPath, recorder.Options{})
	if err != nil {
		log.Fatalf("failed to open %s: %v", *dbPath, err)
	}
	defer rec.Close()

	sessions, err := rec.Sessions()
	if err != nil {
		log.Fatalf("failed to list sessions: %v", err)
	}
	if *list {
		for _, s := range sessions {
			fmt.Printf("%s  %s  %-21s  %d frames\n", s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.ListenAddress, s.Frames)
		}
		return
	}

	s, err := pickSession(sessions, *sessionID)
	if err != nil {
		log.Fatal(err)
	}
	frames, err := rec.Frames(s.ID)
	if err != nil {
		log.Fatalf("failed to read frames: %v", err)
	}

	if err := security.ValidateOutputPath(*outPath); err != nil {
		log.Fatalf("refusing to write %s: %v", *outPath, err)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *outPath, err)
	}
	if err := render(f, s, frames, vg.Length(*width)*vg.Inch, vg.Length(*height)*vg.Inch); err != nil {
		f.Close()
		log.Fatalf("failed to render: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("failed to write %s: %v", *outPath, err)
	}
	log.Printf("wrote %s (%d frames of session %s)", *outPath, len(frames), s.ID)
}

// pickSession returns the session with id, or the newest one when id is
// empty. sessions are newest first.
func pickSession(sessions []recorder.SessionRow, id string) (recorder.SessionRow, error) {
	if len(sessions) == 0 {
		return recorder.SessionRow{}, fmt.Errorf("no sessions recorded")
	}
	if id == "" {
		return sessions[0], nil
	}
	want, err := uuid.Parse(id)
	if err != nil {
		return recorder.SessionRow{}, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	for _, s := range sessions {
		if s.ID == want {
			return s, nil
		}
	}
	return recorder.SessionRow{}, fmt.Errorf("session %s not found", want)
}
