package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/facestream/internal/httputil"
	"github.com/banshee-data/facestream/internal/network"
	"github.com/banshee-data/facestream/internal/receiver"
	"github.com/banshee-data/facestream/internal/tracking"
)

// Config wires a Server to the running receiver. Only Ring is required.
type Config struct {
	Ring     *Ring
	Stats    *network.Stats
	Fanout   *receiver.Fanout
	Liveness func(tracking.Category) tracking.State
}

// Server renders the debug views.
type Server struct {
	cfg Config
}

func NewServer(cfg Config) *Server {
	if cfg.Ring == nil {
		cfg.Ring = NewRing(DefaultRingSize)
	}
	return &Server{cfg: cfg}
}

// Ring is the history the server renders from.
func (s *Server) Ring() *Ring { return s.cfg.Ring }

// AttachAdminRoutes mounts the debug views under the tsweb debugger on mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("snapshot", "Latest tick output (JSON)", http.HandlerFunc(s.handleSnapshot))
	debug.Handle("gaze", "Combined gaze and eyelid chart", http.HandlerFunc(s.handleGaze))
	debug.Handle("stats", "Ingestion counters and liveness (JSON)", http.HandlerFunc(s.handleStats))
	if s.cfg.Fanout != nil {
		debug.HandleSilentFunc("stream", s.handleStream)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	out, ok := s.cfg.Ring.Latest()
	if !ok {
		httputil.NotFound(w, "no output yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// StatsResponse is the body of the stats view.
type StatsResponse struct {
	Listener network.StatsSnapshot `json:"listener"`
	Liveness map[string]string     `json:"liveness"`
	Buffered int                   `json:"buffered"`
	Streams  int                   `json:"streams"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	resp := StatsResponse{
		Liveness: make(map[string]string),
		Buffered: s.cfg.Ring.Len(),
	}
	if s.cfg.Stats != nil {
		resp.Listener = s.cfg.Stats.Snapshot()
	}
	if s.cfg.Liveness != nil {
		for _, c := range []tracking.Category{tracking.CategoryEye, tracking.CategoryMouth} {
			resp.Liveness[c.String()] = s.cfg.Liveness(c).String()
		}
	}
	if s.cfg.Fanout != nil {
		resp.Streams = s.cfg.Fanout.Len()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleGaze plots the last n outputs (default all buffered). Yaw and pitch
// share the left axis in degrees; eyelid uses the right axis.
func (s *Server) handleGaze(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid n %q", v))
			return
		}
		n = parsed
	}
	recent := s.cfg.Ring.Recent(n)

	x := make([]string, len(recent))
	yaw := make([]opts.LineData, len(recent))
	pitch := make([]opts.LineData, len(recent))
	eyelid := make([]opts.LineData, len(recent))
	var start time.Time
	if len(recent) > 0 {
		start = recent[0].Timestamp
	}
	for i, o := range recent {
		c := o.Eyes.Combined
		x[i] = strconv.FormatFloat(o.Timestamp.Sub(start).Seconds(), 'f', 2, 64)
		yaw[i] = opts.LineData{Value: c.Yaw}
		pitch[i] = opts.LineData{Value: c.Pitch}
		eyelid[i] = opts.LineData{Value: c.Eyelid}
	}

	subtitle := "no data"
	if len(recent) > 0 {
		subtitle = fmt.Sprintf("session=%s points=%d from=%s", recent[0].SessionID, len(recent), start.Format(time.RFC3339))
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Facestream Gaze", Theme: "dark", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Combined Gaze", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg", Min: -90, Max: 90}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "eyelid", Min: 0, Max: 1})
	line.SetXAxis(x).
		AddSeries("yaw", yaw).
		AddSeries("pitch", pitch).
		AddSeries("eyelid", eyelid, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleStream sends every published output as a server-sent event until
// the client goes away or the fanout closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	id, c := s.cfg.Fanout.Subscribe()
	defer s.cfg.Fanout.Unsubscribe(id)
	stream, err := httputil.NewEventStream(w)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	for {
		select {
		case out, ok := <-c:
			if !ok {
				return
			}
			err := stream.SendJSON(out)
			if errors.Is(err, httputil.ErrEncodeEvent) {
				log.Printf("[monitor] skip stream event: %v", err)
				continue
			}
			if err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
