package main

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/facestream/internal/recorder"
)

var (
	yawColor    = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	pitchColor  = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	eyelidColor = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	jawColor    = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	smileColor  = color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 0xff}
)

type series struct {
	label string
	color color.Color
	pts   plotter.XYs
}

// traces splits frames into the gaze and mouth series, with X in seconds
// from the first frame. Frames where a category was inactive are skipped
// for that category's series.
func traces(frames []recorder.Frame) (gaze, mouth []series) {
	gaze = []series{
		{label: "yaw (deg)", color: yawColor},
		{label: "pitch (deg)", color: pitchColor},
	}
	mouth = []series{
		{label: "eyelid", color: eyelidColor},
		{label: "jaw open", color: jawColor},
		{label: "smile (mean)", color: smileColor},
	}
	if len(frames) == 0 {
		return gaze, mouth
	}
	start := frames[0].Timestamp
	for _, f := range frames {
		x := f.Timestamp.Sub(start).Seconds()
		if f.EyeActive {
			gaze[0].pts = append(gaze[0].pts, plotter.XY{X: x, Y: f.CombinedYaw})
			gaze[1].pts = append(gaze[1].pts, plotter.XY{X: x, Y: f.CombinedPitch})
			mouth[0].pts = append(mouth[0].pts, plotter.XY{X: x, Y: f.CombinedEyelid})
		}
		if f.FaceActive {
			mouth[1].pts = append(mouth[1].pts, plotter.XY{X: x, Y: f.JawOpen})
			mouth[2].pts = append(mouth[2].pts, plotter.XY{X: x, Y: (f.SmileLeft + f.SmileRight) / 2})
		}
	}
	return gaze, mouth
}

func newPlot(title, ylabel string, ss []series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())
	for _, s := range ss {
		if len(s.pts) == 0 {
			continue
		}
		l, err := plotter.NewLine(s.pts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.label, err)
		}
		l.Color = s.color
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(s.label, l)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// render draws the gaze panel above the mouth panel and writes a PNG to w.
func render(w io.Writer, s recorder.SessionRow, frames []recorder.Frame, width, height vg.Length) error {
	gaze, mouth := traces(frames)
	pGaze, err := newPlot(fmt.Sprintf("Session %s - Combined Gaze", s.ID), "Angle (deg)", gaze)
	if err != nil {
		return err
	}
	pMouth, err := newPlot(fmt.Sprintf("%d frames from %s", len(frames), s.StartedAt.Format("2006-01-02 15:04:05")), "Weight", mouth)
	if err != nil {
		return err
	}

	img := vgimg.New(width, height)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadY: vg.Points(8)}
	canvases := plot.Align([][]*plot.Plot{{pGaze}, {pMouth}}, tiles, dc)
	pGaze.Draw(canvases[0][0])
	pMouth.Draw(canvases[1][0])

	_, err = vgimg.PngCanvas{Canvas: img}.WriteTo(w)
	return err
}
