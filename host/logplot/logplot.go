// Package logplot renders encoder logs and trajectories as PNG charts.
package logplot

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"gimbal/enclog"
	"gimbal/traj"
)

const (
	Width  = 12 * vg.Inch
	Height = 5 * vg.Inch
)

var ErrNoData = errors.New("logplot: nothing to plot")

var axisNames = [3]string{"X", "Y", "Z"}

// Series is one named line
type Series struct {
	Name   string
	Points plotter.XYs
}

// EncoderSeries converts logged samples to one line per axis, time in
// seconds from the first record. A non-zero scale multiplies that axis's
// counts (e.g. from encoder.Scale); zero leaves raw counts.
func EncoderSeries(samples []enclog.Sample, scale [3]float64) []Series {
	out := make([]Series, 3)
	for i := range out {
		out[i] = Series{Name: "enc " + axisNames[i], Points: make(plotter.XYs, 0, len(samples))}
	}
	if len(samples) == 0 {
		return out
	}

	// timestamps are a wrapping 32-bit microsecond counter
	var elapsed uint64
	prev := samples[0].TimestampUs
	for _, s := range samples {
		elapsed += uint64(s.TimestampUs - prev)
		prev = s.TimestampUs
		x := float64(elapsed) / 1e6
		for i, c := range s.Counts {
			y := float64(c)
			if scale[i] != 0 {
				y *= scale[i]
			}
			out[i].Points = append(out[i].Points, plotter.XY{X: x, Y: y})
		}
	}
	return out
}

// TrajectorySeries reads every sample of an axis trajectory in degrees
// against time in seconds. The reader is left at the end of the stream.
func TrajectorySeries(r *traj.Reader, axis int, name string) (Series, error) {
	if err := r.Seek(0); err != nil {
		return Series{}, err
	}
	n := r.Samples()
	period := float64(r.PeriodUs()) / 1e6
	pts := make(plotter.XYs, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := r.ReadNextScalar(axis)
		if err != nil {
			return Series{}, fmt.Errorf("sample %d: %w", i, err)
		}
		pts = append(pts, plotter.XY{X: float64(i) * period, Y: r.Degrees(v)})
	}
	return Series{Name: name, Points: pts}, nil
}

// New builds a line chart of the given series. Empty series are skipped.
func New(title, yLabel string, series ...Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true

	lines := 0
	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		l, err := plotter.NewLine(s.Points)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", s.Name, err)
		}
		l.Color = plotutil.Color(i)
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(s.Name, l)
		lines++
	}
	if lines == 0 {
		return nil, ErrNoData
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// WritePNG renders p into w
func WritePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(Width, Height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save renders p to a file; the extension picks the format
func Save(p *plot.Plot, path string) error {
	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

// EncoderLog decodes a log and charts it with the given per-axis scale
func EncoderLog(r io.Reader, title, yLabel string, scale [3]float64) (*plot.Plot, error) {
	samples, err := enclog.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	return New(title, yLabel, EncoderSeries(samples, scale)...)
}
