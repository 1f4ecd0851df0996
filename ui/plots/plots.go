// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots collects metric points during training (e.g. the kernellsq loss at each step),
// saves and loads them as JSON lines, and renders them as tables or images.
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Point is one measurement of a metric.
type Point struct {
	// Metric name, e.g. "loss".
	Metric string

	// Step at which the metric was measured.
	Step int

	// Value of the metric.
	Value float64
}

// Points is a collection of Point organized by their Step.
type Points map[int][]Point

// NewPoints organizes rawPoints by step.
func NewPoints(rawPoints []Point) Points {
	points := make(Points)
	for _, p := range rawPoints {
		points.AddPoint(p)
	}
	return points
}

// AddPoint appends p to the points of its step.
func (points Points) AddPoint(p Point) {
	points[p.Step] = append(points[p.Step], p)
}

// Map calls fn on every point, in step order.
func (points Points) Map(fn func(p *Point)) {
	for _, step := range slices.Sorted(maps.Keys(points)) {
		stepPoints := points[step]
		for i := range stepPoints {
			fn(&stepPoints[i])
		}
	}
}

// Extract returns the individual points, sorted by step.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) { rawPoints = append(rawPoints, *p) })
	return
}

// MetricNames returns the names of the metrics present, sorted.
func (points Points) MetricNames() []string {
	names := make(map[string]bool)
	points.Map(func(p *Point) { names[p.Metric] = true })
	return slices.Sorted(maps.Keys(names))
}

// Series returns the steps and values of one metric, in step order. NaN and infinite values are skipped.
func (points Points) Series(metric string) (steps []int, values []float64) {
	points.Map(func(p *Point) {
		if p.Metric != metric || math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return
		}
		steps = append(steps, p.Step)
		values = append(values, p.Value)
	})
	return
}

// TableForMetrics returns a table with the step in the first column followed by one column per metric.
// If no metrics are given, all metrics are included.
func (points Points) TableForMetrics(metrics ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := cellStyle.Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if len(metrics) == 0 {
		metrics = points.MetricNames()
	}
	table.Headers(append([]string{"Step"}, metrics...)...)
	for _, step := range slices.Sorted(maps.Keys(points)) {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%d", step)
		for _, p := range points[step] {
			if idx := slices.Index(metrics, p.Metric); idx != -1 {
				row[idx+1] = fmt.Sprintf("%g", p.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForMetrics()
}

// SavePNG plots the given metric against the step, and saves the image to filePath.
// If logScale is true, the Y axis is logarithmic, which suits losses that decay exponentially.
func (points Points) SavePNG(filePath, metric string, logScale bool) error {
	steps, values := points.Series(metric)
	if len(steps) == 0 {
		return errors.Errorf("no points for metric %q to plot", metric)
	}
	xys := make(plotter.XYs, 0, len(steps))
	for i, step := range steps {
		if logScale && values[i] <= 0 {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(step), Y: values[i]})
	}
	p := plot.New()
	p.Title.Text = metric
	p.X.Label.Text = "Step"
	p.Y.Label.Text = metric
	if logScale {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return errors.Wrapf(err, "creating line for metric %q", metric)
	}
	p.Add(line, plotter.NewGrid())
	if err := p.Save(8*vg.Inch, 5*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "saving plot of %q to %q", metric, filePath)
	}
	klog.V(1).Infof("Saved plot of %q with %d points to %q", metric, len(xys), filePath)
	return nil
}

// LoadPoints reads the points saved as JSON lines in filePath (see CreatePointsWriter).
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open points file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decoding points file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// CreatePointsWriter returns a channel where points are sent to be appended, as JSON lines, to filePath.
//
// Once pointWriter is closed, the first error found (or nil) is sent to errReport.
// After an error, the remaining points are discarded.
func CreatePointsWriter(filePath string) (pointWriter chan<- Point, errReport <-chan error) {
	pointChan := make(chan Point, 100)
	errChan := make(chan error, 1)
	go func() {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			err = errors.Wrapf(err, "failed to open points file %q for append", filePath)
			klog.Errorf("Error: %v", err)
		}
		enc := json.NewEncoder(f)
		for point := range pointChan {
			if err != nil {
				continue
			}
			if err = enc.Encode(point); err != nil {
				err = errors.Wrapf(err, "failed to encode point %v", point)
				klog.Errorf("Error: %v", err)
			}
		}
		if f != nil {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}
		errChan <- err
	}()
	return pointChan, errChan
}
