// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version, if the terminal supports its symbols.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the minimum time between redraws of the stats table.
const maxUpdateFrequency = time.Millisecond * 200

// durationsWindow is the number of most recent steps used for the median step duration.
const durationsWindow = 100

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// ProgressBar displays the progress of a fixed number of training steps, along with a table
// with the latest loss and the median step duration.
//
// Its OnStep method matches the signature of kernellsq.Trainer.OnStep. Call Done at the end.
type ProgressBar struct {
	numSteps  int
	bar       *progressbar.ProgressBar
	out       io.Writer
	termenv   *termenv.Output
	table     *lgtable.Table
	tableRows int

	lastStepTime  time.Time
	stepDurations []time.Duration
	lastUpdate    *progressBarUpdate

	updates     chan progressBarUpdate
	updatesDone sync.WaitGroup
}

type progressBarUpdate struct {
	step           int
	loss           float64
	medianDuration time.Duration
}

// NewProgressBar creates a progress bar for numSteps steps, writing to os.Stdout.
func NewProgressBar(numSteps int) *ProgressBar {
	return NewProgressBarWithWriter(numSteps, os.Stdout)
}

// NewProgressBarWithWriter creates a progress bar for numSteps steps, writing to out.
func NewProgressBarWithWriter(numSteps int, out io.Writer) *ProgressBar {
	pBar := &ProgressBar{
		numSteps:     numSteps,
		out:          out,
		termenv:      termenv.NewOutput(out),
		lastStepTime: time.Now(),
		updates:      make(chan progressBarUpdate, 100), // Large buffer so training is not blocked by the terminal.
	}
	pBar.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(out),
	)
	pBar.table = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.updatesDone.Add(1)
	go pBar.drawUpdates()
	return pBar
}

// OnStep records that step finished with the given loss.
func (pBar *ProgressBar) OnStep(step int, loss float64) {
	now := time.Now()
	if len(pBar.stepDurations) == durationsWindow {
		pBar.stepDurations = pBar.stepDurations[1:]
	}
	pBar.stepDurations = append(pBar.stepDurations, now.Sub(pBar.lastStepTime))
	pBar.lastStepTime = now
	update := progressBarUpdate{step: step, loss: loss, medianDuration: median(pBar.stepDurations)}
	pBar.lastUpdate = &update
	select {
	case pBar.updates <- update:
	default:
		// Drawing is behind: skip this update, the last one is always drawn by Done.
	}
}

// Done waits for the pending updates to be drawn and finishes the progress bar.
func (pBar *ProgressBar) Done() {
	if pBar.lastUpdate != nil {
		pBar.updates <- *pBar.lastUpdate
	}
	close(pBar.updates)
	pBar.updatesDone.Wait()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.out)
}

// drawUpdates consumes the updates asynchronously: if training is faster than the terminal,
// intermediary updates are skipped.
func (pBar *ProgressBar) drawUpdates() {
	defer pBar.updatesDone.Done()
	lastReported := 0
	for update := range pBar.updates {
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				update = newUpdate
			default:
				break exhaust
			}
		}

		pBar.table.Data(lgtable.NewStringData())
		pBar.table.Row("Step", fmt.Sprintf("%s of %s", humanize.Comma(int64(update.step+1)), humanize.Comma(int64(pBar.numSteps))))
		pBar.table.Row("Loss", fmt.Sprintf("%.6g", update.loss))
		pBar.table.Row("Median step duration", FormatDuration(update.medianDuration))
		rendered := lipgloss.NewStyle().PaddingLeft(8).Render(pBar.table.String())

		// Move the cursor back over the previous table and bar before redrawing.
		pBar.termenv.HideCursor()
		if pBar.tableRows > 0 {
			pBar.termenv.CursorPrevLine(pBar.tableRows + 1)
		}
		_, _ = fmt.Fprintln(pBar.out, rendered)
		pBar.tableRows = lipgloss.Height(rendered)
		_ = pBar.bar.Add(update.step + 1 - lastReported)
		lastReported = update.step + 1
		_, _ = fmt.Fprintln(pBar.out)
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

func median(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}
