// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/compute/dtypes"
	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/stax/pkg/stax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345678*time.Nanosecond))
	assert.Equal(t, "0.00s", FormatDuration(0))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestParamsSummary(t *testing.T) {
	params := stax.NewChildren(
		stax.NewLeaves(
			tensors.FromShape(shapes.Make(dtypes.Float32, 784, 10)),
			tensors.FromShape(shapes.Make(dtypes.Float32, 10))),
		stax.NewLeaves[*tensors.Tensor](),
	)
	summary := ParamsSummary("mnist", params)
	assert.Contains(t, summary, "mnist")
	assert.Contains(t, summary, "0#0")
	assert.Contains(t, summary, "0#1")
	assert.Contains(t, summary, params.Child(0).Leaves[0].Shape().String())
	assert.Contains(t, summary, "7,850")
	assert.Contains(t, summary, "2 parameters")
}

func TestProgressBar(t *testing.T) {
	var out bytes.Buffer
	const numSteps = 5
	pBar := NewProgressBarWithWriter(numSteps, &out)
	for step := range numSteps {
		pBar.OnStep(step, 1.0/float64(step+1))
	}
	pBar.Done()
	output := out.String()
	require.NotEmpty(t, output)
	assert.True(t, strings.Contains(output, "5 of 5"), "final step should be drawn: %q", output)
	assert.Contains(t, output, "Median step duration")
}
