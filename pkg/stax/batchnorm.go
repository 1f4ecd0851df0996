// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/stax/pkg/stax/initializers"
)

// BatchNormEpsilon is added to the variance before normalizing.
const BatchNormEpsilon = 1e-5

// BatchNorm normalizes its input with the mean and variance computed over the given axes of the
// input itself, and then scales (gamma, initialized to 1) and shifts (beta, initialized to 0) the result.
//
// The parameters have the shape of the input with the normalized axes removed.
// If no axes are given, it normalizes over (0, 1, 2): batch and spatial axes of NHWC images.
//
// There are no running averages: the statistics always come from the batch being applied.
func BatchNorm(axes ...int) Layer {
	if len(axes) == 0 {
		axes = []int{0, 1, 2}
	}
	axes = slices.Clone(axes)
	name := fmt.Sprintf("BatchNorm%v", axes)

	// normalizedAxes returns the axes sorted and positive, for an input of the given rank.
	normalizedAxes := func(rank int) []int {
		positive := make([]int, len(axes))
		for i, axis := range axes {
			positive[i] = normalizeAxis(name, axis, rank)
		}
		slices.Sort(positive)
		return slices.Compact(positive)
	}
	// paramDims returns the dimensions of the input not in axes.
	paramDims := func(dims, axes []int) []int {
		var kept []int
		for axis, dim := range dims {
			if !slices.Contains(axes, axis) {
				kept = append(kept, dim)
			}
		}
		return kept
	}

	return Layer{
		Name: name,
		Init: func(rng *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			checkNumInputs(name, 1, len(inputShapes))
			input := inputShapes[0]
			paramShape := shapes.Make(input.DType, paramDims(input.Dimensions, normalizedAxes(input.Rank()))...)
			beta := initializers.Zeros(rng, paramShape)
			gamma := initializers.Ones(rng, paramShape)
			return []shapes.Shape{input}, NewLeaves(beta, gamma)
		},
		Apply: func(params *ParamNodes, inputs []*graph.Node) []*graph.Node {
			checkNumInputs(name, 1, len(inputs))
			x := inputs[0]
			reduceAxes := normalizedAxes(x.Rank())
			dims := x.Shape().Dimensions

			mean := graph.BroadcastToDims(graph.ReduceAndKeep(x, graph.ReduceMean, reduceAxes...), dims...)
			centered := graph.Sub(x, mean)
			variance := graph.ReduceAndKeep(graph.Square(centered), graph.ReduceMean, reduceAxes...)
			invStd := graph.BroadcastToDims(graph.Rsqrt(graph.AddScalar(variance, BatchNormEpsilon)), dims...)
			normalized := graph.Mul(centered, invStd)

			beta, gamma := params.Leaves[0], params.Leaves[1]
			normalized = graph.Mul(normalized, expandParam(gamma, dims, reduceAxes))
			normalized = graph.Add(normalized, expandParam(beta, dims, reduceAxes))
			return []*graph.Node{normalized}
		},
	}
}

// expandParam reshapes a parameter defined over the axes not in reducedAxes to the full dims.
func expandParam(param *graph.Node, dims, reducedAxes []int) *graph.Node {
	withOnes := slices.Clone(dims)
	for _, axis := range reducedAxes {
		withOnes[axis] = 1
	}
	return graph.BroadcastToDims(graph.Reshape(param, withOnes...), dims...)
}
