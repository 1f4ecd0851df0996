// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
)

// MaxPool takes the max over windows of the spatial axes of channels-last images ([batch, spatial..., channels]).
//
// If strides is nil, strides of 1 are used. The same applies to SumPool and AvgPool.
func MaxPool(window, strides []int, padding Padding) Layer {
	return poolingLayer("MaxPool", graph.MaxPool, window, strides, padding)
}

// SumPool sums over windows of the spatial axes of channels-last images.
func SumPool(window, strides []int, padding Padding) Layer {
	return poolingLayer("SumPool", graph.SumPool, window, strides, padding)
}

// AvgPool averages over windows of the spatial axes of channels-last images.
//
// With Same padding, each output is divided only by the number of input elements (not padding)
// in its window.
func AvgPool(window, strides []int, padding Padding) Layer {
	return poolingLayer("AvgPool", graph.MeanPool, window, strides, padding)
}

func poolingLayer(kind string, pool func(x *graph.Node) *graph.PoolBuilder, window, strides []int, padding Padding) Layer {
	window = slices.Clone(window)
	strides = slices.Clone(onesIfNil(strides, len(window)))
	name := fmt.Sprintf("%s(%v, strides=%v, %s)", kind, window, strides, padding)
	if len(strides) != len(window) {
		exceptions.Panicf("layer %q: %d strides given for a window of rank %d", name, len(strides), len(window))
	}
	return Layer{
		Name: name,
		Init: func(_ *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			checkNumInputs(name, 1, len(inputShapes))
			input := inputShapes[0]
			if input.Rank() != len(window)+2 {
				exceptions.Panicf("layer %q: input must have rank %d, got %s", name, len(window)+2, input)
			}
			outputDims := slices.Clone(input.Dimensions)
			spatial := windowedOutputDims(name, padding, input.Dimensions[1:input.Rank()-1], window, strides)
			copy(outputDims[1:], spatial)
			return []shapes.Shape{shapes.Make(input.DType, outputDims...)}, nil
		},
		Apply: func(_ *ParamNodes, inputs []*graph.Node) []*graph.Node {
			checkNumInputs(name, 1, len(inputs))
			x := inputs[0]
			spatialDims := x.Shape().Dimensions[1 : x.Rank()-1]
			y := pool(x).
				WindowPerAxis(window...).
				StridePerAxis(strides...).
				PaddingPerDim(paddingsFor(padding, spatialDims, window, strides)).
				Done()
			return []*graph.Node{y}
		},
	}
}
