// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/stax/pkg/stax/initializers"
)

// Dense is a fully connected layer mapping the last axis of its input to outDim units.
//
// Weights are shaped [inDim, outDim] and initialized with Glorot normal, and the bias [outDim]
// with a normal of stddev 1e-6.
func Dense(outDim int) Layer {
	return DenseWithInitializers(outDim, initializers.GlorotNormal(0, 1), initializers.Normal(1e-6))
}

// DenseWithInitializers is like Dense, but with the given weights and bias initializers.
func DenseWithInitializers(outDim int, weightsInit, biasInit initializers.Initializer) Layer {
	name := fmt.Sprintf("Dense(%d)", outDim)
	return Layer{
		Name: name,
		Init: func(rng *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			checkNumInputs(name, 1, len(inputShapes))
			input := inputShapes[0]
			if input.Rank() < 1 {
				exceptions.Panicf("layer %q requires an input of rank >= 1, got %s", name, input)
			}
			inDim := input.Dimensions[input.Rank()-1]
			outputDims := append(input.Dimensions[:input.Rank()-1:input.Rank()-1], outDim)
			weights := weightsInit(rng, shapes.Make(input.DType, inDim, outDim))
			bias := biasInit(rng, shapes.Make(input.DType, outDim))
			return []shapes.Shape{shapes.Make(input.DType, outputDims...)}, NewLeaves(weights, bias)
		},
		Apply: func(params *ParamNodes, inputs []*graph.Node) []*graph.Node {
			checkNumInputs(name, 1, len(inputs))
			weights, bias := params.Leaves[0], params.Leaves[1]
			y := graph.MatMul(inputs[0], weights)
			y = graph.Add(y, broadcastOnAxis(bias, y, y.Rank()-1))
			return []*graph.Node{y}
		},
	}
}

// Flatten reshapes its input from [batch, ...] to [batch, prod(...)].
func Flatten() Layer {
	const name = "Flatten"
	return Layer{
		Name: name,
		Init: func(_ *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			checkNumInputs(name, 1, len(inputShapes))
			input := inputShapes[0]
			if input.Rank() < 1 {
				exceptions.Panicf("layer %q requires an input with a batch axis, got %s", name, input)
			}
			flat := 1
			for _, dim := range input.Dimensions[1:] {
				flat *= dim
			}
			return []shapes.Shape{shapes.Make(input.DType, input.Dimensions[0], flat)}, nil
		},
		Apply: func(_ *ParamNodes, inputs []*graph.Node) []*graph.Node {
			checkNumInputs(name, 1, len(inputs))
			x := inputs[0]
			return []*graph.Node{graph.Reshape(x, x.Shape().Dimensions[0], -1)}
		},
	}
}
