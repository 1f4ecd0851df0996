// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
)

// layerNames joins the names of the layers, for the name of a combinator.
func layerNames(layers []Layer) string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name
	}
	return strings.Join(names, ", ")
}

// Serial composes the layers in sequence: the outputs of one are the inputs of the next.
//
// Its parameters tree has one child per layer.
func Serial(layers ...Layer) Layer {
	name := fmt.Sprintf("Serial(%s)", layerNames(layers))
	return Layer{
		Name: name,
		Init: func(rng *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			params := &Params{Children: make([]*Params, len(layers))}
			for i, l := range layers {
				inputShapes, params.Children[i] = l.Init(rng, inputShapes)
			}
			return inputShapes, params
		},
		Apply: func(params *ParamNodes, inputs []*graph.Node) []*graph.Node {
			for i, l := range layers {
				inputs = l.Apply(params.Child(i), inputs)
			}
			return inputs
		},
	}
}

// Parallel applies each layer to its corresponding input: the number of inputs must match the number
// of layers. The outputs are the outputs of each layer, in order.
//
// Its parameters tree has one child per layer.
func Parallel(layers ...Layer) Layer {
	name := fmt.Sprintf("Parallel(%s)", layerNames(layers))
	return Layer{
		Name: name,
		Init: func(rng *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			checkNumInputs(name, len(layers), len(inputShapes))
			params := &Params{Children: make([]*Params, len(layers))}
			var outputShapes []shapes.Shape
			for i, l := range layers {
				var layerOutputs []shapes.Shape
				layerOutputs, params.Children[i] = l.Init(rng, inputShapes[i:i+1])
				outputShapes = append(outputShapes, layerOutputs...)
			}
			return outputShapes, params
		},
		Apply: func(params *ParamNodes, inputs []*graph.Node) []*graph.Node {
			checkNumInputs(name, len(layers), len(inputs))
			var outputs []*graph.Node
			for i, l := range layers {
				outputs = append(outputs, l.Apply(params.Child(i), inputs[i:i+1])...)
			}
			return outputs
		},
	}
}

// FanOut replicates its single input n times.
func FanOut(n int) Layer {
	name := fmt.Sprintf("FanOut(%d)", n)
	if n < 1 {
		exceptions.Panicf("layer %q requires n >= 1", name)
	}
	return Layer{
		Name: name,
		Init: func(_ *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			checkNumInputs(name, 1, len(inputShapes))
			outputs := make([]shapes.Shape, n)
			for i := range outputs {
				outputs[i] = inputShapes[0]
			}
			return outputs, nil
		},
		Apply: func(_ *ParamNodes, inputs []*graph.Node) []*graph.Node {
			checkNumInputs(name, 1, len(inputs))
			outputs := make([]*graph.Node, n)
			for i := range outputs {
				outputs[i] = inputs[0]
			}
			return outputs
		},
	}
}

// FanInSum adds all its inputs, which must have the same shape.
func FanInSum() Layer {
	const name = "FanInSum"
	return Layer{
		Name: name,
		Init: func(_ *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			if len(inputShapes) == 0 {
				exceptions.Panicf("layer %q requires at least one input", name)
			}
			for _, s := range inputShapes[1:] {
				if !s.Equal(inputShapes[0]) {
					exceptions.Panicf("layer %q requires inputs of the same shape, got %v", name, inputShapes)
				}
			}
			return inputShapes[:1], nil
		},
		Apply: func(_ *ParamNodes, inputs []*graph.Node) []*graph.Node {
			if len(inputs) == 0 {
				exceptions.Panicf("layer %q requires at least one input", name)
			}
			sum := inputs[0]
			for _, x := range inputs[1:] {
				sum = graph.Add(sum, x)
			}
			return []*graph.Node{sum}
		},
	}
}

// FanInConcat concatenates its inputs along the given axis. Negative axes count from the end.
func FanInConcat(axis int) Layer {
	name := fmt.Sprintf("FanInConcat(%d)", axis)
	return Layer{
		Name: name,
		Init: func(_ *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			if len(inputShapes) == 0 {
				exceptions.Panicf("layer %q requires at least one input", name)
			}
			first := inputShapes[0]
			concatAxis := normalizeAxis(name, axis, first.Rank())
			outputDims := make([]int, first.Rank())
			copy(outputDims, first.Dimensions)
			for _, s := range inputShapes[1:] {
				if s.Rank() != first.Rank() || s.DType != first.DType {
					exceptions.Panicf("layer %q: incompatible inputs %v", name, inputShapes)
				}
				for i, dim := range s.Dimensions {
					if i == concatAxis {
						outputDims[i] += dim
					} else if dim != first.Dimensions[i] {
						exceptions.Panicf("layer %q: incompatible inputs %v", name, inputShapes)
					}
				}
			}
			return []shapes.Shape{shapes.Make(first.DType, outputDims...)}, nil
		},
		Apply: func(_ *ParamNodes, inputs []*graph.Node) []*graph.Node {
			if len(inputs) == 0 {
				exceptions.Panicf("layer %q requires at least one input", name)
			}
			concatAxis := normalizeAxis(name, axis, inputs[0].Rank())
			return []*graph.Node{graph.Concatenate(inputs, concatAxis)}
		},
	}
}

// ShapeDependent defers the creation of a layer until the shapes of its inputs are known.
//
// makeLayer is called once during Init, with the input shapes, and again during Apply with the
// shapes of the actual inputs. It should return equivalent layers for the same shapes.
func ShapeDependent(makeLayer func(inputShapes []shapes.Shape) Layer) Layer {
	const name = "ShapeDependent"
	return Layer{
		Name: name,
		Init: func(rng *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			return makeLayer(inputShapes).Init(rng, inputShapes)
		},
		Apply: func(params *ParamNodes, inputs []*graph.Node) []*graph.Node {
			inputShapes := make([]shapes.Shape, len(inputs))
			for i, x := range inputs {
				inputShapes[i] = x.Shape()
			}
			return makeLayer(inputShapes).Apply(params, inputs)
		},
	}
}
