// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stax is a small neural network library in the "init/apply" style, built on top of GoMLX graphs.
//
// A model is a Layer: a pair of functions. Init takes the shapes of the inputs and returns the shapes
// of the outputs along with freshly initialized parameters -- without running any computation.
// Apply builds the computation graph of the layer given its parameters and inputs.
//
// Layers are composed with combinators (Serial, Parallel, FanOut, FanInSum, ShapeDependent),
// which makes it possible to write models like ResNet in a few lines:
//
//	block := stax.Serial(
//		stax.FanOut(2),
//		stax.Parallel(main, stax.Identity()),
//		stax.FanInSum(),
//		stax.Relu())
//
// Parameters are held in a Params tree (see Tree), and they are consumed only by the Apply of the
// layer that created them. To run a layer on actual values, see Apply and NewExec.
package stax

import (
	"math/rand/v2"

	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/pkg/errors"
)

// InitFn returns the output shapes of a layer and its initial parameters, given the input shapes.
//
// It only does shape arithmetic and host-side random initialization, no graph is built.
// It panics (with exceptions.Panicf) if the input shapes are not acceptable for the layer.
type InitFn func(rng *rand.Rand, inputShapes []shapes.Shape) (outputShapes []shapes.Shape, params *Params)

// ApplyFn builds the computation of a layer, given its parameters and inputs.
//
// The params tree has the same structure as the one returned by the corresponding InitFn.
type ApplyFn func(params *ParamNodes, inputs []*graph.Node) []*graph.Node

// Layer is the pair of functions that define a model (or part of one).
type Layer struct {
	// Name is used for error messages and graph names.
	Name string

	Init  InitFn
	Apply ApplyFn
}

// NewRNG returns a deterministic random number generator for the given seed.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// InitShapes calls the layer's Init, converting panics to errors.
func (l Layer) InitShapes(rng *rand.Rand, inputShapes ...shapes.Shape) (outputShapes []shapes.Shape, params *Params, err error) {
	err = exceptions.TryCatch[error](func() {
		outputShapes, params = l.Init(rng, inputShapes)
	})
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "initializing %q for input shapes %v", l.Name, inputShapes)
	}
	return
}

// InitWithShape initializes a layer that takes one input and returns one output.
//
// It returns the declared output shape and the initial parameters.
func (l Layer) InitWithShape(rng *rand.Rand, inputShape shapes.Shape) (shapes.Shape, *Params, error) {
	outputShapes, params, err := l.InitShapes(rng, inputShape)
	if err != nil {
		return shapes.Shape{}, nil, err
	}
	if len(outputShapes) != 1 {
		return shapes.Shape{}, nil, errors.Errorf("layer %q returns %d outputs, InitWithShape requires exactly 1",
			l.Name, len(outputShapes))
	}
	return outputShapes[0], params, nil
}

// ApplyOne builds the computation for a layer that takes one input and returns one output.
// It panics if the layer doesn't return exactly one output.
func (l Layer) ApplyOne(params *ParamNodes, x *graph.Node) *graph.Node {
	outputs := l.Apply(params, []*graph.Node{x})
	if len(outputs) != 1 {
		exceptions.Panicf("layer %q returned %d outputs, ApplyOne requires exactly 1", l.Name, len(outputs))
	}
	return outputs[0]
}

// checkNumInputs panics if the layer was given the wrong number of inputs.
func checkNumInputs(name string, want, got int) {
	if want != got {
		exceptions.Panicf("layer %q takes %d input(s), got %d", name, want, got)
	}
}

// elementwise returns a parameter-less layer that maps each input through fn, preserving shapes.
func elementwise(name string, fn func(x *graph.Node) *graph.Node) Layer {
	return Layer{
		Name: name,
		Init: func(_ *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
			checkNumInputs(name, 1, len(inputShapes))
			return []shapes.Shape{inputShapes[0]}, nil
		},
		Apply: func(_ *ParamNodes, inputs []*graph.Node) []*graph.Node {
			checkNumInputs(name, 1, len(inputs))
			return []*graph.Node{fn(inputs[0])}
		},
	}
}

// normalizeAxis converts a negative axis to its positive counterpart, and checks it is in range.
func normalizeAxis(name string, axis, rank int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += rank
	}
	if adjusted < 0 || adjusted >= rank {
		exceptions.Panicf("layer %q: axis %d out of range for rank %d", name, axis, rank)
	}
	return adjusted
}
