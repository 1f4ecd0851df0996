// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializers creates the initial values of layer parameters on the host.
//
// Differently from GoMLX's graph-side initializers, these don't need a backend: they fill
// a tensors.Tensor directly from a Go random number generator, so a model's Init never
// builds or runs a graph.
package initializers

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/compute/dtypes"
	"github.com/gomlx/compute/dtypes/float16"
	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"gonum.org/v1/gonum/stat/distuv"
)

// Initializer returns a new tensor of the given shape.
type Initializer func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor

var (
	// Zeros initializes parameters with 0.
	Zeros Initializer = func(_ *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return 0 })
	}

	// Ones initializes parameters with 1.
	Ones Initializer = func(_ *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return 1 })
	}
)

// Normal returns an initializer that samples from a normal distribution with mean 0 and the given stddev.
func Normal(stddev float64) Initializer {
	return func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		dist := distuv.Normal{Mu: 0, Sigma: stddev, Src: rng}
		return fill(shape, dist.Rand)
	}
}

// GlorotNormal returns a Glorot (aka. Xavier) normal initializer: values are sampled with mean 0 and
// stddev of sqrt(2 / (fanIn+fanOut)).
//
// inAxis and outAxis are the axes of the input and output units (negative values count from the end).
// Any other axis is taken as part of the receptive field, as in convolution kernels.
func GlorotNormal(inAxis, outAxis int) Initializer {
	return func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		fanIn, fanOut := FanInFanOut(shape, inAxis, outAxis)
		scale := max(1.0, float64(fanIn+fanOut))
		return Normal(math.Sqrt(2.0/scale))(rng, shape)
	}
}

// FanInFanOut of a weights shape, given the axes of the input and output units.
func FanInFanOut(shape shapes.Shape, inAxis, outAxis int) (fanIn, fanOut int) {
	rank := shape.Rank()
	if rank < 2 {
		exceptions.Panicf("FanInFanOut requires a shape of rank >= 2, got %s", shape)
	}
	if inAxis < 0 {
		inAxis += rank
	}
	if outAxis < 0 {
		outAxis += rank
	}
	if inAxis < 0 || inAxis >= rank || outAxis < 0 || outAxis >= rank || inAxis == outAxis {
		exceptions.Panicf("invalid input/output axes (%d, %d) for shape %s", inAxis, outAxis, shape)
	}
	receptiveFieldSize := 1
	for axis, dim := range shape.Dimensions {
		if axis != inAxis && axis != outAxis {
			receptiveFieldSize *= dim
		}
	}
	fanIn = shape.Dimensions[inAxis] * receptiveFieldSize
	fanOut = shape.Dimensions[outAxis] * receptiveFieldSize
	return
}

// fill creates a tensor of the given shape with values drawn from sample.
func fill(shape shapes.Shape, sample func() float64) *tensors.Tensor {
	switch shape.DType {
	case dtypes.Float32:
		return fillAs[float32](shape, sample)
	case dtypes.Float64:
		return fillAs[float64](shape, sample)
	case dtypes.Float16:
		data := make([]float16.Float16, shape.Size())
		for i := range data {
			data[i] = float16.FromFloat32(float32(sample()))
		}
		return tensors.FromFlatDataAndDimensions(data, shape.Dimensions...)
	default:
		exceptions.Panicf("parameters initialization only supports float dtypes, got %s", shape)
		panic(nil) // Quiet linter.
	}
}

func fillAs[T float32 | float64](shape shapes.Shape, sample func() float64) *tensors.Tensor {
	data := make([]T, shape.Size())
	for i := range data {
		data[i] = T(sample())
	}
	return tensors.FromFlatDataAndDimensions(data, shape.Dimensions...)
}
