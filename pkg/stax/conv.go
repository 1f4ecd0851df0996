// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/stax/pkg/stax/initializers"
)

// Default dimension numbers for convolutions: channels-last images and kernels shaped
// [height, width, input_channels, output_channels].
const (
	DefaultInputSpec  = "NHWC"
	DefaultKernelSpec = "HWIO"
	DefaultOutputSpec = "NHWC"
)

// ConvBuilder configures a convolution layer. Create it with Conv, and call Done to get the Layer.
type ConvBuilder struct {
	outChannels                    int
	kernelDims, strides            []int
	padding                        Padding
	inputSpec, kernelSpec, outSpec string
	weightsInit, biasInit          initializers.Initializer
	useBias                        bool
}

// Conv prepares a convolution layer with outChannels output channels and the given kernel spatial dimensions,
// one per spatial axis of the input.
//
// The defaults are strides of 1, Valid padding, dimension numbers ("NHWC", "HWIO", "NHWC"), Glorot normal
// initialized kernel and a bias initialized with a normal of stddev 1e-6.
func Conv(outChannels int, kernelDims ...int) *ConvBuilder {
	numSpatial := len(kernelDims)
	return &ConvBuilder{
		outChannels: outChannels,
		kernelDims:  kernelDims,
		padding:     Valid,
		inputSpec:   DefaultInputSpec,
		kernelSpec:  DefaultKernelSpec,
		outSpec:     DefaultOutputSpec,
		biasInit:    initializers.Normal(1e-6),
		useBias:     true,
		strides:     onesIfNil(nil, numSpatial),
	}
}

// GeneralConv is a shortcut to Conv with the dimension numbers given as (input, kernel, output) specs.
func GeneralConv(dimensionNumbers [3]string, outChannels int, kernelDims, strides []int, padding Padding) Layer {
	return Conv(outChannels, kernelDims...).
		DimensionNumbers(dimensionNumbers[0], dimensionNumbers[1], dimensionNumbers[2]).
		Strides(strides...).
		Padding(padding).
		Done()
}

// Strides sets the strides per spatial axis. If only one value is given, it is used for every spatial axis.
func (b *ConvBuilder) Strides(strides ...int) *ConvBuilder {
	if len(strides) == 1 && len(b.kernelDims) > 1 {
		strides = slices.Repeat(strides, len(b.kernelDims))
	}
	b.strides = onesIfNil(strides, len(b.kernelDims))
	return b
}

// Padding sets the padding type. Default is Valid.
func (b *ConvBuilder) Padding(padding Padding) *ConvBuilder {
	b.padding = padding
	return b
}

// PadSame is a shortcut to Padding(Same).
func (b *ConvBuilder) PadSame() *ConvBuilder {
	return b.Padding(Same)
}

// DimensionNumbers sets the layout of the input, kernel and output.
//
// Input and output specs use 'N' for the batch axis, 'C' for the channels and any other letter for
// spatial axes. The kernel spec uses 'O' and 'I' for the output and input channels.
// Spatial axes are matched by letter, and their order (for kernel dimensions and strides) is the order
// in which they appear in the kernel spec.
//
// E.g.: ("HWCN", "OIHW", "NHWC") takes images with the batch axis last and outputs channels-last images.
func (b *ConvBuilder) DimensionNumbers(inputSpec, kernelSpec, outputSpec string) *ConvBuilder {
	b.inputSpec, b.kernelSpec, b.outSpec = inputSpec, kernelSpec, outputSpec
	return b
}

// WeightsInitializer sets the initializer of the kernel. Default is Glorot normal.
func (b *ConvBuilder) WeightsInitializer(initializer initializers.Initializer) *ConvBuilder {
	b.weightsInit = initializer
	return b
}

// UseBias configures whether a bias term is added. Default is true.
func (b *ConvBuilder) UseBias(useBias bool) *ConvBuilder {
	b.useBias = useBias
	return b
}

// convAxes holds the axes positions parsed from the dimension numbers.
type convAxes struct {
	spatial []byte // Spatial axes letters, in kernel spec order.

	inBatch, inChannels int
	inSpatial           []int

	kernelIn, kernelOut int
	kernelSpatial       []int

	outBatch, outChannels int
	outSpatial            []int
}

func (b *ConvBuilder) name() string {
	return fmt.Sprintf("Conv(%d, %v, %s, %s/%s/%s)", b.outChannels, b.kernelDims, b.padding,
		b.inputSpec, b.kernelSpec, b.outSpec)
}

// parseAxes validates the dimension numbers and returns the position of each axis.
func (b *ConvBuilder) parseAxes() convAxes {
	name := b.name()
	numSpatial := len(b.kernelDims)
	for _, spec := range []string{b.inputSpec, b.kernelSpec, b.outSpec} {
		if len(spec) != numSpatial+2 {
			exceptions.Panicf("layer %q: spec %q must have %d axes, for %d spatial dimensions", name, spec, numSpatial+2, numSpatial)
		}
	}
	if len(b.strides) != numSpatial {
		exceptions.Panicf("layer %q: %d strides given for %d spatial dimensions", name, len(b.strides), numSpatial)
	}
	var axes convAxes
	for i := 0; i < len(b.kernelSpec); i++ {
		if c := b.kernelSpec[i]; c != 'O' && c != 'I' {
			axes.spatial = append(axes.spatial, c)
		}
	}
	if len(axes.spatial) != numSpatial {
		exceptions.Panicf("layer %q: kernel spec %q must have exactly one 'O' and one 'I'", name, b.kernelSpec)
	}
	mustIndex := func(spec string, c byte) int {
		idx := strings.IndexByte(spec, c)
		if idx < 0 || strings.LastIndexByte(spec, c) != idx {
			exceptions.Panicf("layer %q: axis %q must appear exactly once in spec %q", name, string(c), spec)
		}
		return idx
	}
	spatialIndices := func(spec string) []int {
		indices := make([]int, numSpatial)
		for i, c := range axes.spatial {
			indices[i] = mustIndex(spec, c)
		}
		return indices
	}
	axes.inBatch, axes.inChannels = mustIndex(b.inputSpec, 'N'), mustIndex(b.inputSpec, 'C')
	axes.inSpatial = spatialIndices(b.inputSpec)
	axes.kernelIn, axes.kernelOut = mustIndex(b.kernelSpec, 'I'), mustIndex(b.kernelSpec, 'O')
	axes.kernelSpatial = spatialIndices(b.kernelSpec)
	axes.outBatch, axes.outChannels = mustIndex(b.outSpec, 'N'), mustIndex(b.outSpec, 'C')
	axes.outSpatial = spatialIndices(b.outSpec)
	return axes
}

// Done returns the configured convolution Layer.
func (b *ConvBuilder) Done() Layer {
	name := b.name()
	weightsInit := b.weightsInit
	axes := b.parseAxes()
	if weightsInit == nil {
		weightsInit = initializers.GlorotNormal(axes.kernelIn, axes.kernelOut)
	}
	numSpatial := len(b.kernelDims)
	kernelDims, strides, padding := slices.Clone(b.kernelDims), slices.Clone(b.strides), b.padding
	outChannels, useBias, biasInit := b.outChannels, b.useBias, b.biasInit

	init := func(rng *rand.Rand, inputShapes []shapes.Shape) ([]shapes.Shape, *Params) {
		checkNumInputs(name, 1, len(inputShapes))
		input := inputShapes[0]
		if input.Rank() != numSpatial+2 {
			exceptions.Panicf("layer %q: input must have rank %d, got %s", name, numSpatial+2, input)
		}
		inSpatialDims := gatherDims(input.Dimensions, axes.inSpatial)
		outSpatialDims := windowedOutputDims(name, padding, inSpatialDims, kernelDims, strides)

		kernelDimsBySpec := make([]int, numSpatial+2)
		kernelDimsBySpec[axes.kernelIn] = input.Dimensions[axes.inChannels]
		kernelDimsBySpec[axes.kernelOut] = outChannels
		for i, axis := range axes.kernelSpatial {
			kernelDimsBySpec[axis] = kernelDims[i]
		}

		outputDims := make([]int, numSpatial+2)
		outputDims[axes.outBatch] = input.Dimensions[axes.inBatch]
		outputDims[axes.outChannels] = outChannels
		for i, axis := range axes.outSpatial {
			outputDims[axis] = outSpatialDims[i]
		}
		output := shapes.Make(input.DType, outputDims...)

		params := NewLeaves(weightsInit(rng, shapes.Make(input.DType, kernelDimsBySpec...)))
		if useBias {
			params.Leaves = append(params.Leaves, biasInit(rng, shapes.Make(input.DType, outChannels)))
		}
		return []shapes.Shape{output}, params
	}

	apply := func(params *ParamNodes, inputs []*graph.Node) []*graph.Node {
		checkNumInputs(name, 1, len(inputs))
		x := inputs[0]
		kernel := params.Leaves[0]

		// Convert to channels-last layout, with spatial axes in kernel spec order.
		x = transposeIfNeeded(x, append(append([]int{axes.inBatch}, axes.inSpatial...), axes.inChannels))
		kernel = transposeIfNeeded(kernel, append(slices.Clone(axes.kernelSpatial), axes.kernelIn, axes.kernelOut))
		inSpatialDims := x.Shape().Dimensions[1 : numSpatial+1]
		y := graph.Convolve(x, kernel).
			StridePerAxis(strides...).
			PaddingPerDim(paddingsFor(padding, inSpatialDims, kernelDims, strides)).
			Done()
		if useBias {
			y = graph.Add(y, broadcastOnAxis(params.Leaves[1], y, y.Rank()-1))
		}

		// Convert the channels-last result to the output spec.
		outPermutation := make([]int, numSpatial+2)
		outPermutation[axes.outBatch] = 0
		outPermutation[axes.outChannels] = numSpatial + 1
		for i, axis := range axes.outSpatial {
			outPermutation[axis] = i + 1
		}
		return []*graph.Node{transposeIfNeeded(y, outPermutation)}
	}
	return Layer{Name: name, Init: init, Apply: apply}
}

// gatherDims returns dims[axes[i]] for each i.
func gatherDims(dims, axes []int) []int {
	gathered := make([]int, len(axes))
	for i, axis := range axes {
		gathered[i] = dims[axis]
	}
	return gathered
}

// transposeIfNeeded transposes x so that output axis i is x's axis permutation[i].
func transposeIfNeeded(x *graph.Node, permutation []int) *graph.Node {
	for i, axis := range permutation {
		if i != axis {
			return graph.TransposeAllAxes(x, permutation...)
		}
	}
	return x
}

// broadcastOnAxis broadcasts the rank-1 v to the shape of target, aligning v with target's axis.
func broadcastOnAxis(v, target *graph.Node, axis int) *graph.Node {
	dims := make([]int, target.Rank())
	for i := range dims {
		dims[i] = 1
	}
	dims[axis] = v.Shape().Dimensions[0]
	return graph.BroadcastToDims(graph.Reshape(v, dims...), target.Shape().Dimensions...)
}
