// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"github.com/gomlx/exceptions"
)

// Padding selects how convolutions and pooling handle the borders of the input.
type Padding int

const (
	// Valid only uses windows that fit entirely within the input: no padding.
	Valid Padding = iota

	// Same pads the input so the output spatial dimensions are ceil(input/stride).
	Same
)

func (p Padding) String() string {
	switch p {
	case Valid:
		return "VALID"
	case Same:
		return "SAME"
	default:
		return "INVALID"
	}
}

// paddingsFor returns the (low, high) padding per spatial axis for the given window and strides.
//
// For Same, the total padding of an axis is max((out-1)*stride + window - in, 0), with the extra
// element (when odd) going to the high side.
func paddingsFor(padding Padding, inputDims, windowDims, strides []int) [][2]int {
	paddings := make([][2]int, len(inputDims))
	switch padding {
	case Valid:
		return paddings
	case Same:
		for axis, in := range inputDims {
			out := (in + strides[axis] - 1) / strides[axis]
			total := max((out-1)*strides[axis]+windowDims[axis]-in, 0)
			paddings[axis] = [2]int{total / 2, total - total/2}
		}
		return paddings
	default:
		exceptions.Panicf("unknown padding %d", padding)
		return nil
	}
}

// windowedOutputDims returns the spatial output dimensions of a convolution or pooling.
func windowedOutputDims(name string, padding Padding, inputDims, windowDims, strides []int) []int {
	paddings := paddingsFor(padding, inputDims, windowDims, strides)
	out := make([]int, len(inputDims))
	for axis, in := range inputDims {
		if strides[axis] <= 0 {
			exceptions.Panicf("layer %q: strides must be positive, got %v", name, strides)
		}
		padded := in + paddings[axis][0] + paddings[axis][1]
		if padded < windowDims[axis] {
			exceptions.Panicf("layer %q: window %v larger than (padded) input %v", name, windowDims, inputDims)
		}
		out[axis] = (padded-windowDims[axis])/strides[axis] + 1
	}
	return out
}

// onesIfNil returns strides of 1 for every axis if strides is empty.
func onesIfNil(strides []int, numAxes int) []int {
	if len(strides) > 0 {
		return strides
	}
	ones := make([]int, numAxes)
	for i := range ones {
		ones[i] = 1
	}
	return ones
}
