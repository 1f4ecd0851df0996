// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Tree is the nested structure used to hold a layer's parameters.
//
// Simple layers (Dense, Conv, BatchNorm) only use Leaves; combinators (Serial, Parallel)
// only use Children, one per sub-layer. A nil *Tree is a valid empty tree.
type Tree[T any] struct {
	Leaves   []T
	Children []*Tree[T]
}

// Params are the parameter values produced by a Layer's Init.
type Params = Tree[*tensors.Tensor]

// ParamNodes are the parameters as seen by a Layer's Apply, while building the graph.
type ParamNodes = Tree[*graph.Node]

// NewLeaves returns a tree with only the given leaves.
func NewLeaves[T any](leaves ...T) *Tree[T] {
	return &Tree[T]{Leaves: leaves}
}

// NewChildren returns a tree with only the given children.
func NewChildren[T any](children ...*Tree[T]) *Tree[T] {
	return &Tree[T]{Children: children}
}

// Child returns the i-th child, or nil if the tree has no such child.
func (t *Tree[T]) Child(i int) *Tree[T] {
	if t == nil || i < 0 || i >= len(t.Children) {
		return nil
	}
	return t.Children[i]
}

// Flatten returns all leaves depth-first: a node's own leaves come before its children's.
func (t *Tree[T]) Flatten() []T {
	var flat []T
	t.walk(func(leaf T) { flat = append(flat, leaf) })
	return flat
}

// NumLeaves returns the total number of leaves in the tree.
func (t *Tree[T]) NumLeaves() int {
	count := 0
	t.walk(func(T) { count++ })
	return count
}

func (t *Tree[T]) walk(fn func(leaf T)) {
	if t == nil {
		return
	}
	for _, leaf := range t.Leaves {
		fn(leaf)
	}
	for _, child := range t.Children {
		child.walk(fn)
	}
}

// MapTree returns a tree with the same structure as t, with each leaf converted by fn.
func MapTree[T, U any](t *Tree[T], fn func(T) U) *Tree[U] {
	if t == nil {
		return nil
	}
	mapped := &Tree[U]{}
	if len(t.Leaves) > 0 {
		mapped.Leaves = make([]U, len(t.Leaves))
		for i, leaf := range t.Leaves {
			mapped.Leaves[i] = fn(leaf)
		}
	}
	if len(t.Children) > 0 {
		mapped.Children = make([]*Tree[U], len(t.Children))
		for i, child := range t.Children {
			mapped.Children[i] = MapTree(child, fn)
		}
	}
	return mapped
}

// Unflatten places values, in the order returned by Flatten, into a tree shaped like structure.
//
// It returns an error if the number of values doesn't match the number of leaves of structure.
func Unflatten[T, U any](structure *Tree[T], values []U) (*Tree[U], error) {
	if want := structure.NumLeaves(); want != len(values) {
		return nil, errors.Errorf("stax.Unflatten: tree has %d leaves, but %d values were given", want, len(values))
	}
	next := 0
	return MapTree(structure, func(T) U {
		value := values[next]
		next++
		return value
	}), nil
}

// ParamsCount returns the total number of scalar values held by params.
func ParamsCount(params *Params) int {
	count := 0
	params.walk(func(t *tensors.Tensor) { count += t.Shape().Size() })
	return count
}

// ParamsMemory returns the memory in bytes used by the values held by params.
func ParamsMemory(params *Params) uintptr {
	var memory uintptr
	params.walk(func(t *tensors.Tensor) { memory += t.Shape().Memory() })
	return memory
}
