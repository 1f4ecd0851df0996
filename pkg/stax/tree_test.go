// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax_test

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/stax/pkg/stax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeFlattenOrder(t *testing.T) {
	tree := &stax.Tree[string]{
		Leaves: []string{"a"},
		Children: []*stax.Tree[string]{
			stax.NewLeaves("b", "c"),
			nil,
			stax.NewChildren(stax.NewLeaves("d"), stax.NewLeaves[string]()),
		},
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, tree.Flatten())
	assert.Equal(t, 4, tree.NumLeaves())

	var empty *stax.Tree[string]
	assert.Empty(t, empty.Flatten())
	assert.Nil(t, empty.Child(0))
	assert.Nil(t, tree.Child(1))
	assert.Nil(t, tree.Child(7))
}

func TestTreeUnflatten(t *testing.T) {
	structure := stax.NewChildren(
		stax.NewLeaves(0, 0),
		nil,
		stax.NewChildren(stax.NewLeaves(0)))
	rebuilt, err := stax.Unflatten(structure, []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, rebuilt.Child(0).Leaves)
	assert.Nil(t, rebuilt.Child(1))
	assert.Equal(t, []string{"z"}, rebuilt.Child(2).Child(0).Leaves)
	assert.Equal(t, []string{"x", "y", "z"}, rebuilt.Flatten())

	_, err = stax.Unflatten(structure, []string{"x"})
	require.Error(t, err)
}

func TestMapTree(t *testing.T) {
	tree := stax.NewChildren(stax.NewLeaves(1, 2), stax.NewLeaves(3))
	doubled := stax.MapTree(tree, func(v int) int { return 2 * v })
	assert.Equal(t, []int{2, 4, 6}, doubled.Flatten())
	assert.Equal(t, []int{1, 2, 3}, tree.Flatten(), "MapTree must not change the original tree")
}

func TestParamsCount(t *testing.T) {
	params := stax.NewChildren(
		stax.NewLeaves(
			tensors.FromFlatDataAndDimensions(make([]float32, 6), 2, 3),
			tensors.FromFlatDataAndDimensions(make([]float32, 3), 3)),
		nil,
		stax.NewLeaves(tensors.FromFlatDataAndDimensions(make([]float64, 4), 4)))
	assert.Equal(t, 13, stax.ParamsCount(params))
	assert.Equal(t, uintptr(9*4+4*8), stax.ParamsMemory(params))
	assert.Equal(t, 0, stax.ParamsCount(nil))
}
