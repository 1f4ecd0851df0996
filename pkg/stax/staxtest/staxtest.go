// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package staxtest holds test utilities for packages that define stax models.
package staxtest

import (
	"math/rand/v2"
	"os"
	"sync"
	"testing"

	"github.com/gomlx/compute"
	"github.com/gomlx/compute/dtypes"
	_ "github.com/gomlx/compute/gobackend"
	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/stax/pkg/stax"
	"github.com/gomlx/stax/pkg/stax/initializers"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

// DefaultBackendName is the backend used for tests, if GOMLX_BACKEND is not set: the pure Go backend.
const DefaultBackendName = "go"

// Seed used by CheckShapeAgreement, for both the parameters and the random input.
const Seed = 0

var (
	backendOnce   sync.Once
	cachedBackend compute.Backend
)

// BuildTestBackend returns the backend used by tests, created once per process.
//
// It uses the pure Go backend, unless overwritten by the GOMLX_BACKEND environment variable.
func BuildTestBackend() compute.Backend {
	backendOnce.Do(func() {
		config := DefaultBackendName
		if selected := os.Getenv(compute.ConfigEnvVar); selected != "" {
			config = selected
		}
		var err error
		cachedBackend, err = compute.NewWithConfig(config)
		if err != nil {
			klog.Fatalf("Failed to create test backend %q: %+v", config, err)
		}
	})
	return cachedBackend
}

// Float32 returns a float32 shape with the given dimensions.
func Float32(dimensions ...int) shapes.Shape {
	return shapes.Make(dtypes.Float32, dimensions...)
}

// RandomNormal returns a tensor of the given shape with values sampled from a standard normal distribution.
func RandomNormal(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
	return initializers.Normal(1.0)(rng, shape)
}

// CheckShapeAgreement initializes layer for inputShape, applies it to a random input of that shape,
// and checks that the actual output shape is the one declared by the layer's Init.
//
// The parameters and the input are generated from a random number generator seeded with Seed.
func CheckShapeAgreement(t *testing.T, backend compute.Backend, layer stax.Layer, inputShape shapes.Shape) {
	t.Helper()
	rng := stax.NewRNG(Seed)
	declared, params, err := layer.InitWithShape(rng, inputShape)
	require.NoError(t, err, "Init(%s) of %q", inputShape, layer.Name)
	input := RandomNormal(rng, inputShape)
	output, err := stax.Apply(backend, layer, params, input)
	require.NoError(t, err, "Apply(%s) of %q", inputShape, layer.Name)
	require.Truef(t, declared.Equal(output.Shape()),
		"layer %q declared output shape %s, but Apply returned %s", layer.Name, declared, output.Shape())
}
