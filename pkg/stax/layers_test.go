// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax_test

import (
	"math"
	"testing"

	"github.com/gomlx/compute/dtypes"
	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/stax/pkg/stax"
	"github.com/gomlx/stax/pkg/stax/initializers"
	"github.com/gomlx/stax/pkg/stax/staxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var F32 = staxtest.Float32

func TestShapeAgreement(t *testing.T) {
	backend := staxtest.BuildTestBackend()
	testCases := []struct {
		name  string
		layer stax.Layer
		input shapes.Shape
	}{
		{"Dense", stax.Dense(7), F32(3, 5)},
		{"DenseRank3", stax.Dense(2), F32(2, 3, 4)},
		{"ConvValid", stax.Conv(4, 3, 3).Done(), F32(2, 10, 9, 3)},
		{"ConvSameStrided", stax.Conv(4, 3, 3).Strides(2).PadSame().Done(), F32(2, 10, 9, 3)},
		{"ConvUnevenStrides", stax.Conv(2, 2, 3).Strides(1, 2).Done(), F32(1, 7, 8, 2)},
		{"Conv1D", stax.Conv(3, 5).PadSame().DimensionNumbers("NWC", "WIO", "NWC").Done(), F32(2, 11, 4)},
		{"GeneralConvHWCN", stax.GeneralConv([3]string{"HWCN", "OIHW", "NHWC"}, 8, []int{7, 7}, []int{2, 2}, stax.Same), F32(20, 25, 3, 2)},
		{"GeneralConvNCHW", stax.GeneralConv([3]string{"NCHW", "OIHW", "NCHW"}, 5, []int{3, 2}, nil, stax.Valid), F32(2, 3, 8, 6)},
		{"ConvNoBias", stax.Conv(3, 1, 1).UseBias(false).Done(), F32(1, 4, 4, 2)},
		{"MaxPoolValid", stax.MaxPool([]int{3, 3}, []int{2, 2}, stax.Valid), F32(2, 11, 10, 3)},
		{"SumPoolSame", stax.SumPool([]int{2, 2}, nil, stax.Same), F32(2, 5, 6, 3)},
		{"AvgPool", stax.AvgPool([]int{2, 3}, []int{2, 1}, stax.Valid), F32(2, 8, 8, 1)},
		{"BatchNorm", stax.BatchNorm(), F32(4, 5, 6, 3)},
		{"BatchNormAxis0", stax.BatchNorm(0), F32(8, 3)},
		{"Flatten", stax.Flatten(), F32(2, 3, 4, 5)},
		{"Relu", stax.Relu(), F32(3, 2)},
		{"Softplus", stax.Softplus(), F32(3, 2)},
		{"LogSoftmax", stax.LogSoftmax(), F32(3, 10)},
		{"Serial", stax.Serial(stax.Conv(4, 3, 3).PadSame().Done(), stax.BatchNorm(), stax.Relu(),
			stax.Flatten(), stax.Dense(3)), F32(2, 5, 5, 2)},
		{"Residual", stax.Serial(stax.FanOut(2), stax.Parallel(stax.Dense(4), stax.Identity()),
			stax.FanInSum(), stax.Tanh()), F32(3, 4)},
		{"Concat", stax.Serial(stax.FanOut(3), stax.Parallel(stax.Dense(2), stax.Dense(5), stax.Identity()),
			stax.FanInConcat(-1)), F32(3, 4)},
		{"ShapeDependent", stax.ShapeDependent(func(inputShapes []shapes.Shape) stax.Layer {
			return stax.Dense(inputShapes[0].Dimensions[1] + 1)
		}), F32(2, 6)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			staxtest.CheckShapeAgreement(t, backend, tc.layer, tc.input)
		})
	}
}

func TestDeclaredShapes(t *testing.T) {
	rng := stax.NewRNG(0)
	testCases := []struct {
		name        string
		layer       stax.Layer
		input, want shapes.Shape
	}{
		{"ConvValid", stax.Conv(4, 3, 3).Done(), F32(2, 10, 9, 3), F32(2, 8, 7, 4)},
		{"ConvSameStrided", stax.Conv(4, 3, 3).Strides(2).PadSame().Done(), F32(2, 10, 9, 3), F32(2, 5, 5, 4)},
		{"GeneralConvHWCN", stax.GeneralConv([3]string{"HWCN", "OIHW", "NHWC"}, 8, []int{7, 7}, []int{2, 2}, stax.Same),
			F32(20, 25, 3, 2), F32(2, 10, 13, 8)},
		{"MaxPool", stax.MaxPool([]int{3, 3}, []int{2, 2}, stax.Valid), F32(2, 112, 112, 64), F32(2, 55, 55, 64)},
		{"AvgPool", stax.AvgPool([]int{7, 7}, nil, stax.Valid), F32(2, 7, 7, 32), F32(2, 1, 1, 32)},
		{"Flatten", stax.Flatten(), F32(2, 3, 4, 5), F32(2, 60)},
		{"Dense", stax.Dense(7), F32(2, 3, 5), F32(2, 3, 7)},
		{"FanInConcat", stax.Serial(stax.FanOut(2), stax.FanInConcat(1)), F32(2, 3), F32(2, 6)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := tc.layer.InitWithShape(rng, tc.input)
			require.NoError(t, err)
			assert.Truef(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestInitErrors(t *testing.T) {
	rng := stax.NewRNG(0)
	_, _, err := stax.Dense(3).InitWithShape(rng, shapes.Make(dtypes.Float32))
	require.Error(t, err, "Dense of a scalar")

	_, _, err = stax.Conv(3, 3, 3).Done().InitWithShape(rng, F32(2, 5, 5))
	require.Error(t, err, "Conv2D of a rank-3 input")

	_, _, err = stax.Conv(3, 7, 7).Done().InitWithShape(rng, F32(1, 5, 5, 1))
	require.Error(t, err, "Conv kernel larger than the input")

	_, _, err = stax.Parallel(stax.Relu(), stax.Relu()).InitWithShape(rng, F32(2))
	require.Error(t, err, "Parallel with fewer inputs than layers")

	_, _, err = stax.FanOut(2).InitWithShape(rng, F32(2))
	require.Error(t, err, "InitWithShape of a layer with 2 outputs")

	_, _, err = stax.Serial(stax.FanOut(2), stax.Parallel(stax.Dense(3), stax.Identity()), stax.FanInSum()).
		InitWithShape(rng, F32(2, 4))
	require.Error(t, err, "FanInSum of different shapes")
}

func TestDenseValues(t *testing.T) {
	backend := staxtest.BuildTestBackend()
	layer := stax.DenseWithInitializers(2, initializers.Ones, initializers.Zeros)
	_, params, err := layer.InitWithShape(stax.NewRNG(0), F32(2, 3))
	require.NoError(t, err)
	x := tensors.FromValue([][]float32{{1, 2, 3}, {-1, 0, 4}})
	y, err := stax.Apply(backend, layer, params, x)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{6, 6}, {3, 3}}, y.Value())
}

func TestConvValues(t *testing.T) {
	backend := staxtest.BuildTestBackend()
	// A 2x2 kernel of ones sums each window.
	layer := stax.Conv(1, 2, 2).WeightsInitializer(initializers.Ones).UseBias(false).Done()
	_, params, err := layer.InitWithShape(stax.NewRNG(0), F32(1, 3, 3, 1))
	require.NoError(t, err)
	x := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 3, 3, 1)
	y, err := stax.Apply(backend, layer, params, x)
	require.NoError(t, err)
	assert.Equal(t, []float32{12, 16, 24, 28}, tensors.MustCopyFlatData[float32](y))
}

func TestPoolingValues(t *testing.T) {
	backend := staxtest.BuildTestBackend()
	x := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 3, 3, 1)
	apply := func(layer stax.Layer, input *tensors.Tensor) []float32 {
		y, err := stax.Apply(backend, layer, nil, input)
		require.NoError(t, err)
		return tensors.MustCopyFlatData[float32](y)
	}
	assert.Equal(t, []float32{5, 6, 8, 9}, apply(stax.MaxPool([]int{2, 2}, nil, stax.Valid), x))
	assert.Equal(t, []float32{12, 16, 24, 28}, apply(stax.SumPool([]int{2, 2}, nil, stax.Valid), x))
	assert.Equal(t, []float32{3, 4, 6, 7}, apply(stax.AvgPool([]int{2, 2}, nil, stax.Valid), x))
	assert.Equal(t, []float32{5}, apply(stax.AvgPool([]int{3, 3}, []int{3, 3}, stax.Valid), x))

	// With Same padding, the average only counts the elements of the input.
	ones := tensors.FromFlatDataAndDimensions([]float32{1, 1, 1, 1, 1, 1, 1, 1, 1}, 1, 3, 3, 1)
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}, apply(stax.AvgPool([]int{3, 3}, nil, stax.Same), ones))
}

func TestBatchNormStatistics(t *testing.T) {
	backend := staxtest.BuildTestBackend()
	inputShape := F32(4, 3, 5, 2)
	layer := stax.BatchNorm()
	rng := stax.NewRNG(0)
	_, params, err := layer.InitWithShape(rng, inputShape)
	require.NoError(t, err)
	require.Len(t, params.Leaves, 2)
	assert.Equal(t, []float32{0, 0}, tensors.MustCopyFlatData[float32](params.Leaves[0]), "beta")
	assert.Equal(t, []float32{1, 1}, tensors.MustCopyFlatData[float32](params.Leaves[1]), "gamma")

	x := staxtest.RandomNormal(rng, inputShape)
	y, err := stax.Apply(backend, layer, params, x)
	require.NoError(t, err)
	values := tensors.MustCopyFlatData[float32](y)
	const numChannels = 2
	numPerChannel := float64(len(values) / numChannels)
	for channel := range numChannels {
		var sum, sumSquares float64
		for i := channel; i < len(values); i += numChannels {
			sum += float64(values[i])
			sumSquares += float64(values[i]) * float64(values[i])
		}
		mean := sum / numPerChannel
		variance := sumSquares/numPerChannel - mean*mean
		assert.InDeltaf(t, 0.0, mean, 1e-4, "channel %d mean", channel)
		assert.InDeltaf(t, 1.0, variance, 1e-3, "channel %d variance", channel)
	}
}

func TestActivations(t *testing.T) {
	backend := staxtest.BuildTestBackend()
	x := tensors.FromValue([][]float64{{-2, 0, 3}, {100, 0, -100}})
	apply := func(layer stax.Layer) []float64 {
		y, err := stax.Apply(backend, layer, nil, x)
		require.NoError(t, err)
		return tensors.MustCopyFlatData[float64](y)
	}
	assert.Equal(t, []float64{0, 0, 3, 100, 0, 0}, apply(stax.Relu()))
	assert.Equal(t, []float64{-2, 0, 3, 100, 0, -100}, apply(stax.Identity()))

	softplus := apply(stax.Softplus())
	assert.InDelta(t, math.Log1p(math.Exp(-2)), softplus[0], 1e-12)
	assert.InDelta(t, math.Ln2, softplus[1], 1e-12)
	assert.InDelta(t, 100.0, softplus[3], 1e-12, "Softplus must not overflow")

	for row, probs := range [][]float64{apply(stax.Softmax())[:3], apply(stax.Softmax())[3:]} {
		sum := 0.0
		for _, p := range probs {
			sum += p
		}
		assert.InDeltaf(t, 1.0, sum, 1e-9, "softmax row %d", row)
	}
	logProbs := apply(stax.LogSoftmax())
	assert.InDelta(t, 0.0, logProbs[3], 1e-9, "LogSoftmax of the dominant logit")
	assert.InDelta(t, -200.0, logProbs[5], 1e-9)
}

func TestExecCallErrors(t *testing.T) {
	backend := staxtest.BuildTestBackend()
	layer := stax.Dense(2)
	_, params, err := layer.InitWithShape(stax.NewRNG(0), F32(1, 3))
	require.NoError(t, err)
	e, err := stax.NewExec(backend, layer, params)
	require.NoError(t, err)
	defer e.Finalize()

	_, err = e.Call(stax.NewLeaves(params.Leaves[0]), staxtest.RandomNormal(stax.NewRNG(1), F32(1, 3)))
	require.Error(t, err, "missing bias")

	_, err = e.Call(params, staxtest.RandomNormal(stax.NewRNG(1), F32(1, 4)))
	require.Error(t, err, "input with the wrong feature dimension")

	outputs, err := e.Call(params, staxtest.RandomNormal(stax.NewRNG(1), F32(5, 3)))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.True(t, F32(5, 2).Equal(outputs[0].Shape()))
}
