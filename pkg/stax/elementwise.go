// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
)

// Relu returns the layer max(x, 0).
func Relu() Layer {
	return elementwise("Relu", func(x *graph.Node) *graph.Node {
		return graph.MaxScalar(x, 0)
	})
}

// Tanh returns the hyperbolic tangent layer.
func Tanh() Layer { return elementwise("Tanh", graph.Tanh) }

// Sigmoid returns the logistic function layer, 1/(1+exp(-x)).
func Sigmoid() Layer { return elementwise("Sigmoid", graph.Sigmoid) }

// Exp returns the exponential layer.
func Exp() Layer { return elementwise("Exp", graph.Exp) }

// Softplus returns the layer log(1+exp(x)).
func Softplus() Layer {
	return elementwise("Softplus", func(x *graph.Node) *graph.Node {
		// log(1+exp(x)) = max(x, 0) + log(1+exp(-|x|)), which doesn't overflow for large x.
		return graph.Add(graph.MaxScalar(x, 0), graph.Log1P(graph.Exp(graph.Neg(graph.Abs(x)))))
	})
}

// Identity returns a layer that outputs its input unchanged.
func Identity() Layer {
	return elementwise("Identity", func(x *graph.Node) *graph.Node { return x })
}

// LogSoftmax returns the layer that normalizes the last axis into log-probabilities.
func LogSoftmax() Layer { return elementwise("LogSoftmax", logSoftmax) }

// Softmax returns the layer that normalizes the last axis into probabilities.
func Softmax() Layer {
	return elementwise("Softmax", func(x *graph.Node) *graph.Node {
		return graph.Exp(logSoftmax(x))
	})
}

// logSoftmax over the last axis: x - max(x) - log(sum(exp(x - max(x)))).
func logSoftmax(x *graph.Node) *graph.Node {
	dims := x.Shape().Dimensions
	shifted := graph.Sub(x, graph.BroadcastToDims(
		graph.StopGradient(graph.ReduceAndKeep(x, graph.ReduceMax, -1)), dims...))
	logSumExp := graph.Log(graph.ReduceAndKeep(graph.Exp(shifted), graph.ReduceSum, -1))
	return graph.Sub(shifted, graph.BroadcastToDims(logSumExp, dims...))
}
