// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stax

import (
	"github.com/gomlx/compute"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Exec runs a Layer on a backend.
//
// The computation graph is JIT-compiled for each new combination of parameter and input shapes,
// and cached by the underlying graph.Exec.
type Exec struct {
	layer     Layer
	structure *Params
	exec      *graph.Exec
}

// NewExec creates an executor for layer, for parameters structured as params (as returned by the layer's Init).
//
// Only the structure of params is used: the actual values are given to Call.
func NewExec(backend compute.Backend, layer Layer, params *Params) (*Exec, error) {
	e := &Exec{layer: layer, structure: params}
	var err error
	e.exec, err = graph.NewExec(backend, e.buildGraph)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating executor for layer %q", layer.Name)
	}
	return e, nil
}

// buildGraph receives the flat parameters followed by the inputs.
func (e *Exec) buildGraph(flat []*graph.Node) []*graph.Node {
	numLeaves := e.structure.NumLeaves()
	paramNodes, err := Unflatten(e.structure, flat[:numLeaves])
	if err != nil {
		panic(err)
	}
	klog.V(1).Infof("stax: building graph for %q with %d parameters and %d inputs", e.layer.Name, numLeaves, len(flat)-numLeaves)
	return e.layer.Apply(paramNodes, flat[numLeaves:])
}

// Call executes the layer with the given params and inputs, and returns its outputs.
func (e *Exec) Call(params *Params, inputs ...*tensors.Tensor) (outputs []*tensors.Tensor, err error) {
	if want, got := e.structure.NumLeaves(), params.NumLeaves(); want != got {
		return nil, errors.Errorf("layer %q executor expects %d parameters, got %d", e.layer.Name, want, got)
	}
	flat := params.Flatten()
	args := make([]any, 0, len(flat)+len(inputs))
	for _, t := range flat {
		args = append(args, t)
	}
	for _, t := range inputs {
		args = append(args, t)
	}
	var execErr error
	err = exceptions.TryCatch[error](func() {
		outputs, execErr = e.exec.Exec(args...)
	})
	if err == nil {
		err = execErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "executing layer %q", e.layer.Name)
	}
	return outputs, nil
}

// Finalize frees the compiled graphs.
func (e *Exec) Finalize() {
	e.exec.Finalize()
}

// Apply runs the single output layer once on x and returns the result.
func Apply(backend compute.Backend, layer Layer, params *Params, x *tensors.Tensor) (*tensors.Tensor, error) {
	e, err := NewExec(backend, layer, params)
	if err != nil {
		return nil, err
	}
	defer e.Finalize()
	outputs, err := e.Call(params, x)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.Errorf("layer %q returned %d outputs, Apply requires exactly 1", layer.Name, len(outputs))
	}
	return outputs[0], nil
}
