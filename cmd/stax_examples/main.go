// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// stax_examples initializes and runs one of the example models on random data, printing
// a summary of its parameters and the shapes of its outputs.
//
// For -model=kernellsq it trains a kernel least-squares regressor on a synthetic linear dataset,
// displaying a progress bar, and optionally saving the loss curve with -plot.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/compute"
	"github.com/gomlx/compute/dtypes"
	_ "github.com/gomlx/compute/gobackend"
	"github.com/gomlx/compute/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/stax/examples/kernellsq"
	"github.com/gomlx/stax/examples/mnistclassifier"
	"github.com/gomlx/stax/examples/mnistfromscratch"
	"github.com/gomlx/stax/examples/mnistvae"
	"github.com/gomlx/stax/examples/resnet50"
	"github.com/gomlx/stax/pkg/stax"
	"github.com/gomlx/stax/pkg/stax/initializers"
	"github.com/gomlx/stax/ui/commandline"
	"github.com/gomlx/stax/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagModel      = flag.String("model", "mnistclassifier", "Model to run: resnet50, mnistclassifier, mnistfromscratch, mnistvae or kernellsq.")
	flagInputShape = flag.String("input_shape", "", "Comma separated dimensions of the input. "+
		"For resnet50 it is HWCN, for the mnist models it is batch,784 and for kernellsq it is examples,features. "+
		"If empty, a default for the model is used.")
	flagNumClasses = flag.Int("num_classes", 10, "Number of classes for resnet50.")
	flagSeed       = flag.Uint64("seed", 0, "Seed for the parameters and the random data.")
	flagSteps      = flag.Int("steps", kernellsq.DefaultSteps, "Number of gradient descent steps for kernellsq.")
	flagStepSize   = flag.Float64("step_size", kernellsq.DefaultStepSize, "Step size of the gradient descent for kernellsq.")
	flagPlot       = flag.String("plot", "", "Path prefix for kernellsq loss points (<prefix>.jsonl) and plot (<prefix>.png).")
	flagBackend    = flag.String("backend", "", "Backend configuration, e.g. \"go\". "+
		"If empty, the GOMLX_BACKEND environment variable or the default backend is used.")
)

var defaultInputShapes = map[string]string{
	"resnet50":         "224,224,3,2",
	"mnistclassifier":  "8,784",
	"mnistfromscratch": "8,784",
	"mnistvae":         "8,784",
	"kernellsq":        "64,3",
}

// ParseDimensions parses a comma separated list of positive dimensions, e.g. "224,224,3,2".
func ParseDimensions(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty list of dimensions")
	}
	parts := strings.Split(s, ",")
	dims := make([]int, len(parts))
	for i, part := range parts {
		dim, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid dimension #%d in %q", i, s)
		}
		if dim <= 0 {
			return nil, errors.Errorf("dimension #%d in %q must be positive, got %d", i, s, dim)
		}
		dims[i] = dim
	}
	return dims, nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if err := run(); err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	inputShapeFlag := *flagInputShape
	if inputShapeFlag == "" {
		var found bool
		inputShapeFlag, found = defaultInputShapes[*flagModel]
		if !found {
			return errors.Errorf("unknown -model=%q", *flagModel)
		}
	}
	dims, err := ParseDimensions(inputShapeFlag)
	if err != nil {
		return errors.WithMessage(err, "parsing -input_shape")
	}

	var backend compute.Backend
	if *flagBackend != "" {
		backend, err = compute.NewWithConfig(*flagBackend)
	} else {
		backend, err = compute.New()
	}
	if err != nil {
		return errors.WithMessage(err, "creating backend")
	}
	defer backend.Finalize()
	klog.V(1).Infof("Backend: %s", backend.Description())

	rng := stax.NewRNG(*flagSeed)
	switch *flagModel {
	case "resnet50":
		if len(dims) != 4 {
			return errors.Errorf("resnet50 takes an HWCN input of rank 4, got -input_shape=%q", inputShapeFlag)
		}
		return runLayer(backend, rng, "ResNet50", resnet50.ResNet50(*flagNumClasses), shapes.Make(dtypes.Float32, dims...))
	case "mnistclassifier":
		return runLayer(backend, rng, "MNIST classifier", mnistclassifier.Model(), shapes.Make(dtypes.Float32, dims...))
	case "mnistfromscratch":
		if len(dims) != 2 {
			return errors.Errorf("mnistfromscratch takes a [batch, pixels] input, got -input_shape=%q", inputShapeFlag)
		}
		return runFromScratch(backend, rng, dims[0], dims[1])
	case "mnistvae":
		if len(dims) != 2 {
			return errors.Errorf("mnistvae takes a [batch, pixels] input, got -input_shape=%q", inputShapeFlag)
		}
		if err := runLayer(backend, rng, "MNIST VAE encoder",
			mnistvae.Encoder(mnistvae.DefaultLatent, mnistvae.DefaultHidden), shapes.Make(dtypes.Float32, dims...)); err != nil {
			return err
		}
		return runLayer(backend, rng, "MNIST VAE decoder",
			mnistvae.Decoder(mnistvae.DefaultHidden, dims[1]), shapes.Make(dtypes.Float32, dims[0], mnistvae.DefaultLatent))
	case "kernellsq":
		if len(dims) != 2 {
			return errors.Errorf("kernellsq takes -input_shape=examples,features, got %q", inputShapeFlag)
		}
		return runKernelLSQ(backend, rng, dims[0], dims[1])
	}
	return errors.Errorf("unknown -model=%q", *flagModel)
}

// runLayer initializes layer for inputShape, prints its parameters and applies it to a random input.
func runLayer(backend compute.Backend, rng *rand.Rand, name string, layer stax.Layer, inputShape shapes.Shape) error {
	declared, params, err := layer.InitShapes(rng, inputShape)
	if err != nil {
		return errors.WithMessagef(err, "initializing %s", name)
	}
	fmt.Println(commandline.ParamsSummary(name, params))

	exec, err := stax.NewExec(backend, layer, params)
	if err != nil {
		return errors.WithMessagef(err, "compiling %s", name)
	}
	defer exec.Finalize()
	outputs, err := exec.Call(params, initializers.Normal(1.0)(rng, inputShape))
	if err != nil {
		return errors.WithMessagef(err, "applying %s", name)
	}
	for i, output := range outputs {
		fmt.Printf("Output #%d: declared %s, got %s\n", i, declared[i], output.Shape())
	}
	return nil
}

// runFromScratch runs one gradient descent step of the hand-written MLP on random images and labels.
func runFromScratch(backend compute.Backend, rng *rand.Rand, batchSize, numPixels int) error {
	layerSizes := slices.Clone(mnistfromscratch.LayerSizes)
	layerSizes[0] = numPixels
	params := mnistfromscratch.InitRandomParams(rng, dtypes.Float32, mnistfromscratch.ParamScale, layerSizes)
	fmt.Println(commandline.ParamsSummary("MNIST from scratch", params))

	numClasses := layerSizes[len(layerSizes)-1]
	oneHot := make([]float32, batchSize*numClasses)
	for i := range batchSize {
		oneHot[i*numClasses+rng.IntN(numClasses)] = 1
	}
	sgd, err := mnistfromscratch.NewSGD(backend, params, mnistfromscratch.DefaultStepSize)
	if err != nil {
		return err
	}
	defer sgd.Finalize()
	_, loss, err := sgd.Step(params,
		initializers.Normal(1.0)(rng, shapes.Make(dtypes.Float32, batchSize, numPixels)),
		tensors.FromFlatDataAndDimensions(oneHot, batchSize, numClasses))
	if err != nil {
		return err
	}
	fmt.Printf("Loss before the first step: %.6g\n", loss)
	return nil
}

// runKernelLSQ fits a kernel least-squares model with a linear kernel on ys = xs · w, for a random w.
func runKernelLSQ(backend compute.Backend, rng *rand.Rand, numExamples, numFeatures int) error {
	normal := initializers.Normal(1.0)
	truth := tensors.MustCopyFlatData[float64](normal(rng, shapes.Make(dtypes.Float64, numFeatures)))
	xs := normal(rng, shapes.Make(dtypes.Float64, numExamples, numFeatures))
	xsFlat := tensors.MustCopyFlatData[float64](xs)
	ysFlat := make([]float64, numExamples)
	for i := range numExamples {
		for j := range numFeatures {
			ysFlat[i] += xsFlat[i*numFeatures+j] * truth[j]
		}
	}
	ys := tensors.FromFlatDataAndDimensions(ysFlat, numExamples)

	var points plots.Points
	var pointsWriter chan<- plots.Point
	var pointsErr <-chan error
	if *flagPlot != "" {
		points = plots.NewPoints(nil)
		pointsWriter, pointsErr = plots.CreatePointsWriter(*flagPlot + ".jsonl")
	}
	pBar := commandline.NewProgressBar(*flagSteps)
	trainer := kernellsq.New(backend, kernellsq.LinearKernel).
		Steps(*flagSteps).
		StepSize(*flagStepSize).
		OnStep(func(step int, loss float64) {
			pBar.OnStep(step, loss)
			if pointsWriter != nil {
				point := plots.Point{Metric: "loss", Step: step, Value: loss}
				points.AddPoint(point)
				pointsWriter <- point
			}
		})
	predict, err := trainer.Train(xs, ys)
	pBar.Done()
	if pointsWriter != nil {
		close(pointsWriter)
		if writeErr := <-pointsErr; writeErr != nil && err == nil {
			err = writeErr
		}
	}
	if err != nil {
		return err
	}

	predictions, err := predict(xs)
	if err != nil {
		return err
	}
	var sumSquares float64
	for i, p := range tensors.MustCopyFlatData[float64](predictions) {
		sumSquares += (p - ysFlat[i]) * (p - ysFlat[i])
	}
	fmt.Printf("Training mean squared error: %.6g\n", sumSquares/float64(numExamples))

	if points != nil {
		pngPath := *flagPlot + ".png"
		if err := points.SavePNG(pngPath, "loss", true); err != nil {
			return err
		}
		fmt.Printf("Loss plot saved to %q\n", pngPath)
	}
	return nil
}
