package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/normnet/normnet/normnet"
)

func main() {
	klog.InitFlags(nil)
	epochs := flag.Int("epochs", 3000, "training epochs")
	lr := flag.Float64("lr", 0.5, "learning rate")
	modelPath := flag.String("save", "", "save the trained model to this file")
	flag.Parse()

	fmt.Println("=== XOR with weight-normalized hidden layer ===")

	// 2 inputs -> 4 hidden (weight normalized) -> 1 output.
	hidden, err := normnet.WeightNorm(normnet.Dense(2, 4, normnet.Tanh))
	if err != nil {
		klog.Exitf("configure hidden layer: %v", err)
	}
	network := normnet.Sequential(hidden, normnet.Dense(4, 1, normnet.Sigmoid))
	if err := network.Reset(); err != nil {
		klog.Exitf("reset network: %v", err)
	}

	trainX := [][]float64{
		{0, 0},
		{0, 1},
		{1, 0},
		{1, 1},
	}
	trainY := []float64{0, 1, 1, 0}

	bar := progressbar.Default(int64(*epochs), "training")
	for epoch := 0; epoch < *epochs; epoch++ {
		var totalLoss float64
		for i := range trainX {
			loss, err := trainStep(network, trainX[i], trainY[i], *lr)
			if err != nil {
				klog.Exitf("epoch %d: %v", epoch, err)
			}
			totalLoss += loss
		}
		_ = bar.Add(1)
		if klog.V(2).Enabled() && epoch%500 == 0 {
			klog.Infof("epoch %d loss %.6f\n", epoch, totalLoss/float64(len(trainX)))
		}
	}

	fmt.Println("\nPredictions:")
	for i := range trainX {
		pred, err := network.Forward(trainX[i])
		if err != nil {
			klog.Exitf("predict: %v", err)
		}
		fmt.Printf("  %v XOR -> %.4f (want %.0f)\n", trainX[i], pred[0], trainY[i])
	}

	if *modelPath != "" {
		if err := network.Save(*modelPath); err != nil {
			klog.Errorf("save model: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Model saved to %s\n", *modelPath)
	}
}

// trainStep runs one forward/backward pass and applies a plain
// gradient-descent update with an MSE loss.
func trainStep(n *normnet.Network, x []float64, y, lr float64) (float64, error) {
	pred, err := n.Forward(x)
	if err != nil {
		return 0, err
	}
	diff := pred[0] - y
	loss := diff * diff

	if _, err := n.Backward([]float64{2 * diff}); err != nil {
		return 0, err
	}
	grads, err := n.ParameterGradients()
	if err != nil {
		return 0, err
	}
	for i, l := range n.Layers() {
		params := l.Parameters()
		floats.AddScaled(params, -lr, grads[i])
		if err := l.SetParameters(params); err != nil {
			return 0, err
		}
	}
	return loss, nil
}
