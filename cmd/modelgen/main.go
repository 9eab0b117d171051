// Command modelgen writes a seeded development classifier artifact.
// Real deployments use a trained artifact; this tool only exists so the
// service can be run and exercised end to end without one.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dzkmrn/urgency-detection-service/internal/model"
)

func main() {
	out := flag.String("out", "models/urgency_lstm.msgpack", "Output artifact path")
	seed := flag.Int64("seed", 42, "Weight generation seed")
	hidden := flag.Int("hidden", 32, "LSTM hidden size")
	head := flag.String("head", "sigmoid", "Output head: sigmoid or softmax")
	frames := flag.Int("frames", 94, "Input frames")
	coeffs := flag.Int("coeffs", 13, "Input coefficients per frame")
	flag.Parse()

	var headKind model.Head
	switch *head {
	case "sigmoid":
		headKind = model.HeadSigmoid
	case "softmax":
		headKind = model.HeadSoftmax
	default:
		fmt.Fprintf(os.Stderr, "Unknown head %q, must be sigmoid or softmax\n", *head)
		os.Exit(1)
	}

	artifact := model.Generate(*seed, *frames, *coeffs, *hidden, headKind)
	if err := artifact.WriteFile(*out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write artifact: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s artifact to %s (hidden=%d, seed=%d)\n", *head, *out, *hidden, *seed)
}
