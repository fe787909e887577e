// Command tagesim drives a TAGE/ITTAGE predictor over a trace file and
// reports misprediction statistics, mirroring predict.cc's simulation
// loop: read a trace entry, predict, tally misses by record kind, update,
// repeat until end of file.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/tagesim/predictor/internal/predictor"
	"github.com/tagesim/predictor/internal/trace"
)

const instructionsPerTrace = 1e8

func main() {
	var seed = pflag.Uint64P("seed", "s", 1, "seed for the allocation-bank RNG")
	var verbose = pflag.BoolP("verbose", "v", false, "log per-entry mispredictions")
	var help = pflag.BoolP("help", "h", false, "display help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <trace-file>\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}
	if len(pflag.Args()) != 1 {
		fmt.Fprintf(os.Stderr, "Exactly one argument required (trace file) - got %v\n", pflag.Args())
		pflag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr)
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if err := run(pflag.Arg(0), *seed, *verbose, logger); err != nil {
		logger.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func run(path string, seed uint64, verbose bool, logger *log.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tagesim: opening trace: %w", err)
	}
	defer f.Close()

	p := predictor.New(seed)
	reader := trace.NewReader(f)

	var dmiss, tmiss, totalMisses, totalBranches int64
	var totalConditional, totalIndirect int64

	for {
		entry, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("tagesim: reading trace: %w", err)
		}

		pred := p.Predict(entry.Record)
		totalBranches++

		if entry.Record.Flags&predictor.Conditional != 0 {
			totalConditional++
			if pred.Direction != entry.ActualTaken {
				dmiss++
				if verbose {
					logger.Debug("direction mispredict", "address", entry.Record.Address)
				}
			}
		}
		if entry.Record.Flags&predictor.Indirect != 0 {
			totalIndirect++
			if pred.Target != entry.ActualTarget {
				tmiss++
				if verbose {
					logger.Debug("target mispredict", "address", entry.Record.Address)
				}
			}
		}

		p.Update(pred, entry.ActualTaken, entry.ActualTarget)
	}

	totalMisses = dmiss + tmiss

	logger.Info("simulation complete",
		"dmiss", dmiss, "conditional", totalConditional,
		"tmiss", tmiss, "indirect", totalIndirect,
		"branches", totalBranches,
	)

	mpki := 1000.0 * (float64(totalMisses) / instructionsPerTrace)
	fmt.Printf("%0.3f MPKI\n", mpki)

	return nil
}
