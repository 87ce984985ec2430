/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/l7mp/ivm/internal/buildinfo"
	"github.com/l7mp/ivm/pkg/circuit"
	"github.com/l7mp/ivm/pkg/util"
	"github.com/l7mp/ivm/pkg/visualize"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	var circuitName, batchFile, diagram string
	var snapshot, optimize, lenient, plan bool
	var maxRounds, parallelism int

	flag.StringVar(&circuitName, "circuit", "closure",
		fmt.Sprintf("The example circuit to run, one of: %s.", strings.Join(demoNames(), ", ")))
	flag.StringVar(&batchFile, "batch", "", "YAML file holding the input changes of each tick.")
	flag.StringVar(&diagram, "diagram", "", "Print the circuit as a diagram instead of running it (dot or mermaid).")
	flag.BoolVar(&snapshot, "snapshot", false, "Run the circuit on snapshots instead of deltas.")
	flag.BoolVar(&optimize, "optimize", true, "Optimize the circuit before running it.")
	flag.BoolVar(&lenient, "lenient-weights", false, "Accept deletions of absent tuples.")
	flag.BoolVar(&plan, "plan", false, "Print the execution plan before running.")
	flag.IntVar(&maxRounds, "max-fixpoint-rounds", circuit.DefaultMaxFixpointRounds,
		"Upper bound on the rounds of a recursive scope in a single tick.")
	flag.IntVar(&parallelism, "parallelism", 0, "Number of nodes evaluated concurrently (0: GOMAXPROCS).")

	opts := zap.Options{
		Development:     true,
		DestWriter:      os.Stderr,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	logger := zap.New(zap.UseFlagOptions(&opts))
	ctrllog.SetLogger(logger.WithName("ivm"))
	setupLog := logger.WithName("setup")

	buildInfo := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	setupLog.Info(fmt.Sprintf("starting ivm %s", buildInfo.String()))

	build, ok := demos[circuitName]
	if !ok {
		setupLog.Error(fmt.Errorf("unknown circuit %q", circuitName), "unable to set up circuit")
		os.Exit(1)
	}
	c := build()

	if !snapshot {
		inc, err := circuit.Incrementalize(c)
		if err != nil {
			setupLog.Error(err, "unable to incrementalize circuit")
			os.Exit(1)
		}
		c = inc
	}

	if optimize {
		opt, err := circuit.Optimize(c, logger.WithName("optimizer"))
		if err != nil {
			setupLog.Error(err, "unable to optimize circuit")
			os.Exit(1)
		}
		c = opt
	}

	if diagram != "" {
		g, err := visualize.NewGenerator(diagram)
		if err != nil {
			setupLog.Error(err, "unable to render circuit")
			os.Exit(1)
		}
		fmt.Print(g.Generate(c))
		return
	}

	if batchFile == "" {
		setupLog.Error(fmt.Errorf("no batch file"), "the -batch flag is mandatory")
		os.Exit(1)
	}
	batch, err := loadBatch(batchFile)
	if err != nil {
		setupLog.Error(err, "unable to load batch file", "file", batchFile)
		os.Exit(1)
	}

	exec, err := circuit.NewExecutor(c, circuit.Options{
		Logger:            logger.WithName("executor"),
		MaxFixpointRounds: maxRounds,
		Parallelism:       parallelism,
		LenientWeights:    lenient,
	})
	if err != nil {
		setupLog.Error(err, "unable to set up executor")
		os.Exit(1)
	}
	defer exec.Close()

	if plan {
		fmt.Println(exec.Plan())
	}

	ctx := signals.SetupSignalHandler()
	for i, tick := range batch.Ticks {
		inputs, err := tick.zsets()
		if err != nil {
			setupLog.Error(err, "invalid tick", "tick", i)
			os.Exit(1)
		}

		outputs, err := exec.Step(ctx, inputs)
		if err != nil {
			setupLog.Error(err, "tick failed", "tick", i)
			os.Exit(1)
		}

		fmt.Printf("tick %d:\n", exec.Tick()-1)
		for _, name := range util.SortedKeys(outputs) {
			fmt.Printf("  %s: %s\n", name, strings.Join(util.Map(formatEntry, outputs[name].Entries()), " "))
		}
	}
}
