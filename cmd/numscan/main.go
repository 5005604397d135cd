// Command numscan trains and runs a digit-classifying MLP.
//
// To train: `go run ./cmd/numscan train --data-file=mnist.npz`
//
// To train from a PNG tree: `go run ./cmd/numscan train --data-dir=mnist-png/train`
//
// To infer: `go run ./cmd/numscan infer --weights=numscan.safetensors --image=five.png`
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"

	"github.com/ahmedtd/numscan/toolbox"
	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&TrainCommand{}, "")
	subcommands.Register(&InferCommand{}, "")
	subcommands.Register(&EvalCommand{}, "")
	subcommands.Register(&ConvertCommand{}, "")

	flag.Parse()

	// Interrupting a training run stops it between examples.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}

// dataFlags selects a dataset from either an npz archive or a PNG tree.
type dataFlags struct {
	dataFile string
	split    string
	dataDir  string
}

func (d *dataFlags) register(f *flag.FlagSet, defaultSplit string) {
	f.StringVar(&d.dataFile, "data-file", "", "Path to an mnist.npz file")
	f.StringVar(&d.split, "split", defaultSplit, "Which split of --data-file to use (train or test)")
	f.StringVar(&d.dataDir, "data-dir", "", "Path to a directory with one subdirectory of images per digit")
}

func (d *dataFlags) load() (toolbox.Dataset, error) {
	switch {
	case d.dataFile != "" && d.dataDir != "":
		return nil, fmt.Errorf("--data-file and --data-dir are mutually exclusive")
	case d.dataFile != "":
		return LoadNPZDataset(d.dataFile, d.split)
	case d.dataDir != "":
		return OpenPNGDirDataset(d.dataDir)
	default:
		return nil, fmt.Errorf("one of --data-file or --data-dir is required")
	}
}

type TrainCommand struct {
	data dataFlags

	fromCheckpointFile string
	outputWeightFile   string

	learningRate float64
	epochs       int
	seed         int64
	logEvery     int

	cpuProfileFile string
}

var _ subcommands.Command = (*TrainCommand)(nil)

func (*TrainCommand) Name() string {
	return "train"
}

func (*TrainCommand) Synopsis() string {
	return "Train the model"
}

func (*TrainCommand) Usage() string {
	return ``
}

func (c *TrainCommand) SetFlags(f *flag.FlagSet) {
	defaults := toolbox.DefaultTrainConfig()

	c.data.register(f, "train")
	f.StringVar(&c.fromCheckpointFile, "from-checkpoint", "", "Path to initial weights to load for training")
	f.StringVar(&c.outputWeightFile, "output-weight-file", "numscan.safetensors", "Path to save trained weights (.json for the text format, safetensors otherwise)")

	f.Float64Var(&c.learningRate, "learning-rate", defaults.LearningRate, "SGD learning rate")
	f.IntVar(&c.epochs, "epochs", defaults.Epochs, "Number of passes over the data set")
	f.Int64Var(&c.seed, "seed", defaults.Seed, "Seed for initialization and shuffling")
	f.IntVar(&c.logEvery, "log-every", 1000, "Log the running loss every N examples (0 disables)")

	f.StringVar(&c.cpuProfileFile, "cpu-profile", "", "Write a CPU profile")
}

func (c *TrainCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *TrainCommand) executeErr(ctx context.Context) error {
	if c.cpuProfileFile != "" {
		f, err := os.Create(c.cpuProfileFile)
		if err != nil {
			return fmt.Errorf("while creating CPU profile file: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("while starting CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	ds, err := c.data.load()
	if err != nil {
		return fmt.Errorf("while loading data set: %w", err)
	}
	log.Printf("Data set loaded with %d examples", ds.Len())

	var initial *toolbox.Params
	if c.fromCheckpointFile != "" {
		initial, err = toolbox.Load(c.fromCheckpointFile)
		if err != nil {
			return fmt.Errorf("while loading initial checkpoint: %w", err)
		}
		log.Printf("Resuming from %s with layer sizes %v", c.fromCheckpointFile, initial.LayerSizes())
	}

	cfg := toolbox.DefaultTrainConfig()
	cfg.LearningRate = c.learningRate
	cfg.Epochs = c.epochs
	cfg.Seed = c.seed
	cfg.LogEvery = c.logEvery

	net, err := toolbox.Train(ctx, ds, initial, cfg)
	if err != nil {
		return fmt.Errorf("while training: %w", err)
	}

	if err := toolbox.Save(c.outputWeightFile, net); err != nil {
		return fmt.Errorf("while writing checkpoint: %w", err)
	}
	log.Printf("Wrote weights to %s", c.outputWeightFile)

	return nil
}
