package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/ahmedtd/numscan/toolbox"
	"github.com/google/subcommands"
)

type EvalCommand struct {
	weightsFile string
	data        dataFlags
}

var _ subcommands.Command = (*EvalCommand)(nil)

func (*EvalCommand) Name() string {
	return "eval"
}

func (*EvalCommand) Synopsis() string {
	return "Measure loss and accuracy on a data set"
}

func (*EvalCommand) Usage() string {
	return ``
}

func (c *EvalCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.weightsFile, "weights", "numscan.safetensors", "Path to the weights produced by the train command")
	c.data.register(f, "test")
}

func (c *EvalCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *EvalCommand) executeErr(ctx context.Context) error {
	net, err := toolbox.Load(c.weightsFile)
	if err != nil {
		return fmt.Errorf("while loading weights: %w", err)
	}

	ds, err := c.data.load()
	if err != nil {
		return fmt.Errorf("while loading data set: %w", err)
	}

	m, err := toolbox.Evaluate(net, ds)
	if err != nil {
		return fmt.Errorf("while evaluating: %w", err)
	}

	log.Printf("examples=%d loss=%f pct=%.1f", m.Examples, m.Loss, m.Accuracy()*100)
	return nil
}
