package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/ahmedtd/numscan/toolbox"
	"github.com/google/subcommands"
)

type ConvertCommand struct {
	inFile  string
	outFile string
	dtype   string
}

var _ subcommands.Command = (*ConvertCommand)(nil)

func (*ConvertCommand) Name() string {
	return "convert"
}

func (*ConvertCommand) Synopsis() string {
	return "Re-encode weights between the JSON and safetensors formats"
}

func (*ConvertCommand) Usage() string {
	return ``
}

func (c *ConvertCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inFile, "in", "", "Path to the weights to read")
	f.StringVar(&c.outFile, "out", "", "Path to write (.json for the text format, safetensors otherwise)")
	f.StringVar(&c.dtype, "dtype", string(toolbox.F64), "Safetensors element type: F64 (exact) or F32 (compact)")
}

func (c *ConvertCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *ConvertCommand) executeErr(ctx context.Context) error {
	if c.inFile == "" || c.outFile == "" {
		return fmt.Errorf("--in and --out are required")
	}

	net, err := toolbox.Load(c.inFile)
	if err != nil {
		return fmt.Errorf("while loading weights: %w", err)
	}

	if err := toolbox.SaveDType(c.outFile, net, toolbox.DType(c.dtype)); err != nil {
		return fmt.Errorf("while writing weights: %w", err)
	}

	log.Printf("Converted %s to %s", c.inFile, c.outFile)
	return nil
}
