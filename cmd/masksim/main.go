package main

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var (
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "masksim",
	Short: "Symbolic glitch-aware simulator for masked hardware circuits",
	Long: `masksim simulates an annotated gate-level netlist against a value-change
record, tracks the share sensitivity of every wire under glitches, and decides
whether the design composes securely (PINI/OPINI) in the probing model.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./masksim.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
}

// Commands are defined in separate files:
// - runCmd in run.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(2)
	}
	atexit.Exit(exitCode)
}
