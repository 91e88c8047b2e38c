package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/spf13/cobra"

	"github.com/sarchlab/masksim/api"
	"github.com/sarchlab/masksim/circuit"
	"github.com/sarchlab/masksim/config"
	"github.com/sarchlab/masksim/core"
	"github.com/sarchlab/masksim/gadget"
	"github.com/sarchlab/masksim/trace"
	"github.com/sarchlab/masksim/yosys"
)

// exitCode is picked up by main after Execute: 0 secure, 1 violations
// found, 2 structural or input error.
var exitCode int

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Verify a masked netlist against an input trace",
	Long: `Loads a Yosys JSON netlist and a VCD input trace, simulates the annotated
top-level gadget symbolically, and reports the security verdict.`,
	RunE:          runVerification,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	runCmd.Flags().String("netlist", "", "path to Yosys JSON netlist (required)")
	runCmd.Flags().String("trace", "", "path to VCD input trace (required)")
	runCmd.Flags().String("top", "", "top-level gadget module name")
	runCmd.Flags().Int("shares", 0, "number of shares d (default from config)")
	runCmd.Flags().Int64("max-cycles", 0, "bound on simulated cycles (0 = trace horizon)")
	runCmd.Flags().String("dut-path", "", "scope path of the DUT inside the trace")
	runCmd.Flags().String("in-valid", "", "signal marking cycle 0")
	runCmd.Flags().String("clock", "", "clock signal sampled in the trace")
	runCmd.Flags().String("out", "", "write the attribute trace as VCD to this file")
	runCmd.Flags().String("report", "", "write the verdict report to this file")
}

func runVerification(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadRunConfig(cmd)
	if err != nil {
		exitCode = 2
		logger.Error().Err(err).Msg("configuration error")
		return err
	}

	netlistPath, _ := cmd.Flags().GetString("netlist")
	tracePath, _ := cmd.Flags().GetString("trace")
	outPath, _ := cmd.Flags().GetString("out")
	reportPath, _ := cmd.Flags().GetString("report")
	if netlistPath == "" || tracePath == "" {
		exitCode = 2
		return fmt.Errorf("--netlist and --trace are required")
	}

	logger.Info().Str("netlist", netlistPath).Str("top", cfg.TopModule).
		Int("shares", cfg.Shares).Msg("loading design")

	nl, err := loadNetlist(netlistPath)
	if err != nil {
		exitCode = 2
		logger.Error().Err(err).Msg("netlist error")
		return err
	}

	gadgets, err := gadget.FromNetlist(nl, cfg.Shares)
	if err != nil {
		exitCode = 2
		logger.Error().Err(err).Msg("annotation error")
		return err
	}
	if err := circuit.Elaborate(nl, cfg.TopModule, gadgets); err != nil {
		exitCode = 2
		logger.Error().Err(err).Msg("elaboration error")
		return err
	}

	logger.Info().Str("trace", tracePath).Str("clock", cfg.Clock).Msg("loading input trace")
	traceFile, err := os.Open(tracePath)
	if err != nil {
		exitCode = 2
		return err
	}
	defer traceFile.Close()
	in, err := trace.ReadVCD(traceFile, cfg.Clock)
	if err != nil {
		exitCode = 2
		logger.Error().Err(err).Msg("trace error")
		return err
	}

	builder := core.NewBuilder().
		WithNetlist(nl).
		WithGadgets(gadgets).
		WithInputTrace(in).
		WithInValid(cfg.InValid).
		WithMaxCycles(cfg.MaxCycles)

	var vcdOut *trace.VCDWriter
	if outPath != "" {
		outFile, err := os.Create(outPath)
		if err != nil {
			exitCode = 2
			return err
		}
		defer outFile.Close()
		vcdOut = trace.NewVCDWriter(outFile, cfg.Shares)
		builder = builder.WithTraceSink(vcdOut)
	}

	dutPath := cfg.DUTPath
	if dutPath == "" {
		dutPath = cfg.TopModule
	}
	simulation, err := builder.Build(dutPath)
	if err != nil {
		exitCode = 2
		logger.Error().Err(err).Msg("build error")
		return err
	}

	engine := sim.NewSerialEngine()
	driver := api.DriverBuilder{}.
		WithEngine(engine).
		WithFreq(1 * sim.GHz).
		WithSimulation(simulation).
		WithDesign(cfg.TopModule).
		WithShares(cfg.Shares).
		Build("Driver")

	start := time.Now()
	if err := driver.Run(); err != nil {
		exitCode = 2
		logger.Error().Err(err).Msg("simulation aborted")
		return err
	}
	if vcdOut != nil {
		if err := vcdOut.Close(); err != nil {
			logger.Warn().Err(err).Msg("flushing attribute trace")
		}
	}

	report := driver.Report()
	logger.Info().
		Int64("cycles", report.Cycles).
		Int("violations", len(report.Violations)).
		Dur("elapsed", time.Since(start)).
		Msg("simulation finished")

	report.WriteReport(os.Stdout)
	if reportPath != "" {
		if err := report.SaveToFile(reportPath); err != nil {
			logger.Warn().Err(err).Msg("writing report file")
		}
	}

	if !report.Secure() {
		exitCode = 1
	}
	return nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func loadRunConfig(cmd *cobra.Command) (*config.SimConfig, error) {
	cfg := config.DefaultConfig()
	if cfgFile != "" {
		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if _, err := os.Stat("masksim.yaml"); err == nil {
		loaded, err := config.LoadConfig("masksim.yaml")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v, _ := cmd.Flags().GetInt("shares"); v != 0 {
		cfg.Shares = v
	}
	if v, _ := cmd.Flags().GetInt64("max-cycles"); v != 0 {
		cfg.MaxCycles = v
	}
	if v, _ := cmd.Flags().GetString("top"); v != "" {
		cfg.TopModule = v
	}
	if v, _ := cmd.Flags().GetString("dut-path"); v != "" {
		cfg.DUTPath = v
	}
	if v, _ := cmd.Flags().GetString("in-valid"); v != "" {
		cfg.InValid = v
	}
	if v, _ := cmd.Flags().GetString("clock"); v != "" {
		cfg.Clock = v
	}
	return cfg, cfg.Validate()
}

func loadNetlist(path string) (*circuit.Netlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return yosys.Load(f)
}
