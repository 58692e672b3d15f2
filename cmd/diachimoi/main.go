// -----------------------------------------------------------------------
// diachimoi - converts old Vietnamese administrative-division names to
// their current names by driving the public lookup site
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/tuanvm/diachimoi/internal/browser"
	"github.com/tuanvm/diachimoi/internal/common"
	"github.com/tuanvm/diachimoi/internal/converter"
	"github.com/tuanvm/diachimoi/internal/pipeline"
)

var (
	configPath   = flag.String("config", "", "Configuration file path")
	configPathC  = flag.String("c", "", "Configuration file path (shorthand)")
	inputPath    = flag.String("input", "", "Input JSON file (overrides config)")
	outputPath   = flag.String("output", "", "Output JSON file (overrides config)")
	checkpoint   = flag.String("checkpoint", "", "Checkpoint JSON file (overrides config)")
	mode         = flag.String("mode", "", "Run profile: speed or debug (default: balanced)")
	resume       = flag.Bool("resume", false, "Resume from the checkpoint cursor")
	startFrom    = flag.String("start-from", "", "Explicit resume cursor (pref_old_id); wins over -resume")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("diachimoi version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence: load config, apply profile + flag overrides,
	// initialize logger, print banner
	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = *configPathC
	}
	if cfgFile == "" {
		if _, err := os.Stat("diachimoi.toml"); err == nil {
			cfgFile = "diachimoi.toml"
		}
	}

	config, err := common.LoadFromFile(cfgFile)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	if err := common.ApplyMode(config, *mode); err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Invalid run mode")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *inputPath, *outputPath, *checkpoint)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	// Validate the explicit cursor before any session is opened
	startCursor := 0
	if *startFrom != "" {
		startCursor, err = strconv.Atoi(*startFrom)
		if err != nil || startCursor <= 0 {
			logger.Fatal().
				Str("start_from", *startFrom).
				Msg("Invalid cursor: -start-from must be a positive integer")
			os.Exit(1)
		}
	}

	logger.Info().
		Str("input", config.Files.Input).
		Str("output", config.Files.Output).
		Str("checkpoint", config.Files.Checkpoint).
		Str("mode", *mode).
		Bool("resume", *resume).
		Int("start_from", startCursor).
		Msg("Starting conversion run")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := browser.NewSession(ctx, browser.Options{
		Headless:       config.Browser.Headless,
		BlockResources: config.Browser.BlockResources,
		NoSandbox:      config.Browser.NoSandbox,
		DisableGPU:     config.Browser.DisableGPU,
		UserAgent:      config.Browser.UserAgent,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start browser session")
		os.Exit(1)
	}

	workflow := converter.NewWorkflow(session, config, logger)
	retry := converter.NewRetryPolicy(config.Retry, logger)
	store := pipeline.NewProgressStore(config.Files.Checkpoint, logger)

	driver := pipeline.NewDriver(pipeline.Options{
		InputPath:           config.Files.Input,
		OutputPath:          config.Files.Output,
		Resume:              *resume,
		StartFrom:           startCursor,
		CheckpointEvery:     config.Pipeline.CheckpointEvery,
		SessionRefreshEvery: config.Pipeline.SessionRefreshEvery,
		Pace:                config.Timeouts.PaceDuration(),
	}, store, retry, workflow, session, logger)

	summary, err := driver.Run(ctx)
	if err != nil {
		// Poisoned records never reach this path; only run-level failures do
		logger.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}

	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("poisoned", summary.Poisoned).
		Str("output", summary.OutputPath).
		Msg("Done")
}
