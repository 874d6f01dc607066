package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/specloom/loom/internal/config"
	"github.com/specloom/loom/internal/history"
	"github.com/specloom/loom/internal/manifest"
	"github.com/specloom/loom/internal/pipeline"
	"github.com/specloom/loom/internal/telemetry"
	"github.com/specloom/loom/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Deterministic specification-to-artifact pipeline",
	Long: "Loom turns declarative specifications into generated artifacts through a fixed\n" +
		"validate, extract, render, canonicalize sequence, and proves each run with a\n" +
		"content-addressed receipt.",
}

// Execute runs the root command and exits with the pipeline's exit-code
// contract: 0 success, 1 validation, 2 extraction, 3 emission, 4
// canonicalization, 5 I/O, 6 timeout, 7 lock contention.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(pipeline.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .loom.yaml)")
	rootCmd.PersistentFlags().StringP("workdir", "C", "", "workspace root (default current directory)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".loom")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("LOOM")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// buildPipeline assembles a pipeline for the workspace named by config
// and flags, wiring in the telemetry stream and run-history store. The
// returned closer releases both.
func buildPipeline(cmd *cobra.Command) (*pipeline.Pipeline, func(), error) {
	cfg := config.Load()
	if wd, _ := cmd.Flags().GetString("workdir"); wd != "" {
		cfg.WorkDir = wd
	}
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		cfg.Verbose = true
	}

	store, err := workspace.NewStore(cfg.WorkDir)
	if err != nil {
		return nil, nil, err
	}
	m, err := manifest.Load(store.Resolve(cfg.Manifest))
	if err != nil {
		return nil, nil, err
	}

	p := pipeline.New(store, m, cfg)

	events, err := telemetry.NewEmitter(store.EventsPath())
	if err != nil {
		return nil, nil, err
	}
	hist, err := history.Open(cmd.Context(), store.HistoryPath())
	if err != nil {
		events.Close()
		return nil, nil, err
	}
	p.Events = events
	p.History = hist

	closer := func() {
		events.Close()
		hist.Close()
	}
	return p, closer, nil
}

// checkManifest runs structural validation and filesystem preflight,
// returning a single error summarizing every problem found.
func checkManifest(p *pipeline.Pipeline) error {
	res := manifest.Validate(p.Manifest, p.Canon)
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if res.Valid() {
		res = manifest.Preflight(p.Store.Root(), p.Manifest)
	}
	if res.Valid() {
		return nil
	}
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "manifest: %s\n", e)
	}
	return fmt.Errorf("manifest has %d problem(s)", len(res.Errors))
}
