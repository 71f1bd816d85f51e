// Command shapetrace runs the Requirement Integrity Control Plane over
// materialized pipeline stage output: it traces every registered shape
// through the six stages, gates downstream execution, applies the tiered
// survival laws, and writes the decision record stage runners must honor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"shapetrace/internal/history"
	"shapetrace/internal/logging"
	"shapetrace/internal/promotion"
	"shapetrace/internal/registry"
	"shapetrace/internal/report"
	"shapetrace/internal/tracer"
	"shapetrace/internal/types"
)

var (
	// Global flags
	verbose      bool
	registryPath string
	workspace    string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "shapetrace",
	Short: "shapetrace - Requirement Integrity Control Plane",
	Long: `shapetrace verifies that structured requirements ("shapes") declared at
pipeline intake survive, attribute-for-attribute, through every generation
stage. It classifies where and how a shape was lost, computes survival
metrics, and applies tiered policy laws that decide whether downstream
execution proceeds, forks into a remediation track, or is blocked.

The control plane only observes presence and absence of declared
attributes; it never generates or repairs content.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if workspace != "" {
			if err := logging.Initialize(workspace); err != nil {
				logger.Warn("category logging disabled", zap.Error(err))
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// traceCmd runs the full control plane over a directory of stage outputs.
var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Trace all shapes through the pipeline and emit a decision record",
	Long: `Loads the six stage outputs from --stages (one file per stage, named
intake.*, outline.*, screens.*, blocks.*, wire.*, pixel.*; missing files
are traced as absent output), runs tracing, gating, and enforcement, and
writes the decision record as JSON.`,
	RunE: runTrace,
}

var (
	stagesDir    string
	outPath      string
	studyHandoff string
	noHistory    bool
	historyCap   int
)

// validateCmd checks a registry definition and nothing else.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a shape registry definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		fmt.Printf("registry valid: %d shapes\n", len(reg.All()))
		return nil
	},
}

// historyCmd lists recent runs from the bounded history store.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.NewStore(historyDir(), historyCap)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.RecentRuns(limit)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		for _, r := range runs {
			fmt.Printf("%s  %s  gate=%s action=%s rsr=%.3f\n",
				r.Timestamp.Format(time.RFC3339), r.RunID, r.GateVerdict, r.OverallAction, r.GlobalRSR)
		}
		return nil
	},
}

// tracksCmd reports promotion eligibility for remediation track outcomes.
var tracksCmd = &cobra.Command{
	Use:   "tracks [outcomes.json]",
	Short: "Evaluate promotion eligibility for remediation tracks",
	Long: `Reads track outcomes (state plus per-tier compliance of each track's own
re-trace, as reported by the track runner) and prints promotion
eligibility. The controller only reports; it never advances track state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read outcomes: %w", err)
		}
		var outcomes []promotion.TrackOutcome
		if err := json.Unmarshal(data, &outcomes); err != nil {
			return fmt.Errorf("failed to parse outcomes: %w", err)
		}

		for _, el := range promotion.EvaluateAllTracks(outcomes) {
			if el.Eligible {
				fmt.Printf("%s  ELIGIBLE\n", el.RunID)
				continue
			}
			fmt.Printf("%s  blocked: %v\n", el.RunID, el.Blockers)
		}
		return nil
	},
}

func runTrace(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		// Registry validation failure is the one fatal abort: nothing is
		// traced and no record is produced.
		return err
	}
	logging.Boot("registry loaded: %d shapes", len(reg.All()))

	raw, err := loadStageFiles(stagesDir)
	if err != nil {
		return err
	}

	opts := report.Options{}
	if studyHandoff != "" {
		h := types.Handoff(studyHandoff)
		if _, _, ok := types.HandoffStages(h); !ok {
			return fmt.Errorf("unknown handoff %q", studyHandoff)
		}
		opts.StudyHandoff = h
	}

	record, err := report.Execute(context.Background(), reg, tracer.NewStageOutputs(raw), opts)
	if err != nil {
		return err
	}

	data, err := record.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize decision record: %w", err)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write decision record: %w", err)
		}
	} else {
		fmt.Println(string(data))
	}

	// Bookkeeping happens after the verdict is final and never affects it.
	if !noHistory {
		persistRun(record)
	}

	printSummary(record)
	return nil
}

// persistRun records the run and any blocked executions, best effort.
func persistRun(record *report.DecisionRecord) {
	store, err := history.NewStore(historyDir(), historyCap)
	if err != nil {
		logger.Warn("history store unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	store.RecordRunBestEffort(record)
	if record.ExecutionDecision.WireBlocked {
		store.AppendBlockedEventBestEffort(record.RunID, "wire_execution_blocked", record.ExecutionDecision.Reason)
	}
	if record.ExecutionDecision.PixelBlocked {
		store.AppendBlockedEventBestEffort(record.RunID, "pixel_execution_blocked", record.ExecutionDecision.Reason)
	}
}

func loadRegistry() (*registry.Registry, error) {
	if registryPath == "" {
		return registry.Default(), nil
	}
	return registry.LoadFile(registryPath)
}

// loadStageFiles finds one file per stage in dir, named "<stage>.<ext>".
// Missing stages are simply omitted; the tracer records them as absent.
func loadStageFiles(dir string) (map[types.Stage][]byte, error) {
	if dir == "" {
		return nil, fmt.Errorf("--stages directory is required")
	}
	out := make(map[types.Stage][]byte)
	for _, stage := range types.Stages {
		matches, err := filepath.Glob(filepath.Join(dir, string(stage)+".*"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			continue
		}
		data, err := os.ReadFile(matches[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", matches[0], err)
		}
		out[stage] = data
	}
	return out, nil
}

func historyDir() string {
	base := workspace
	if base == "" {
		base = "."
	}
	return filepath.Join(base, ".shapetrace")
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "shape registry YAML (default: compiled-in catalogue)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory for logs and history")

	traceCmd.Flags().StringVar(&stagesDir, "stages", "", "directory holding one output file per stage")
	traceCmd.Flags().StringVar(&outPath, "out", "", "decision record output path (default: stdout)")
	traceCmd.Flags().StringVar(&studyHandoff, "study-handoff", "", "handoff for comparative analysis (default: blocks->wire)")
	traceCmd.Flags().BoolVar(&noHistory, "no-history", false, "skip run history persistence")
	traceCmd.Flags().IntVar(&historyCap, "history-cap", history.DefaultCap, "maximum runs kept in history")

	historyCmd.Flags().Int("limit", 20, "maximum runs to list")

	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(tracksCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
