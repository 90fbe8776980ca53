package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/config"
	"github.com/samijaber1/aegis-rollout/internal/controller"
	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
	"github.com/samijaber1/aegis-rollout/internal/storage/filelog"
	"github.com/samijaber1/aegis-rollout/internal/storage/kafka"
	"github.com/samijaber1/aegis-rollout/internal/storage/memory"
	"github.com/samijaber1/aegis-rollout/internal/storage/postgres"
	"github.com/samijaber1/aegis-rollout/internal/storage/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		os.Exit(runValidate(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "override":
		os.Exit(runOverride(os.Args[2:]))
	case "pause":
		os.Exit(runStateAction("pause", os.Args[2:]))
	case "resume":
		os.Exit(runStateAction("resume", os.Args[2:]))
	case "enable":
		os.Exit(runStateAction("enable", os.Args[2:]))
	case "disable":
		os.Exit(runStateAction("disable", os.Args[2:]))
	case "audit":
		os.Exit(runAudit(os.Args[2:]))
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: aegis-cli <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  validate --dir <path>                     Validate feature YAML files in a directory")
	fmt.Println("  status [--feature <name>]                 Show rollout state")
	fmt.Println("  override --feature <name> --percent <n>   Set a feature to an explicit ladder rung")
	fmt.Println("  pause --feature <name>                    Pause automatic rollout changes")
	fmt.Println("  resume --feature <name>                   Resume automatic rollout changes")
	fmt.Println("  enable --feature <name>                   Turn the feature kill switch on")
	fmt.Println("  disable --feature <name>                  Turn the feature kill switch off")
	fmt.Println("  audit [--feature <name>] [--limit <n>]    Show audit entries, newest first")
	fmt.Println()
	fmt.Println("Store settings come from AEGIS_STORE, AEGIS_SQLITE_PATH and AEGIS_POSTGRES_DSN.")
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	dir := fs.String("dir", "", "directory containing feature YAML files")
	schemaPath := fs.String("schema", "", "path to the feature JSON schema (default: auto-detect)")
	fs.Parse(args)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Error: --dir flag is required")
		fs.Usage()
		return 1
	}

	path := *schemaPath
	if path == "" {
		path = findSchemaFile()
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: could not find schemas/feature_v1.json")
		return 1
	}

	validator, err := feature.NewValidator(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize validator: %v\n", err)
		return 1
	}

	errors := validator.ValidateDirectory(*dir)
	if len(errors) == 0 {
		fmt.Println("✓ All feature files are valid")
		return 0
	}

	errorsByFile := make(map[string][]feature.ValidationError)
	for _, err := range errors {
		errorsByFile[err.File] = append(errorsByFile[err.File], err)
	}

	var files []string
	for file := range errorsByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	fmt.Fprintf(os.Stderr, "✗ Validation failed with %d error(s):\n\n", len(errors))
	for _, file := range files {
		for _, err := range errorsByFile[file] {
			if err.Path != "" {
				fmt.Fprintf(os.Stderr, "%s: %s: %s\n", filepath.Base(err.File), err.Path, err.Message)
			} else {
				fmt.Fprintf(os.Stderr, "%s: %s\n", filepath.Base(err.File), err.Message)
			}
		}
	}

	return 1
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	featureName := fs.String("feature", "", "show a single feature")
	fs.Parse(args)

	store, cleanup, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var states []rollout.State
	if *featureName != "" {
		state, err := store.GetState(ctx, *featureName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		states = []rollout.State{*state}
	} else {
		states, err = store.ListStates(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	if len(states) == 0 {
		fmt.Println("No rollout state recorded yet")
		return 0
	}

	fmt.Printf("%-24s %8s %8s %8s %9s %s\n", "FEATURE", "PERCENT", "ENABLED", "PAUSED", "VERSION", "LAST CHANGE")
	for _, s := range states {
		fmt.Printf("%-24s %7d%% %8v %8v %9d %s\n",
			s.Feature, s.Percent, s.Enabled, s.Paused, s.Version,
			s.LastChangeTime.UTC().Format(time.RFC3339))
	}
	return 0
}

func runOverride(args []string) int {
	fs := flag.NewFlagSet("override", flag.ExitOnError)
	featureName := fs.String("feature", "", "feature to override")
	percent := fs.Int("percent", -1, "target ladder rung")
	reason := fs.String("reason", "", "audit reason")
	ladderSpec := fs.String("ladder", "", "rollout ladder (default: AEGIS_LADDER or 0,10,50,100)")
	fs.Parse(args)

	if *featureName == "" || *percent < 0 {
		fmt.Fprintln(os.Stderr, "Error: --feature and --percent flags are required")
		fs.Usage()
		return 1
	}

	op, cleanup, err := buildOperator(*ladderSpec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := op.Override(ctx, *featureName, *percent, *reason)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("✓ %s set to %d%% (version %d)\n", state.Feature, state.Percent, state.Version)
	return 0
}

func runStateAction(action string, args []string) int {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	featureName := fs.String("feature", "", "feature to act on")
	reason := fs.String("reason", "", "audit reason")
	fs.Parse(args)

	if *featureName == "" {
		fmt.Fprintln(os.Stderr, "Error: --feature flag is required")
		fs.Usage()
		return 1
	}

	op, cleanup, err := buildOperator("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var state *rollout.State
	switch action {
	case "pause":
		state, err = op.Pause(ctx, *featureName, *reason)
	case "resume":
		state, err = op.Resume(ctx, *featureName, *reason)
	case "enable":
		state, err = op.Enable(ctx, *featureName, *reason)
	case "disable":
		state, err = op.Disable(ctx, *featureName, *reason)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("✓ %s: percent=%d%% enabled=%v paused=%v (version %d)\n",
		state.Feature, state.Percent, state.Enabled, state.Paused, state.Version)
	return 0
}

func runAudit(args []string) int {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	featureName := fs.String("feature", "", "filter by feature")
	action := fs.String("action", "", "filter by action")
	actor := fs.String("actor", "", "filter by actor (controller|manual)")
	limit := fs.Int("limit", 20, "maximum entries to show")
	fs.Parse(args)

	store, cleanup, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := store.Query(ctx, storage.AuditFilter{
		Feature: *featureName,
		Action:  *action,
		Actor:   *actor,
		Limit:   *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries match")
		return 0
	}

	for _, e := range entries {
		marker := ""
		if e.DryRun {
			marker = " [dry-run]"
		}
		fmt.Printf("%s  %-24s %-10s %3d%% -> %3d%%  %-10s %s%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.Feature, e.Action,
			e.OldPercent, e.NewPercent, e.Actor, e.Reason, marker)
	}
	return 0
}

// openStore opens the configured state store. The returned cleanup closes it.
func openStore() (storage.Store, func(), error) {
	cfg := config.FromEnv()

	switch cfg.StoreKind {
	case "sqlite":
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		store, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, func() { store.Close() }, nil
	case "memory":
		store := memory.NewStore()
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.StoreKind)
	}
}

// buildOperator wires the operator against the configured store and the
// same audit mirrors the controller uses.
func buildOperator(ladderSpec string) (*controller.Operator, func(), error) {
	cfg := config.FromEnv()
	if ladderSpec != "" {
		cfg.Ladder = ladderSpec
	}

	ladder, err := rollout.ParseLadder(cfg.Ladder)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid ladder %q: %w", cfg.Ladder, err)
	}

	store, cleanup, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	var mirrors []storage.AuditAppender
	closers := []func(){cleanup}

	if cfg.AuditFilePath != "" {
		sink, err := filelog.NewSink(cfg.AuditFilePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open audit file: %w", err)
		}
		mirrors = append(mirrors, sink)
		closers = append(closers, func() { sink.Close() })
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		mirror, err := kafka.NewMirror(kafka.Config{Brokers: brokers, Topic: cfg.KafkaTopic})
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("open kafka mirror: %w", err)
		}
		mirrors = append(mirrors, mirror)
		closers = append(closers, func() {
			if err := mirror.Close(); err != nil {
				log.Printf("Warning: failed to close kafka mirror: %v", err)
			}
		})
	}

	op := controller.NewOperator(store, store, ladder, mirrors...)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return op, closeAll, nil
}

// findSchemaFile looks for the schema file in common locations
func findSchemaFile() string {
	candidates := []string{
		"schemas/feature_v1.json",
		"../schemas/feature_v1.json",
		"../../schemas/feature_v1.json",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
