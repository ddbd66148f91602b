// Command reciperunner drives recipe execution and the simulation-based
// test harness described by SPEC_FULL.md: `run` executes a recipe for
// real, `test run`/`test train` replay it against canned step fixtures and
// reconcile expectation files, and `fetch` pulls a recipe bundle from a
// remote URL under an exclusive file lock.
//
// Grounded on the teacher's cli/main.go cobra root-command shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/google/shlex"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/cobra"

	"github.com/reciperunner/reciperunner/internal/config"
	"github.com/reciperunner/reciperunner/internal/coverage"
	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/engine"
	"github.com/reciperunner/reciperunner/internal/recipedeps"
	"github.com/reciperunner/reciperunner/internal/recipes"
	"github.com/reciperunner/reciperunner/internal/reporter"
	"github.com/reciperunner/reciperunner/internal/rlog"
	"github.com/reciperunner/reciperunner/internal/sched"
	"github.com/reciperunner/reciperunner/internal/steprunner"
	"github.com/reciperunner/reciperunner/internal/suggest"
	"github.com/reciperunner/reciperunner/internal/testdriver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		verbose bool
		cfgPath string
	)

	root := &cobra.Command{
		Use:           "reciperunner",
		Short:         "Run and test scripted build recipes",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&cfgPath, "config", config.FileName, "path to .reciperunner.yaml")

	reg := recipedeps.NewRegistry()
	recipes.Register(reg)

	root.AddCommand(newRunCmd(&verbose, &cfgPath, reg))
	root.AddCommand(newTestCmd(&verbose, &cfgPath, reg))
	root.AddCommand(newFetchCmd(&cfgPath))

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ec exitCodeError
		if errors.As(err, &ec) {
			return int(ec)
		}
		return 2
	}
	return 0
}

func newRunCmd(verbose *bool, cfgPath *string, reg *recipedeps.Registry) *cobra.Command {
	var propsArg, schemaPath string

	cmd := &cobra.Command{
		Use:   "run <recipe> [-- properties...]",
		Short: "Execute a recipe as real subprocesses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rlog.New(os.Stderr, *verbose)
			name := args[0]

			props, err := parseProperties(propsArg)
			if err != nil {
				return fmt.Errorf("parse --properties: %w", err)
			}
			for _, tok := range args[1:] {
				if i := strings.IndexByte(tok, '='); i >= 0 {
					if props == nil {
						props = map[string]string{}
					}
					props[tok[:i]] = tok[i+1:]
				}
			}
			log.Debug().Interface("properties", props).Msg("parsed recipe properties")

			if schemaPath != "" {
				doc := make(map[string]interface{}, len(props))
				for k, v := range props {
					doc[k] = v
				}
				if err := validatePropertySchema(schemaPath, doc); err != nil {
					return fmt.Errorf("properties failed schema validation: %w", err)
				}
			}

			rec, ok := reg.Recipe(name)
			if !ok {
				// spec.md §8 S1: an unknown recipe is a user failure (exit
				// 1), not an engine fault, with a fuzzy "did you mean"
				// hint the way the teacher's CLI suggests unknown
				// commands.
				msg := fmt.Sprintf("unknown recipe %q", name)
				if hints := suggest.Best(name, reg.RecipeNames(), 3); len(hints) > 0 {
					msg += fmt.Sprintf(" (did you mean: %s?)", strings.Join(hints, ", "))
				}
				fmt.Fprintln(os.Stderr, msg)
				return exitErr(1)
			}

			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			return exitErr(runRecipe(cmd.Context(), log, cfg, rec, name, props))
		},
	}
	cmd.Flags().StringVar(&propsArg, "properties", "", "shlex-tokenized key=value recipe properties")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "JSON schema file to validate --properties against")
	return cmd
}

// runRecipe drives rec through a real steprunner backed by a cooperative
// scheduler, returning spec.md §6's exit-code contract: 0 success, 1 a
// step/recipe failure, 2 an engine fault (an invariant violation or other
// panic inside engine/steprunner code, recovered here rather than crashing
// the process — spec.md §8 S5 "Recipe engine bug").
func runRecipe(ctx context.Context, log zerolog.Logger, cfg config.Config, rec recipedeps.Recipe, name string, props map[string]string) (exitCode int) {
	sch := sched.New(ctx, cfg.Workers)
	defer sch.Close()

	runner := steprunner.New(sch, log)
	eng := engine.New(runner, ctxstack.Frame{})

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("recipe", name).Msg("Recipe engine bug")
			exitCode = 2
		}
	}()

	if err := rec.Run(ctx, eng, props); err != nil {
		log.Error().Err(err).Str("recipe", name).Msg("recipe run failed")
		return 1
	}
	return 0
}

// parseProperties tokenizes propsArg the way a shell would (so quoted
// values with spaces survive) and splits each token on the first '='.
func parseProperties(propsArg string) (map[string]string, error) {
	if propsArg == "" {
		return nil, nil
	}
	tokens, err := shlex.Split(propsArg)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, tok := range tokens {
		for i := 0; i < len(tok); i++ {
			if tok[i] == '=' {
				out[tok[:i]] = tok[i+1:]
				break
			}
		}
	}
	return out, nil
}

// validatePropertySchema checks decoded JSON properties against a recipe
// module's declared property schema, per SPEC_FULL.md's property-validation
// addition.
func validatePropertySchema(schemaPath string, properties map[string]interface{}) error {
	compiled, err := jsonschema.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("compile property schema %s: %w", schemaPath, err)
	}
	return compiled.Validate(properties)
}

func newTestCmd(verbose *bool, cfgPath *string, reg *recipedeps.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run or train recipe simulation tests",
	}
	cmd.AddCommand(newTestRunCmd(verbose, cfgPath, reg, false))
	cmd.AddCommand(newTestRunCmd(verbose, cfgPath, reg, true))
	return cmd
}

func newTestRunCmd(verbose *bool, cfgPath *string, reg *recipedeps.Registry, train bool) *cobra.Command {
	var filter string
	var watch bool

	use, short := "run", "Run simulation tests and report mismatches"
	if train {
		use, short = "train", "Run simulation tests, writing new expectation files"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rlog.New(os.Stderr, *verbose)
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if filter == "" {
				filter = cfg.DefaultFilter
			}

			opts := testdriver.Options{
				Workers:    cfg.Workers,
				ExpectDir:  cfg.ExpectationDir,
				Train:      train,
				FilterGlob: filter,
			}

			runOnce := func() int {
				return runTestBatch(cmd.Context(), log, opts, cfg, reg, *verbose)
			}

			if !watch {
				return exitErr(runOnce())
			}
			return watchAndRun(cfg.ExpectationDir, runOnce)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "glob filter over test names")
	if !train {
		cmd.Flags().BoolVar(&watch, "watch", false, "re-run on expectation-directory changes (fsnotify)")
	}
	return cmd
}

func runTestBatch(ctx context.Context, log zerolog.Logger, opts testdriver.Options, cfg config.Config, reg *recipedeps.Registry, verbose bool) int {
	log.Debug().Int("workers", opts.Workers).Str("filter", opts.FilterGlob).Msg("starting test batch")

	descriptions, modules, err := genTestDescriptions(reg, opts.FilterGlob)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 2
	}
	log.Debug().Int("tests", len(descriptions)).Msg("generated tests from recipe gen_tests()")

	start := time.Now()
	outcomes, shard, err := testdriver.Run(ctx, opts, descriptions)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 2
	}

	rep := reporter.New(os.Stdout, verbose)
	for _, o := range outcomes {
		rep.Record(o)
	}

	gateActive := cfg.CoverageGate != nil && *cfg.CoverageGate
	uncovered := coverage.Check(shard, modules, opts.FilterGlob != "" || !gateActive)
	return rep.Finish(time.Since(start), uncovered)
}

// genTestDescriptions walks every registered recipe matching filterGlob's
// recipe-name segment (the text before its first '.', per spec.md §4.I
// item 1) and invokes its gen_tests(), also collecting each matched
// recipe's declared coverage modules for the gate.
func genTestDescriptions(reg *recipedeps.Registry, filterGlob string) ([]testdriver.TestDescription, []coverage.Module, error) {
	recipeGlob := filterGlob
	if i := strings.IndexByte(filterGlob, '.'); i >= 0 {
		recipeGlob = filterGlob[:i]
	}
	recipeFilter, err := testdriver.CompileFilter(recipeGlob)
	if err != nil {
		return nil, nil, fmt.Errorf("compile recipe filter: %w", err)
	}

	var descriptions []testdriver.TestDescription
	var modules []coverage.Module
	for _, name := range reg.RecipeNames() {
		if recipeFilter != nil && !recipeFilter.MatchString(name) {
			continue
		}
		rec, _ := reg.Recipe(name)
		descriptions = append(descriptions, rec.GenTests()...)
		modules = append(modules, rec.CoverageModules()...)
	}
	return descriptions, modules, nil
}

// watchAndRun runs runOnce immediately, then again every time a file under
// expectDir changes, until the user interrupts with Ctrl-C. It never
// returns a non-nil error for a failing test batch — watch mode exists to
// iterate, not to gate a CI exit code.
func watchAndRun(expectDir string, runOnce func() int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(expectDir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(expectDir); err != nil {
		return fmt.Errorf("watch %s: %w", expectDir, err)
	}

	runOnce()
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
				runOnce()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, "watch error:", werr)
		}
	}
}

// exitCodeError carries a subcommand's exit code up to run.
type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("test run failed with exit code %d", int(e))
}

func exitErr(code int) error {
	if code == 0 {
		return nil
	}
	return exitCodeError(code)
}

func newFetchCmd(cfgPath *string) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download a recipe bundle under an exclusive file lock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			url := cfg.FetchURL
			if len(args) > 0 {
				url = args[0]
			}
			if url == "" {
				return fmt.Errorf("no fetch URL given and none configured in %s", *cfgPath)
			}
			return fetch(cmd.Context(), url, dest)
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "recipe_bundle.tar.gz", "destination path")
	return cmd
}

func fetch(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(dest+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("acquire fetch lock: %w", err)
	}
	defer unlockFile(f)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	fmt.Printf("fetched %s (%s) -> %s\n", url, humanize.Bytes(uint64(n)), dest)
	return nil
}
