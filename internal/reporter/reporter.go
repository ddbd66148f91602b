// Package reporter implements the Reporter (spec.md §4.J): turns a batch of
// testdriver.Outcomes into terminal output, in either a one-glyph-per-test
// compact mode or a verbose per-test mode, followed by a final summary
// (coverage gaps, unused expectations, exit code, humanized duration).
//
// Grounded on original_source/recipe_engine/internal/commands/test/report.py
// (the FIELD_TO_DISPLAY precedence table and glyph-per-status mapping) and
// on the teacher's cli package for lipgloss-styled terminal output.
package reporter

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/reciperunner/reciperunner/internal/coverage"
	"github.com/reciperunner/reciperunner/internal/testdriver"
)

// glyph is the one-character compact-mode marker per outcome status,
// mirroring report.py's FIELD_TO_DISPLAY table.
var glyph = map[string]string{
	"internal_error": "E",
	"bad_test":       "B",
	"diff":           "F",
	"removed":        "R",
	"written":        "W",
	"success":        ".",
}

var glyphStyle = map[string]lipgloss.Style{
	"internal_error": lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	"bad_test":       lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
	"diff":           lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	"removed":        lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	"written":        lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	"success":        lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
}

// Reporter accumulates output across a test run and renders the final
// report on Finish.
type Reporter struct {
	out     io.Writer
	verbose bool

	count    int
	failures []testdriver.Outcome
}

// New creates a Reporter writing to out.
func New(out io.Writer, verbose bool) *Reporter {
	return &Reporter{out: out, verbose: verbose}
}

// Record renders one outcome as it completes: a single styled glyph in
// compact mode, or a full "name ... status" line in verbose mode. Anything
// that isn't a clean success is additionally buffered for the detail
// section of Finish's final report.
func (r *Reporter) Record(o testdriver.Outcome) {
	r.count++
	status := o.Status()

	if r.verbose {
		fmt.Fprintf(r.out, "%s ... %s\n", o.Name, styledStatus(status))
	} else {
		fmt.Fprint(r.out, styledGlyph(status))
		if r.count%80 == 0 {
			fmt.Fprintln(r.out)
		}
	}

	if status != "success" {
		r.failures = append(r.failures, o)
	}
}

func styledGlyph(status string) string {
	g := glyph[status]
	if g == "" {
		g = "?"
	}
	if style, ok := glyphStyle[status]; ok {
		return style.Render(g)
	}
	return g
}

func styledStatus(status string) string {
	if style, ok := glyphStyle[status]; ok {
		return style.Render(status)
	}
	return status
}

// Finish prints the detail section (one block per non-success outcome, in
// FIELD_TO_DISPLAY precedence order), the coverage summary, and the exit
// code implied by the run, per spec.md §6/§7's exit-code mapping:
//
//	0 — every test succeeded and coverage (if gated) was complete
//	1 — at least one test did not succeed (bad test, expectation diff, or a
//	    written/removed expectation) or coverage was incomplete
//	2 — an internal error prevented the run from completing
func (r *Reporter) Finish(elapsed time.Duration, uncovered coverage.UncoveredReport) int {
	if !r.verbose && r.count%80 != 0 {
		fmt.Fprintln(r.out)
	}

	exitCode := 0
	if len(r.failures) > 0 {
		fmt.Fprintln(r.out, "\nFailures:")
		for _, o := range precedenceSorted(r.failures) {
			r.printDetail(o)
			if o.Status() == "internal_error" {
				exitCode = 2
			} else if exitCode < 1 {
				exitCode = 1
			}
		}
	}

	if !uncovered.Empty() {
		fmt.Fprintln(r.out, "\nUncovered lines:")
		for path, lines := range uncovered.Modules {
			fmt.Fprintf(r.out, "  %s: %v\n", path, lines)
		}
		if exitCode < 1 {
			exitCode = 1
		}
	}

	fmt.Fprintf(r.out, "\n%d tests, %d failures, coverage %s, in %s\n",
		r.count, len(r.failures), coverageWord(uncovered), elapsed.Round(time.Millisecond))

	return exitCode
}

func coverageWord(u coverage.UncoveredReport) string {
	if u.Empty() {
		return "complete"
	}
	return "incomplete"
}

func (r *Reporter) printDetail(o testdriver.Outcome) {
	fmt.Fprintf(r.out, "  %s: %s\n", o.Name, styledStatus(o.Status()))
	switch {
	case o.InternalError != nil:
		fmt.Fprintf(r.out, "    %v\n", o.InternalError)
	case o.BadTest != nil:
		fmt.Fprintf(r.out, "    %v\n", o.BadTest)
	case o.Diff != "":
		fmt.Fprintf(r.out, "    %s\n", o.Diff)
	}
}

// precedencePriority mirrors FIELD_TO_DISPLAY: internal_error > bad_test >
// crash_mismatch > check > diff > removed > written > success. This engine
// has no separate "crash_mismatch"/"check" phase, so those two ranks are
// absorbed into bad_test/diff respectively.
var precedencePriority = map[string]int{
	"internal_error": 0,
	"bad_test":       1,
	"diff":           2,
	"removed":        3,
	"written":        4,
	"success":        5,
}

func precedenceSorted(outcomes []testdriver.Outcome) []testdriver.Outcome {
	sorted := append([]testdriver.Outcome(nil), outcomes...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			if precedencePriority[sorted[j-1].Status()] > precedencePriority[sorted[j].Status()] {
				sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
			} else {
				break
			}
		}
	}
	return sorted
}
