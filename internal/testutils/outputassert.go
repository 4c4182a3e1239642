//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence matches any value of an expected JSON key, as long as the key exists.
const Presence = "<<PRESENCE>>"

// TestingT is the subset of testing.T the asserter reports through.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

// OutputOptions tunes how command output is normalized before comparison.
type OutputOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	// IgnoreExtraKeys drops actual JSON keys the expected document does not name.
	IgnoreExtraKeys bool `default:"true"`
	Colors          bool `default:"false"`
}

type OutputOption func(*OutputOptions)

func WithIgnoreEmptyLines(v bool) OutputOption { return func(o *OutputOptions) { o.IgnoreEmptyLines = v } }
func WithIgnoreExtraKeys(v bool) OutputOption { return func(o *OutputOptions) { o.IgnoreExtraKeys = v } }
func WithColors(v bool) OutputOption { return func(o *OutputOptions) { o.Colors = v } }

// OutputAsserter compares CLI output against golden text or JSON and reports a
// readable diff on mismatch.
type OutputAsserter struct {
	t    TestingT
	opts OutputOptions
}

func NewOutputAsserter(t TestingT, opts ...OutputOption) *OutputAsserter {
	a := &OutputAsserter{t: t}
	defaults.SetDefaults(&a.opts)
	for _, opt := range opts {
		opt(&a.opts)
	}
	return a
}

// Options returns the effective options.
func (a *OutputAsserter) Options() OutputOptions { return a.opts }

// Text fails the test when actual differs from expected after normalization.
func (a *OutputAsserter) Text(actual, expected string) bool {
	a.t.Helper()
	if d := a.TextDiff(actual, expected); d != "" {
		a.t.Errorf("output mismatch:\n%s", d)
		return false
	}
	return true
}

// JSON fails the test when the actual document does not match expected.
func (a *OutputAsserter) JSON(actual, expected string) bool {
	a.t.Helper()
	if d := a.JSONDiff(actual, expected); d != "" {
		a.t.Errorf("JSON output mismatch:\n%s", d)
		return false
	}
	return true
}

// TextDiff returns a unified diff, or "" when both texts match.
func (a *OutputAsserter) TextDiff(actual, expected string) string {
	actual, expected = a.normalize(actual), a.normalize(expected)
	if actual == expected {
		return ""
	}
	edits := myers.ComputeEdits("", expected, actual)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", expected, edits))
	return a.colorize(unified)
}

// JSONDiff returns an ascii diff, or "" when the documents match.
func (a *OutputAsserter) JSONDiff(actual, expected string) string {
	var want, got any
	if err := json.Unmarshal([]byte(expected), &want); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := want.([]any); ok {
		want = map[string]any{"array": want}
		got = map[string]any{"array": got}
	}

	fillPresence(want, got)
	if a.opts.IgnoreExtraKeys {
		pruneKeys(got, want)
	}

	wantBytes, _ := json.Marshal(want)
	gotBytes, _ := json.Marshal(got)
	diff, err := gojsondiff.New().Compare(wantBytes, gotBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(want, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       a.opts.Colors,
	})
	out, _ := f.Format(diff)
	return out
}

func (a *OutputAsserter) normalize(text string) string {
	if a.opts.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if a.opts.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t")
		}
		if a.opts.IgnoreEmptyLines && line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (a *OutputAsserter) colorize(diff string) string {
	if !a.opts.Colors {
		return diff
	}

	red, green, cyan := color.New(color.FgRed), color.New(color.FgGreen), color.New(color.FgCyan)
	for _, c := range []*color.Color{red, green, cyan} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

// fillPresence replaces Presence placeholders with the actual value so that
// only the key's existence is compared.
func fillPresence(want, got any) {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return
		}
		for k, v := range w {
			if v == Presence {
				if actual, ok := g[k]; ok {
					w[k] = actual
				}
				continue
			}
			fillPresence(v, g[k])
		}
	case []any:
		g, ok := got.([]any)
		if !ok {
			return
		}
		for i := range w {
			if i < len(g) {
				fillPresence(w[i], g[i])
			}
		}
	}
}

func pruneKeys(got, want any) {
	switch g := got.(type) {
	case map[string]any:
		w, ok := want.(map[string]any)
		if !ok {
			return
		}
		for k := range g {
			if _, keep := w[k]; !keep {
				delete(g, k)
				continue
			}
			pruneKeys(g[k], w[k])
		}
	case []any:
		w, ok := want.([]any)
		if !ok {
			return
		}
		for i := range g {
			if i < len(w) {
				pruneKeys(g[i], w[i])
			}
		}
	}
}
