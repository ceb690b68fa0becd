package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RenderTranscript serializes a result as the golden-file transcript: the
// wire trace line by line, then a final-state line.
func (r *Result) RenderTranscript() []byte {
	var b strings.Builder
	for _, line := range r.Trace {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "final: version=%d content=%q status=%s\n",
		r.FinalVersion, r.FinalContent, r.Status)
	return []byte(b.String())
}

// RunWithGolden executes a scenario, fails the test on any step or
// expectation error, and compares the transcript against the golden file
// at testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s failed to run: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, result.RenderTranscript())

	return result
}
