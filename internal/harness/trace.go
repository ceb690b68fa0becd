package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/inklet/inklet/internal/testutil"
)

// renderTrace turns the transport's call log into one deterministic text
// line per call. Timestamps are offsets from the scenario epoch on the
// fake clock, so a human can recompute every line from the scenario file
// alone. Patch bytes are deliberately absent: diff serialization details
// are the codec's business, not the scenario's.
func renderTrace(calls []testutil.Call, epoch time.Time) []string {
	lines := make([]string, 0, len(calls))
	for _, c := range calls {
		lines = append(lines, renderCall(c, epoch))
	}
	return lines
}

func renderCall(c testutil.Call, epoch time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", c.At.Sub(epoch), c.Op, c.DocID)
	if c.Op != "fetch" {
		fmt.Fprintf(&b, " base=v%d", c.Base)
	}

	switch c.Result {
	case "ok":
		fmt.Fprintf(&b, " -> ok v%d %q", c.Version, c.Content)
	case "conflict":
		fmt.Fprintf(&b, " -> conflict v%d", c.Version)
	case "not_found":
		b.WriteString(" -> not_found")
	case "mismatch":
		b.WriteString(" -> mismatch")
	case "error":
		fmt.Fprintf(&b, " -> error: %s", c.Err)
	default:
		// A call still in flight when the trace was read; scenarios that
		// wait for quiescence never produce this.
		b.WriteString(" -> pending")
	}
	return b.String()
}
