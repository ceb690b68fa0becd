package harness

import "fmt"

// ExpectationError reports one expectation that did not hold after a
// scenario's steps completed.
type ExpectationError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("expectation failed: %s\n  Expected: %s\n  Actual: %s",
		e.Field, e.Expected, e.Actual)
}
