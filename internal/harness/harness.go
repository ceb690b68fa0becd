package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/inklet/inklet/internal/engine"
	"github.com/inklet/inklet/internal/testutil"
)

// engineTimings converts the scenario's timing overrides to engine form;
// zero fields pick up the engine's defaults.
func (ts TimingSpec) engineTimings() engine.Timings {
	return engine.Timings{
		DebounceDelay:       ts.Debounce.Std(),
		MaxSaveInterval:     ts.MaxInterval.Std(),
		MinSaveInterval:     ts.MinSaveInterval.Std(),
		SaveTimeout:         ts.SaveTimeout.Std(),
		SmallPatchThreshold: ts.SmallPatchThreshold,
		SnapshotRatio:       ts.SnapshotRatio,
	}
}

// scenarioEpoch is the fake clock's start; trace timestamps are offsets
// from it.
var scenarioEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// waitTimeout bounds every wait step and the final expectation poll in
// real time. The fake clock never advances on its own, so anything this
// slow is a deadlock, not a slow machine.
const waitTimeout = 2 * time.Second

// Harness executes one scenario against a real engine wired to a
// scripted transport and a hand-advanced clock. Every run gets a fresh
// in-memory document store, so scenarios are fully isolated.
type Harness struct {
	scenario  *Scenario
	engine    *engine.Engine
	clock     *testutil.FakeClock
	transport *testutil.ScriptedTransport
	log       *slog.Logger
}

// Run executes a scenario and returns its result. The returned error
// covers setup problems only; step failures and unmet expectations land
// in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	tr := testutil.NewScriptedTransport()
	if _, err := tr.Seed(scenario.Document.ID, scenario.Document.Content); err != nil {
		return nil, fmt.Errorf("seed document: %w", err)
	}

	clock := testutil.NewFakeClock(scenarioEpoch)
	tr.SetClock(clock)

	e := engine.New(scenario.Document.ID, tr,
		engine.WithClock(clock),
		engine.WithTokens(testutil.NewNumberedTokens("save", 128)),
		engine.WithTimings(scenario.Timings.engineTimings()),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	e.Seed(scenario.Document.Content, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		e.Run(ctx)
	}()

	h := &Harness{
		scenario:  scenario,
		engine:    e,
		clock:     clock,
		transport: tr,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		if err := h.executeStep(&step); err != nil {
			result.AddError(fmt.Sprintf("step %d (%s): %v", i+1, stepName(&step), err))
			break
		}
		h.log.Debug("step executed", "scenario", scenario.Name, "step", i+1, "directive", stepName(&step))
	}

	h.awaitExpectations(scenario.Expect, result)

	// Let any in-flight save land before reading the trace, then settle
	// the loop so the engine-side fields are final.
	h.awaitQuiescence(result)
	e.Sync()

	result.FinalVersion = e.Version()
	result.Status = e.Status().String()
	if doc, err := tr.ServerState(scenario.Document.ID); err == nil {
		result.FinalContent = doc.Content
	}
	result.Trace = renderTrace(tr.Calls(), scenarioEpoch)

	e.Stop()
	cancel()
	select {
	case <-runDone:
	case <-time.After(waitTimeout):
		result.AddError("engine loop did not stop")
	}

	return result, nil
}

// executeStep dispatches one scenario step. Wait steps poll in real time
// against the transport's counters or the engine's published status.
func (h *Harness) executeStep(step *Step) error {
	switch {
	case step.Edit != nil:
		h.engine.OnContentChanged(*step.Edit)
		h.engine.Sync()

	case step.Advance != 0:
		h.clock.Advance(step.Advance.Std())

	case step.Flush:
		h.engine.FlushNow()

	case step.ServerEdit != nil:
		if _, err := h.transport.ServerEdit(h.scenario.Document.ID, *step.ServerEdit); err != nil {
			return fmt.Errorf("server edit: %w", err)
		}

	case step.FailNextSave != "":
		h.transport.FailNextSave(errors.New(step.FailNextSave))

	case step.FailNextFetch != "":
		h.transport.FailNextFetch(errors.New(step.FailNextFetch))

	case step.HoldSaves != nil:
		if *step.HoldSaves {
			h.transport.HoldSaves()
		} else {
			h.transport.ReleaseSaves()
		}

	case step.ReleaseSave:
		return h.poll(func() bool { return h.transport.ReleaseNextSave() },
			"no save parked to release")

	case step.WaitSaves != nil:
		want := *step.WaitSaves
		return h.poll(func() bool { return h.transport.CompletedSaves() >= want },
			fmt.Sprintf("waiting for %d completed saves, have %d", want, h.transport.CompletedSaves()))

	case step.WaitSaveStarted != nil:
		want := *step.WaitSaveStarted
		return h.poll(func() bool { return h.transport.StartedSaves() >= want },
			fmt.Sprintf("waiting for %d started saves, have %d", want, h.transport.StartedSaves()))

	case step.WaitStatus != "":
		return h.poll(func() bool { return h.engine.Status().String() == step.WaitStatus },
			fmt.Sprintf("waiting for status %q, have %q", step.WaitStatus, h.engine.Status()))
	}
	return nil
}

// poll retries cond until it holds or the wait budget runs out.
func (h *Harness) poll(cond func() bool, timeoutMsg string) error {
	deadline := time.Now().Add(waitTimeout)
	for {
		if cond() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out: %s", timeoutMsg)
		}
		time.Sleep(time.Millisecond)
	}
}

// awaitQuiescence waits for the wire to go quiet so the rendered trace
// has no half-completed calls.
func (h *Harness) awaitQuiescence(result *Result) {
	err := h.poll(func() bool {
		return h.transport.StartedSaves() == h.transport.CompletedSaves()
	}, "a save is still in flight")
	if err != nil {
		result.AddError(err.Error())
	}
}

// awaitExpectations polls until every declared expectation holds, then
// reports precise mismatches if the budget runs out first.
func (h *Harness) awaitExpectations(exp Expect, result *Result) {
	deadline := time.Now().Add(waitTimeout)
	for {
		mismatches := h.checkExpectations(exp)
		if len(mismatches) == 0 {
			return
		}
		if time.Now().After(deadline) {
			for _, m := range mismatches {
				result.AddError(m.Error())
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *Harness) checkExpectations(exp Expect) []error {
	var mismatches []error
	check := func(field string, expected, actual any) {
		if fmt.Sprint(expected) != fmt.Sprint(actual) {
			mismatches = append(mismatches, &ExpectationError{
				Field:    field,
				Expected: fmt.Sprint(expected),
				Actual:   fmt.Sprint(actual),
			})
		}
	}

	if exp.Saves != nil {
		check("saves", *exp.Saves, h.transport.CallCount("save"))
	}
	if exp.Fetches != nil {
		check("fetches", *exp.Fetches, h.transport.CallCount("fetch"))
	}
	if exp.Beacons != nil {
		check("beacons", *exp.Beacons, h.transport.CallCount("beacon"))
	}
	if exp.FinalContent != nil {
		doc, err := h.transport.ServerState(h.scenario.Document.ID)
		if err != nil {
			mismatches = append(mismatches, &ExpectationError{
				Field: "final_content", Expected: *exp.FinalContent, Actual: "document missing",
			})
		} else {
			check("final_content", *exp.FinalContent, doc.Content)
		}
	}
	if exp.FinalVersion != nil {
		check("final_version", *exp.FinalVersion, h.engine.Version())
	}
	if exp.Status != "" {
		check("status", exp.Status, h.engine.Status().String())
	}
	return mismatches
}

// stepName names a step's directive for error messages.
func stepName(s *Step) string {
	if set := s.directives(); len(set) > 0 {
		return set[0]
	}
	return "unknown"
}
