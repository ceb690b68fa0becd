// Package harness provides conformance testing for the sync engine.
//
// The harness runs YAML scenarios against a real engine wired to a
// scripted transport and a hand-advanced fake clock, then compares the
// resulting wire trace against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	document:
//	  id: doc-1
//	  content: "initial server content"
//	timings:
//	  debounce: "3s"
//	  small_patch_threshold: 1
//	steps:
//	  - edit: "new editor snapshot"
//	  - advance: "3s"
//	  - wait_saves: 1
//	expect:
//	  saves: 1
//	  final_version: 2
//	  final_content: "new editor snapshot"
//	  status: saved
//
// # Step Directives
//
// Each step carries exactly one directive:
//
//   - edit: submit an editor snapshot to the engine
//   - advance: move the fake clock forward
//   - flush: trigger the synchronous flush beacon
//   - server_edit: apply a concurrent writer's change server-side
//   - fail_next_save / fail_next_fetch: inject a transport failure
//   - hold_saves: park arriving saves (true) or release them all (false)
//   - release_save: release the oldest parked save
//   - wait_saves / wait_save_started: block until save counts are reached
//   - wait_status: block until the engine reports a status
//
// # Deterministic Testing
//
// Every run gets a fresh in-memory document store, a fake clock that only
// moves on advance steps, and numbered attempt tokens. Engine deadlines
// are anchored to the dirty period's start rather than to event-loop
// turns, so the rendered trace is a pure function of the scenario file
// and golden comparison is stable across runs.
//
// # Usage
//
// Load and run a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/debounce-burst.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
//
// Or in a test, against the golden transcript:
//
//	harness.RunWithGolden(t, scenario)
package harness
