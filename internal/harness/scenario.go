package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "3s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Scenario defines one conformance scenario: a document, a timing
// configuration, a sequence of steps driving the engine and the fake
// clock, and expectations about the wire activity and final state.
type Scenario struct {
	// Name uniquely identifies this scenario; it is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Document is the initial server-side document, created at version 1.
	Document DocumentSpec `yaml:"document"`

	// Timings overrides the engine's scheduling windows. Omitted fields
	// keep their production defaults.
	Timings TimingSpec `yaml:"timings,omitempty"`

	// Steps is the ordered list of actions to perform.
	Steps []Step `yaml:"steps"`

	// Expect is validated after all steps have run.
	Expect Expect `yaml:"expect"`
}

// DocumentSpec seeds the scenario's document.
type DocumentSpec struct {
	ID      string `yaml:"id"`
	Content string `yaml:"content"`
}

// TimingSpec mirrors the engine's timing knobs in scenario-friendly form.
type TimingSpec struct {
	Debounce            Duration `yaml:"debounce,omitempty"`
	MaxInterval         Duration `yaml:"max_interval,omitempty"`
	MinSaveInterval     Duration `yaml:"min_save_interval,omitempty"`
	SaveTimeout         Duration `yaml:"save_timeout,omitempty"`
	SmallPatchThreshold int      `yaml:"small_patch_threshold,omitempty"`
	SnapshotRatio       float64  `yaml:"snapshot_ratio,omitempty"`
}

// Step is one scenario action. Exactly one directive must be set.
type Step struct {
	// Edit submits a new editor snapshot.
	Edit *string `yaml:"edit,omitempty"`

	// Advance moves the fake clock forward.
	Advance Duration `yaml:"advance,omitempty"`

	// Flush triggers the synchronous flush beacon.
	Flush bool `yaml:"flush,omitempty"`

	// ServerEdit applies a concurrent writer's content directly to the
	// server, bumping its version.
	ServerEdit *string `yaml:"server_edit,omitempty"`

	// FailNextSave injects a transport failure into the next save; the
	// value is the error message.
	FailNextSave string `yaml:"fail_next_save,omitempty"`

	// FailNextFetch injects a transport failure into the next fetch.
	FailNextFetch string `yaml:"fail_next_fetch,omitempty"`

	// HoldSaves parks arriving saves (true) or releases them all (false).
	HoldSaves *bool `yaml:"hold_saves,omitempty"`

	// ReleaseSave releases the oldest parked save, waiting for one to
	// park if none has yet.
	ReleaseSave bool `yaml:"release_save,omitempty"`

	// WaitSaves blocks until at least this many saves have completed.
	WaitSaves *int `yaml:"wait_saves,omitempty"`

	// WaitSaveStarted blocks until at least this many saves have started.
	WaitSaveStarted *int `yaml:"wait_save_started,omitempty"`

	// WaitStatus blocks until the engine reports this status
	// ("saved", "saving" or "error").
	WaitStatus string `yaml:"wait_status,omitempty"`
}

// directives returns the names of the directives set on this step.
func (s *Step) directives() []string {
	var set []string
	if s.Edit != nil {
		set = append(set, "edit")
	}
	if s.Advance != 0 {
		set = append(set, "advance")
	}
	if s.Flush {
		set = append(set, "flush")
	}
	if s.ServerEdit != nil {
		set = append(set, "server_edit")
	}
	if s.FailNextSave != "" {
		set = append(set, "fail_next_save")
	}
	if s.FailNextFetch != "" {
		set = append(set, "fail_next_fetch")
	}
	if s.HoldSaves != nil {
		set = append(set, "hold_saves")
	}
	if s.ReleaseSave {
		set = append(set, "release_save")
	}
	if s.WaitSaves != nil {
		set = append(set, "wait_saves")
	}
	if s.WaitSaveStarted != nil {
		set = append(set, "wait_save_started")
	}
	if s.WaitStatus != "" {
		set = append(set, "wait_status")
	}
	return set
}

// Expect declares the scenario's final assertions. Nil and empty fields
// are not checked, so zero counts stay expressible.
type Expect struct {
	// Saves is the exact number of save calls, successful or not.
	Saves *int `yaml:"saves,omitempty"`

	// Fetches is the exact number of fetch calls.
	Fetches *int `yaml:"fetches,omitempty"`

	// Beacons is the exact number of flush beacons.
	Beacons *int `yaml:"beacons,omitempty"`

	// FinalContent is the authoritative server-side content.
	FinalContent *string `yaml:"final_content,omitempty"`

	// FinalVersion is the last server version the client confirmed.
	FinalVersion *int64 `yaml:"final_version,omitempty"`

	// Status is the engine's final status ("saved", "saving" or "error").
	Status string `yaml:"status,omitempty"`
}

var validStatuses = map[string]bool{"saved": true, "saving": true, "error": true}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos in scenario files fail loudly instead of silently
// validating nothing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarioDir loads every *.yaml scenario in a directory, sorted by
// file name for stable test ordering.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob scenarios: %w", err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks required fields and per-step shape.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Document.ID == "" {
		return fmt.Errorf("document.id is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		set := step.directives()
		if len(set) == 0 {
			return fmt.Errorf("steps[%d]: no directive set", i)
		}
		if len(set) > 1 {
			return fmt.Errorf("steps[%d]: exactly one directive per step, got %v", i, set)
		}
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", i)
		}
		if step.WaitStatus != "" && !validStatuses[step.WaitStatus] {
			return fmt.Errorf("steps[%d]: unknown status %q", i, step.WaitStatus)
		}
		if step.WaitSaves != nil && *step.WaitSaves < 0 {
			return fmt.Errorf("steps[%d]: wait_saves must be non-negative", i)
		}
		if step.WaitSaveStarted != nil && *step.WaitSaveStarted < 0 {
			return fmt.Errorf("steps[%d]: wait_save_started must be non-negative", i)
		}
	}

	if s.Expect.Status != "" && !validStatuses[s.Expect.Status] {
		return fmt.Errorf("expect.status: unknown status %q", s.Expect.Status)
	}
	return nil
}
