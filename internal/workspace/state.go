package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StageLink is one stage hash-chain entry carried in the checkpoint.
// A resumed run replays the persisted links so its receipt chain is
// identical to an uninterrupted run's.
type StageLink struct {
	Stage      string `json:"stage"`
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`
}

// RunState is the recovery checkpoint persisted before each stage
// begins and updated after each stage commits. An interrupted run
// resumes at the first stage not listed as complete.
type RunState struct {
	CurrentStage    string      `json:"current_stage"`
	CompletedStages []string    `json:"completed_stages"`
	StartedAt       time.Time   `json:"started_at"`
	Chain           []StageLink `json:"stage_chain,omitempty"`
}

// Completed reports whether a stage has committed.
func (rs *RunState) Completed(stage string) bool {
	for _, s := range rs.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// MarkComplete appends a stage to the completed list, once.
func (rs *RunState) MarkComplete(stage string) {
	if !rs.Completed(stage) {
		rs.CompletedStages = append(rs.CompletedStages, stage)
	}
}

// LoadRunState reads the persisted recovery checkpoint. Returns
// (nil, nil) when no run was interrupted.
func (s *Store) LoadRunState() (*RunState, error) {
	data, err := os.ReadFile(s.StatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspace: reading run state: %w", err)
	}

	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("workspace: parsing run state: %w", err)
	}
	return &rs, nil
}

// SaveRunState persists the checkpoint atomically.
func (s *Store) SaveRunState(rs *RunState) error {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: marshaling run state: %w", err)
	}

	tmp := s.StatePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("workspace: writing run state: %w", err)
	}
	if err := os.Rename(tmp, s.StatePath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workspace: renaming run state: %w", err)
	}
	return nil
}

// ClearRunState removes the checkpoint after a clean completion.
func (s *Store) ClearRunState() error {
	if err := os.Remove(s.StatePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace: clearing run state: %w", err)
	}
	return nil
}
