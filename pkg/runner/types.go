package runner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nstogner/autofix/pkg/prompt"
	"github.com/nstogner/autofix/pkg/sandbox"
	"github.com/nstogner/autofix/pkg/snapshot"
)

// Mode is fixed for the lifetime of a run.
type Mode = prompt.Mode

const (
	ModeSingleFile = prompt.ModeSingleFile
	ModeMultiFile  = prompt.ModeMultiFile
)

// ModeFor picks multi-file mode as soon as a project has more than one file.
func ModeFor(s *snapshot.Snapshot) Mode {
	if len(s.Original) > 1 {
		return ModeMultiFile
	}
	return ModeSingleFile
}

// Request asks for one repair run over an existing run directory.
type Request struct {
	RunID   string
	RunRoot string

	Language sandbox.Language
	// EntryFile is required when the project has more than one file.
	EntryFile string
	// ExpectedOutput, when set, must match trimmed stdout for success.
	ExpectedOutput *string
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// IterationRecord describes one model-patch-execute cycle.
type IterationRecord struct {
	Number        int       `json:"number"`
	ExitCode      int       `json:"exit_code"`
	Stdout        string    `json:"stdout"`
	Stderr        string    `json:"stderr"`
	TimedOut      bool      `json:"timed_out,omitempty"`
	ChangedFiles  []string  `json:"changed_files"`
	Diff          string    `json:"diff"`
	ModelResponse string    `json:"model_response"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Outcome is the terminal result of a run.
type Outcome struct {
	RunID      string `json:"run_id"`
	Status     Status `json:"status"`
	Mode       Mode   `json:"mode"`
	Language   string `json:"language"`
	EntryFile  string `json:"entry_file"`
	Iterations int    `json:"iterations"`
	Message    string `json:"message"`

	// Output is set on success.
	Output string `json:"output,omitempty"`

	// Last* are set on failure.
	LastOutput   string `json:"last_output,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	LastExitCode *int   `json:"last_exit_code,omitempty"`

	OriginalCode snapshot.Files `json:"-"`
	FixedCode    snapshot.Files `json:"-"`

	History []IterationRecord `json:"history"`
}

type outcomeAlias Outcome

type outcomeJSON struct {
	*outcomeAlias
	OriginalCode json.RawMessage `json:"original_code"`
	FixedCode    json.RawMessage `json:"fixed_code"`
}

// MarshalJSON renders the code fields as a plain string in single-file mode
// and as a path to content object in multi-file mode.
func (o Outcome) MarshalJSON() ([]byte, error) {
	orig, err := o.encodeCode(o.OriginalCode)
	if err != nil {
		return nil, err
	}
	fixed, err := o.encodeCode(o.FixedCode)
	if err != nil {
		return nil, err
	}
	return json.Marshal(outcomeJSON{outcomeAlias: (*outcomeAlias)(&o), OriginalCode: orig, FixedCode: fixed})
}

func (o Outcome) encodeCode(files snapshot.Files) (json.RawMessage, error) {
	if o.Mode == ModeSingleFile {
		return json.Marshal(files[o.EntryFile])
	}
	if files == nil {
		files = snapshot.Files{}
	}
	return json.Marshal(files)
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	aux := outcomeJSON{outcomeAlias: (*outcomeAlias)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if o.OriginalCode, err = o.decodeCode(aux.OriginalCode); err != nil {
		return fmt.Errorf("original_code: %w", err)
	}
	if o.FixedCode, err = o.decodeCode(aux.FixedCode); err != nil {
		return fmt.Errorf("fixed_code: %w", err)
	}
	return nil
}

func (o *Outcome) decodeCode(raw json.RawMessage) (snapshot.Files, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return snapshot.Files{o.EntryFile: s}, nil
	}
	var files snapshot.Files
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func succeeded(res *sandbox.Result, expected *string) bool {
	if res.ExitCode != 0 {
		return false
	}
	return expected == nil || strings.TrimSpace(res.Stdout) == strings.TrimSpace(*expected)
}
