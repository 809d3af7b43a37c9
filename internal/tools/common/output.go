package common

import (
	"encoding/json"
	"io"
	"time"
)

// CIResult is the single JSON document portalctl prints in --ci mode.
type CIResult struct {
	Command    string   `json:"command"`
	OK         bool     `json:"ok"`
	DurationMS int64    `json:"duration_ms"`
	Details    []string `json:"details,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func NewCIResult(command string, details []string, elapsed time.Duration, err error) CIResult {
	res := CIResult{Command: command, OK: err == nil, DurationMS: elapsed.Milliseconds(), Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func WriteCIResult(w io.Writer, res CIResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
