// Package cli wires a config.Config into a running manager.Manager and
// exposes the harness lifecycle as cobra commands.
//
// Grounded on dotcommander-vybe's internal/commands + internal/output: a
// cobra root command with persistent flags, a schema-versioned JSON
// response envelope, and one file per command group.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
)

// response is the envelope every harnessd command prints to stdout.
type response struct {
	SchemaVersion string `json:"schema_version"`
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
}

func printSuccess(data any) error {
	return printResponse(response{SchemaVersion: "v1", Success: true, Data: data})
}

func printError(err error) error {
	return printResponse(response{SchemaVersion: "v1", Success: false, Error: err.Error()})
}

func printResponse(resp response) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("cli: encode response: %w", err)
	}
	if !resp.Success {
		return printedError{}
	}
	return nil
}

// printedError marks an error as already rendered to stdout as a response
// envelope, so main's own stderr print doesn't duplicate it.
type printedError struct{}

func (printedError) Error() string { return "error already printed" }
