package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// maxDiagnosticBytes bounds how much tool output is kept for error reports
const maxDiagnosticBytes = 4096

// Request describes one extraction
type Request struct {
	SourceURL   string // Page or media URL understood by the backend
	OutputPath  string // Where the MP3 must be written
	CookiesPath string // Optional site-authentication cookie file
}

// Extractor turns a source URL into a local mono MP3 file
type Extractor interface {
	Extract(ctx context.Context, req Request) error
}

// ExitError reports a failed external tool together with its diagnostic output
type ExitError struct {
	Tool       string
	ExitCode   int
	Diagnostic string
	Err        error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// newExitError builds an ExitError from a process error and its captured stderr
func newExitError(tool string, err error, stderr string) *ExitError {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &ExitError{
		Tool:       tool,
		ExitCode:   code,
		Diagnostic: tail(strings.TrimSpace(stderr), maxDiagnosticBytes),
		Err:        err,
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// removeOutputs deletes the output file and any sibling the tool created from the same stem
// (intermediate downloads, .part files). Names are unique per request so the glob cannot
// match another request's files.
func removeOutputs(outputPath string) {
	stem := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
	matches, _ := filepath.Glob(stem + ".*")
	for _, m := range matches {
		os.Remove(m)
	}
	os.Remove(outputPath)
}

// checkOutput confirms the tool actually produced a non-empty file
func checkOutput(tool, outputPath string) error {
	info, err := os.Stat(outputPath)
	if err != nil {
		return &ExitError{Tool: tool, Diagnostic: "no output file produced", Err: err}
	}
	if info.Size() == 0 {
		return &ExitError{Tool: tool, Diagnostic: "output file is empty"}
	}
	return nil
}
