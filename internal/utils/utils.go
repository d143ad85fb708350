package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// so a dying model worker still leaves its traceback behind.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares a command bound to ctx with its Stderr captured.
// It does not start the command.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Logs returns whatever the process wrote to stderr so far.
func (s *SafeCommand) Logs() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return s.Stderr.String()
}

// ErrorOutput is where ShowError writes. Tests swap it for a buffer.
var ErrorOutput io.Writer = os.Stderr

// ShowError prints the unified error box, including captured worker logs
// when a SafeCommand is given.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(ErrorOutput, "\n---------------------------------------------------------\n")
	fmt.Fprintf(ErrorOutput, "🚨 PASSPORT ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(ErrorOutput, "DETAILS: %v\n", err)
	}
	if logs := s.Logs(); logs != "" {
		fmt.Fprintf(ErrorOutput, "\nPYTHON CRASH LOGS:\n%s\n", logs)
	}
	fmt.Fprintf(ErrorOutput, "---------------------------------------------------------\n")
}

// --- 2. Output Naming ---

// OutputName turns "photos/jane.doe.JPG" into "jane.doe-passport.jpg".
func OutputName(inputPath, ext string) string {
	base := filepath.Base(inputPath)
	if e := filepath.Ext(base); e != "" {
		base = strings.TrimSuffix(base, e)
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "photo"
	}
	return fmt.Sprintf("%s-passport.%s", base, strings.TrimPrefix(strings.ToLower(ext), "."))
}

// OutputPath joins OutputName onto dir. An empty dir means the input's own directory.
func OutputPath(dir, inputPath, ext string) string {
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	return filepath.Join(dir, OutputName(inputPath, ext))
}

// SamePath reports whether two paths resolve to the same absolute location.
func SamePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
