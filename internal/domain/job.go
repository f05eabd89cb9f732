package domain

import (
	"strings"
)

// JobSpec is the launch specification of a subprocess job.
type JobSpec struct {
	Command string
	Args    []string
	Dir     string   // Working directory, empty for the current one
	Env     []string // Extra environment entries appended to the parent environment

	// FullStdout keeps all of stdout instead of the configured tail, for
	// commands that print a document the caller parses. Stderr stays capped.
	FullStdout bool
}

// String renders the command line for logs.
func (s JobSpec) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Command)
	for _, a := range s.Args {
		if strings.ContainsAny(a, " \t\"'") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// JobState is the lifecycle state of a subprocess job.
type JobState int

const (
	// JobNotStarted means the job is waiting for a process slot.
	JobNotStarted JobState = iota
	// JobRunning means the OS process is alive.
	JobRunning
	// JobSucceeded means the process exited with code zero.
	JobSucceeded
	// JobTimedOut means the process was terminated after its time limit.
	JobTimedOut
	// JobKilled means the job was cancelled by its caller.
	JobKilled
	// JobFailed means the process could not start or exited non-zero.
	JobFailed
)

// String returns a string representation of the job state.
func (s JobState) String() string {
	switch s {
	case JobNotStarted:
		return "NotStarted"
	case JobRunning:
		return "Running"
	case JobSucceeded:
		return "Succeeded"
	case JobTimedOut:
		return "TimedOut"
	case JobKilled:
		return "Killed"
	case JobFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transitions can happen.
func (s JobState) IsTerminal() bool {
	return s >= JobSucceeded
}

// JobStatus is a snapshot of a subprocess job.
// PID is set once the process started. ExitCode, Stdout and Stderr are
// meaningful only in terminal states; ExitCode is -1 when the process never
// exited on its own.
type JobStatus struct {
	State    JobState
	PID      int
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Output returns stdout and stderr joined for diagnostic matching.
func (s JobStatus) Output() string {
	if s.Stderr == "" {
		return s.Stdout
	}
	if s.Stdout == "" {
		return s.Stderr
	}
	return s.Stdout + "\n" + s.Stderr
}

// LastErrorLine returns the last non-empty stderr line, or the last stdout
// line when stderr is empty. Tools usually print the decisive message last.
func (s JobStatus) LastErrorLine() string {
	if line := lastLine(s.Stderr); line != "" {
		return line
	}
	return lastLine(s.Stdout)
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
