package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// defaultTransientPatterns match tool output for failures that tend to go
// away on their own: throttling, server errors and flaky networks.
var defaultTransientPatterns = []string{
	`HTTP Error 429`,
	`HTTP Error 5\d\d`,
	`(?i)too many requests`,
	`(?i)timed? ?out`,
	`(?i)connection (reset|refused|aborted)`,
	`(?i)temporary failure in name resolution`,
	`(?i)network is unreachable`,
	`(?i)unable to download (webpage|video data|json metadata)`,
	`(?i)incompleteread`,
	`(?i)remote end closed connection`,
	`(?i)got error: .*(read|ssl|eof)`,
}

// OutputClassifier decides retryability from the error, the tool's exit code
// and the output it carries. Missing tools, cancellations and unmatched
// failures are fatal.
type OutputClassifier struct {
	patterns  []*regexp.Regexp
	exitCodes map[int]struct{}
}

// NewOutputClassifier compiles the built-in patterns plus extra. A tool that
// exits with one of exitCodes is transient whatever it printed.
func NewOutputClassifier(extra []string, exitCodes []int) (*OutputClassifier, error) {
	all := append(append([]string(nil), defaultTransientPatterns...), extra...)
	c := &OutputClassifier{
		patterns:  make([]*regexp.Regexp, 0, len(all)),
		exitCodes: make(map[int]struct{}, len(exitCodes)),
	}
	for _, code := range exitCodes {
		if code < 0 {
			return nil, fmt.Errorf("transient exit code %d: must not be negative", code)
		}
		c.exitCodes[code] = struct{}{}
	}
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("transient pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// IsTransient implements ports.FailureClassifier.
func (c *OutputClassifier) IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrToolMissing),
		errors.Is(err, domain.ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrNoFormats),
		errors.Is(err, domain.ErrNoEntries):
		return false
	case errors.Is(err, domain.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return true
	}

	text := err.Error()
	var toolErr *domain.ToolError
	if errors.As(err, &toolErr) {
		if toolErr.Status.State == domain.JobFailed {
			if _, ok := c.exitCodes[toolErr.Status.ExitCode]; ok {
				return true
			}
		}
		text = toolErr.Status.Output()
	}
	for _, re := range c.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Verify that OutputClassifier implements the FailureClassifier interface
var _ ports.FailureClassifier = (*OutputClassifier)(nil)
