//go:build !unix

package process

import (
	"os/exec"
)

// Process groups are a unix concept; the descendant snapshot covers the rest.
func setProcessGroup(*exec.Cmd) {}

func signalGroup(int, bool) {}
