//go:build !unix

package sandbox

import "os/exec"

// setProcessGroup is a no-op here; exec.CommandContext kills the interpreter
// process on timeout.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {}
