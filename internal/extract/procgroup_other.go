//go:build !unix

package extract

import "os/exec"

// killProcessGroup keeps the default behaviour of killing only cmd's own process
func killProcessGroup(cmd *exec.Cmd) {}
