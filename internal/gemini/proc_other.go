//go:build !unix

package gemini

import (
	"os/exec"
	"time"
)

// setProcessGroup falls back to killing the direct child; there are no
// process groups to signal on this platform.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = 3 * time.Second
}
