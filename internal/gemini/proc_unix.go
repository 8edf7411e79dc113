//go:build unix

package gemini

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// killGrace is how long the CLI gets to exit after SIGTERM before the whole
// group is sent SIGKILL.
const killGrace = 2 * time.Second

// setProcessGroup puts the CLI in its own process group so that cancellation
// also reaches the node/helper processes it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		err := unix.Kill(-pid, unix.SIGTERM)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		time.AfterFunc(killGrace, func() {
			_ = unix.Kill(-pid, unix.SIGKILL)
		})
		return err
	}
	// Stops Wait from blocking on pipes held open by orphaned grandchildren.
	cmd.WaitDelay = killGrace + time.Second
}
