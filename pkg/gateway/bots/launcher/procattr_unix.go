//go:build unix

package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

// Workers lead their own process group so that anything they fork is
// signalled along with them.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func groupSignaler(cmd *exec.Cmd) registry.SignalFunc {
	pid := cmd.Process.Pid
	return func(sig os.Signal) error {
		s, ok := sig.(syscall.Signal)
		if !ok {
			return fmt.Errorf("unsupported signal %v", sig)
		}
		return unix.Kill(-pid, s)
	}
}
