//go:build !unix

package launcher

import (
	"os/exec"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

func setProcessGroup(*exec.Cmd) {}

func groupSignaler(cmd *exec.Cmd) registry.SignalFunc {
	return cmd.Process.Signal
}
