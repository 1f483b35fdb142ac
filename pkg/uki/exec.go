package uki

import (
	"context"
	"os/exec"
	"syscall"

	"github.com/outofforest/libexec"
	"golang.org/x/sys/unix"
)

// execTool runs an external tool in its own process group. On context
// cancellation only the direct child gets killed; helpers it forked would
// keep the section pipes open, so once the tool is gone the whole group is
// taken down.
func execTool(ctx context.Context, cmd *exec.Cmd) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	defer func() {
		if cmd.Process != nil {
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
	}()
	return libexec.Exec(ctx, cmd)
}
