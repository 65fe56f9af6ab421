//go:build !windows

package keeper

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// JobCmd wraps exec.Cmd so the child and everything it spawns share one
// process group that dies with us.
type JobCmd struct {
	*exec.Cmd
}

func NewJobCmd(dir string, argv []string, env []string) *JobCmd {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	return &JobCmd{Cmd: cmd}
}

func (j *JobCmd) Start() error {
	if j.Cmd.SysProcAttr == nil {
		j.Cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	setProcAttr(j.Cmd.SysProcAttr)
	return j.Cmd.Start()
}

// Terminate asks the whole process group to exit.
func (j *JobCmd) Terminate() error {
	return j.signalGroup(unix.SIGTERM)
}

// Kill forcibly ends the whole process group.
func (j *JobCmd) Kill() error {
	return j.signalGroup(unix.SIGKILL)
}

// Release frees per-process resources after Wait returned.
func (j *JobCmd) Release() {}

func (j *JobCmd) signalGroup(sig unix.Signal) error {
	if j.Cmd.Process == nil {
		return nil
	}
	pid := j.Cmd.Process.Pid
	err := unix.Kill(-pid, sig)
	if err == unix.ESRCH {
		// group already gone, the leader may still be unreaped
		err = unix.Kill(pid, sig)
		if err == unix.ESRCH {
			return nil
		}
	}
	return err
}
