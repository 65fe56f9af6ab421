package keeper

import "syscall"

func setProcAttr(attr *syscall.SysProcAttr) {
	// child receives SIGKILL when the supervisor dies
	attr.Pdeathsig = syscall.SIGKILL
	// new process group so stop reaches npm and whatever it forked
	attr.Setpgid = true
}
