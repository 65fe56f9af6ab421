//go:build !windows && !linux

package keeper

import "syscall"

// No parent-death signal outside Linux; children of a crashed supervisor
// are left to the operator.
func setProcAttr(attr *syscall.SysProcAttr) {
	attr.Setpgid = true
}
