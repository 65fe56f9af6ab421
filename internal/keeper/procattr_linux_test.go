package keeper

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcAttrDiesWithSupervisor(t *testing.T) {
	attr := &syscall.SysProcAttr{}
	setProcAttr(attr)

	assert.True(t, attr.Setpgid)
	assert.Equal(t, syscall.SIGKILL, attr.Pdeathsig)
}
