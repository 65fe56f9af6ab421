//go:build windows

package keeper

import (
	"fmt"
	"os/exec"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// JobCmd wraps exec.Cmd to ensure it runs in a Job Object that is killed
// when the last handle to it is closed.
type JobCmd struct {
	*exec.Cmd

	mu  sync.Mutex
	job windows.Handle
}

func NewJobCmd(dir string, argv []string, env []string) *JobCmd {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	return &JobCmd{Cmd: cmd}
}

func (j *JobCmd) Start() error {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return fmt.Errorf("CreateJobObject failed: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(job, windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info))); err != nil {
		windows.CloseHandle(job)
		return fmt.Errorf("SetInformationJobObject failed: %w", err)
	}

	// Race between start and assignment is acceptable: children spawned in
	// that window are not tracked by the job.
	if err := j.Cmd.Start(); err != nil {
		windows.CloseHandle(job)
		return err
	}

	process, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(j.Cmd.Process.Pid))
	if err != nil {
		j.Cmd.Process.Kill()
		windows.CloseHandle(job)
		return fmt.Errorf("OpenProcess failed: %w", err)
	}
	defer windows.CloseHandle(process)

	if err := windows.AssignProcessToJobObject(job, process); err != nil {
		j.Cmd.Process.Kill()
		windows.CloseHandle(job)
		return fmt.Errorf("AssignProcessToJobObject failed: %w", err)
	}

	j.mu.Lock()
	j.job = job
	j.mu.Unlock()
	return nil
}

// Terminate has no graceful equivalent on Windows, the job is ended.
func (j *JobCmd) Terminate() error {
	return j.Kill()
}

func (j *JobCmd) Kill() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.job == 0 {
		if j.Cmd.Process != nil {
			return j.Cmd.Process.Kill()
		}
		return nil
	}
	return windows.TerminateJobObject(j.job, 1)
}

func (j *JobCmd) Release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.job != 0 {
		windows.CloseHandle(j.job)
		j.job = 0
	}
}
