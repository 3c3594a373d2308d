// Package infra implements infrastructure concerns: the web API client,
// encrypted local storage, the browser bridge and process inspection.
package infra

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/niyambadha/watchd/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return exists
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
