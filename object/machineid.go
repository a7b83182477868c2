package object

import (
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	machineIDOnce sync.Once
	machineID     string
)

// MachineID returns a stable identifier for the current process's host,
// used to populate ServiceInfo.MachineID at registration (spec §3
// "ServiceInfo... machineId"). It prefers the OS hostname; when that
// fails (containers with no hostname configured, permission errors) it
// falls back to a random UUID generated once per process, which is
// stable for the process's lifetime even though it is not stable across
// restarts.
func MachineID() string {
	machineIDOnce.Do(func() {
		if h, err := os.Hostname(); err == nil && h != "" {
			machineID = h
			return
		}
		machineID = uuid.NewString()
	})
	return machineID
}
