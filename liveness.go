// Process liveness for lock-file reclamation.
package jsondb

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v3/process"
)

// pidAlive probes pid with a zero signal (OpenProcess on Windows). A
// process owned by another user still counts as alive. Errors other than
// "no such process" are treated as alive so a lock is never stolen on a
// failed probe.
func pidAlive(ctx context.Context, pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return true
	}
	return ok
}
