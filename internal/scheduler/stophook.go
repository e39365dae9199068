package scheduler

import "os"

// sentinelStopHook reports the presence of a sentinel file as the stop
// signal, satisfying persistence.StopHook for the per-task persistence
// loop as well as the scheduler's own per-sweep check.
type sentinelStopHook struct {
	path string
}

func (s sentinelStopHook) IsSet() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
