// SPDX-License-Identifier: MIT

package bridge

import "sync"

// taskRegistry maps a caller-supplied report ID to the worker-assigned
// execution ID, so control commands can target the right in-flight run.
type taskRegistry struct {
	mu sync.Mutex
	m  map[string]string
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{m: make(map[string]string)}
}

func (r *taskRegistry) register(reportID, taskID string) {
	if reportID == "" || taskID == "" {
		return
	}
	r.mu.Lock()
	r.m[reportID] = taskID
	r.mu.Unlock()
}

func (r *taskRegistry) lookup(reportID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	taskID, ok := r.m[reportID]
	return taskID, ok
}

func (r *taskRegistry) forget(reportID string) {
	r.mu.Lock()
	delete(r.m, reportID)
	r.mu.Unlock()
}
