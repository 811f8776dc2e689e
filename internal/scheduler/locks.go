// SPDX-License-Identifier: MIT

package scheduler

import "sync"

// deviceLocks hands out one mutex per device so the classify-select-commit
// span serializes per device while different devices proceed concurrently.
type deviceLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{m: make(map[string]*sync.Mutex)}
}

func (d *deviceLocks) get(device string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.m[device]
	if !ok {
		l = &sync.Mutex{}
		d.m[device] = l
	}
	return l
}
