// Package mailbox provides the single-slot output cell modules use to hand
// text to the bot for sending.
package mailbox

import "sync"

// Mailbox is a single-slot cell holding the most recent text written to it.
// Writes overwrite any value that has not yet been read, so a module which
// writes twice between drains loses the first value. Only the owning module
// should write to a mailbox. The zero value is an empty mailbox.
type Mailbox struct {
	mu      sync.Mutex
	pending string
	dirty   bool
}

// Write replaces the mailbox's value and marks it updated.
func (m *Mailbox) Write(v string) {
	m.mu.Lock()
	m.pending = v
	m.dirty = true
	m.mu.Unlock()
}

// Read returns the mailbox's value and clears its updated mark.
// The value itself is retained until the next Write.
func (m *Mailbox) Read() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = false
	return m.pending
}

// Updated reports whether the mailbox has been written since the last Read.
func (m *Mailbox) Updated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Take atomically reads the mailbox if it has been updated.
// The boolean reports whether there was an unread value.
func (m *Mailbox) Take() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return "", false
	}
	m.dirty = false
	return m.pending, true
}
