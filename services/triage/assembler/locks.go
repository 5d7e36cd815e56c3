// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assembler

import "sync"

// conversationLocks serializes turns per conversation. Concurrent turns for
// the same conversation are processed one at a time in arrival order;
// different conversations never contend.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*conversationLock)}
}

// Lock acquires the lock for a conversation and returns the unlock function.
// Lock entries are reference counted and removed when the last holder
// releases, so the map does not grow with conversation count.
func (c *conversationLocks) Lock(conversationID string) func() {
	c.mu.Lock()
	l, ok := c.locks[conversationID]
	if !ok {
		l = &conversationLock{}
		c.locks[conversationID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, conversationID)
		}
		c.mu.Unlock()
	}
}
