package bcache

import (
	. "github.com/weberc2/sectorfs/pkg/types"
)

type entry struct {
	prev *entry
	next *entry

	sector           Sector
	data             SectorBuffer
	dirty            bool
	inUse            bool
	recentlyAccessed bool

	// busy pins the entry while a fill, flush, or copy is in progress
	// outside of the cache lock. Nobody else may touch `data` or recycle
	// the entry while it is set.
	busy bool
}

// list is the insertion-ordered list of resident entries. The head is the
// oldest entry.
type list struct {
	head *entry
	tail *entry
}

func (l *list) pushBack(e *entry) {
	e.next = nil
	e.prev = l.tail
	if l.tail != nil {
		l.tail.next = e
	} else {
		l.head = e
	}
	l.tail = e
}

func (l *list) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// oldestIdle returns the oldest entry that isn't pinned, or nil.
func (l *list) oldestIdle() *entry {
	for e := l.head; e != nil; e = e.next {
		if !e.busy {
			return e
		}
	}
	return nil
}
