package index

import (
	"bytes"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// entry orders positions by nominal collateral ratio, owner bytes as a
// tiebreak so every entry has a total order.
type entry struct {
	nicr  uint64
	owner uuid.UUID
}

func entryLess(a, b entry) bool {
	if a.nicr != b.nicr {
		return a.nicr < b.nicr
	}
	return bytes.Compare(a.owner[:], b.owner[:]) < 0
}

// SortedIndex keeps open positions ordered by their nominal ratio proxy.
// The tail is the lowest-ratio (riskiest) position. The Kasa manager
// re-keys an owner on every mutation that changes its ratio.
//
// Not thread-safe; only accessed from the single-threaded core.
type SortedIndex struct {
	tree    *btree.BTreeG[entry]
	byOwner map[uuid.UUID]uint64 // owner -> current nicr key
}

func NewSortedIndex() *SortedIndex {
	return &SortedIndex{
		tree:    btree.NewG[entry](16, entryLess),
		byOwner: make(map[uuid.UUID]uint64),
	}
}

// Insert adds an owner under the given nominal ratio. Re-inserting an
// existing owner re-keys it.
func (si *SortedIndex) Insert(owner uuid.UUID, nicr uint64) {
	if old, ok := si.byOwner[owner]; ok {
		si.tree.Delete(entry{nicr: old, owner: owner})
	}
	si.tree.ReplaceOrInsert(entry{nicr: nicr, owner: owner})
	si.byOwner[owner] = nicr
}

// Update re-keys an existing owner; a no-op for unknown owners.
func (si *SortedIndex) Update(owner uuid.UUID, nicr uint64) {
	if _, ok := si.byOwner[owner]; !ok {
		return
	}
	si.Insert(owner, nicr)
}

// Remove deletes an owner from the index.
func (si *SortedIndex) Remove(owner uuid.UUID) {
	nicr, ok := si.byOwner[owner]
	if !ok {
		return
	}
	si.tree.Delete(entry{nicr: nicr, owner: owner})
	delete(si.byOwner, owner)
}

// Contains reports whether the owner is indexed.
func (si *SortedIndex) Contains(owner uuid.UUID) bool {
	_, ok := si.byOwner[owner]
	return ok
}

// Prev returns the owner with the next lower ratio, if any.
func (si *SortedIndex) Prev(owner uuid.UUID) (uuid.UUID, bool) {
	nicr, ok := si.byOwner[owner]
	if !ok {
		return uuid.Nil, false
	}

	var result uuid.UUID
	found := false
	pivot := entry{nicr: nicr, owner: owner}
	si.tree.DescendLessOrEqual(pivot, func(e entry) bool {
		if e.owner == owner && e.nicr == nicr {
			return true // skip self
		}
		result = e.owner
		found = true
		return false
	})
	return result, found
}

// Next returns the owner with the next higher ratio, if any.
func (si *SortedIndex) Next(owner uuid.UUID) (uuid.UUID, bool) {
	nicr, ok := si.byOwner[owner]
	if !ok {
		return uuid.Nil, false
	}

	var result uuid.UUID
	found := false
	pivot := entry{nicr: nicr, owner: owner}
	si.tree.AscendGreaterOrEqual(pivot, func(e entry) bool {
		if e.owner == owner && e.nicr == nicr {
			return true // skip self
		}
		result = e.owner
		found = true
		return false
	})
	return result, found
}

// Tail returns the lowest-ratio owner, if any.
func (si *SortedIndex) Tail() (uuid.UUID, bool) {
	e, ok := si.tree.Min()
	if !ok {
		return uuid.Nil, false
	}
	return e.owner, true
}

// Head returns the highest-ratio owner, if any.
func (si *SortedIndex) Head() (uuid.UUID, bool) {
	e, ok := si.tree.Max()
	if !ok {
		return uuid.Nil, false
	}
	return e.owner, true
}

// Len returns the number of indexed owners.
func (si *SortedIndex) Len() int {
	return len(si.byOwner)
}
