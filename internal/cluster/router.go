package cluster

import (
	"fmt"

	"df2redis/internal/endpoint"
)

// SlotMap is the immutable, fully-built mapping from cluster slot to
// owning master node. Once built it is never mutated; mid-run topology
// changes (MOVED/ASK redirects from slot migration) are not modeled
// here.
type SlotMap struct {
	owner   [SlotCount]*NodeInfo
	masters []*NodeInfo
}

// Build retains only master nodes from the parsed description and
// assigns slot_map[lo..hi] for each of their ranges. It returns
// *endpoint.ConfigError if any slot is left unassigned or assigned more
// than once.
func Build(nodes []*NodeInfo) (*SlotMap, error) {
	sm := &SlotMap{}
	for _, n := range nodes {
		if !n.IsMaster() {
			continue
		}
		sm.masters = append(sm.masters, n)
		for _, r := range n.Slots {
			for slot := r[0]; slot <= r[1]; slot++ {
				if slot < 0 || slot >= SlotCount {
					return nil, &endpoint.ConfigError{Msg: fmt.Sprintf("slot %d out of range for node %s", slot, n.ID)}
				}
				if sm.owner[slot] != nil && sm.owner[slot] != n {
					return nil, &endpoint.ConfigError{
						Msg: fmt.Sprintf("slot %d assigned to both %s and %s", slot, sm.owner[slot].ID, n.ID),
					}
				}
				sm.owner[slot] = n
			}
		}
	}

	var gapStart = -1
	for slot := 0; slot < SlotCount; slot++ {
		if sm.owner[slot] == nil {
			if gapStart < 0 {
				gapStart = slot
			}
			continue
		}
		if gapStart >= 0 {
			return nil, &endpoint.ConfigError{Msg: fmt.Sprintf("slots %d-%d are not covered by any master", gapStart, slot-1)}
		}
	}
	if gapStart >= 0 {
		return nil, &endpoint.ConfigError{Msg: fmt.Sprintf("slots %d-%d are not covered by any master", gapStart, SlotCount-1)}
	}
	return sm, nil
}

// OwnerOfSlot returns the master node owning a slot directly.
func (sm *SlotMap) OwnerOfSlot(slot uint16) *NodeInfo {
	return sm.owner[slot]
}

// Owner resolves the master node owning key's slot.
func (sm *SlotMap) Owner(key []byte) *NodeInfo {
	return sm.owner[Slot(key)]
}

// SameSlot reports whether every key in keys hashes to the same slot,
// the predicate the worker uses to decide whether a multi-key command
// can be routed at all in cluster mode.
func SameSlot(keys [][]byte) bool {
	if len(keys) <= 1 {
		return true
	}
	first := Slot(keys[0])
	for _, k := range keys[1:] {
		if Slot(k) != first {
			return false
		}
	}
	return true
}

// Masters returns every master node participating in the slot map.
func (sm *SlotMap) Masters() []*NodeInfo {
	out := make([]*NodeInfo, len(sm.masters))
	copy(out, sm.masters)
	return out
}
