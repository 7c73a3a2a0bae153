package allocator

import (
	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
	"zoneplane/internal/netutil"
)

// NodeRecord is the allocator's view of an existing node in a zone.
type NodeRecord struct {
	ID      string
	Address uint32
	Status  models.Status
	Pending models.Op
	Bound   bool // worker or portal attached
}

// Holds reports whether the record keeps its address out of circulation:
// a bound node, a node whose deletion is queued, and an INACTIVE node that
// cannot be queued for update. DELETED records hold nothing.
func (r NodeRecord) Holds() bool {
	if r.Status == models.StatusDeleted {
		return false
	}
	return r.Bound || r.Pending == models.OpDelete || r.Status == models.StatusInactive
}

// Reusable reports whether the record is handed out again instead of
// minting a new node at the same address. A released node qualifies as soon
// as its endpoint is detached, before the reconciler confirms the teardown.
func (r NodeRecord) Reusable() bool {
	if r.Bound || r.Pending == models.OpDelete {
		return false
	}
	return r.Status == models.StatusActive || r.Status == models.StatusQueued
}

// AddressDecision is the result of NextAddress. ReuseID is set when an
// existing released node should be moved back to QUEUED instead of minting
// a new one.
type AddressDecision struct {
	Address uint32
	ReuseID string
}

// Addr returns the chosen address as dotted-decimal.
func (d AddressDecision) Addr() string { return netutil.FormatIPv4(d.Address) }

// Reuse reports whether an existing node is recycled.
func (d AddressDecision) Reuse() bool { return d.ReuseID != "" }

// NextAddress returns the lowest free host address of subnet. The network
// address, the broadcast address and the gateway are never returned.
func NextAddress(subnet netutil.Subnet, gateway uint32, nodes []NodeRecord) (AddressDecision, error) {
	if !subnet.Contains(gateway) {
		return AddressDecision{}, apperr.Validation("gateway %s is outside %s", netutil.FormatIPv4(gateway), subnet)
	}

	used := map[uint32]bool{gateway: true}
	reusable := make(map[uint32]string)
	for _, n := range nodes {
		if n.Holds() {
			used[n.Address] = true
			continue
		}
		if n.Reusable() {
			if _, seen := reusable[n.Address]; !seen {
				reusable[n.Address] = n.ID
			}
		}
	}

	if subnet.Prefix < 31 {
		last := subnet.Broadcast() - 1
		for addr := subnet.Base + 1; addr <= last; addr++ {
			if used[addr] {
				continue
			}
			return AddressDecision{Address: addr, ReuseID: reusable[addr]}, nil
		}
	}
	return AddressDecision{}, apperr.Exhausted("address space of %s exhausted", subnet)
}
