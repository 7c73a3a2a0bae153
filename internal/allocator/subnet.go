// Package allocator carves zone subnets out of an address pool and picks
// free addresses inside a zone. Everything here is a pure function of its
// inputs: callers pass the current snapshot of sibling subnets or nodes and
// persist the decision themselves.
package allocator

import (
	"math/bits"
	"sort"

	"zoneplane/internal/apperr"
	"zoneplane/internal/netutil"
)

const (
	// DefaultZoneSize is the minimum address count of a new zone.
	DefaultZoneSize = 8
	// DefaultSeed anchors the first zone of an empty pool.
	DefaultSeed = "10.0.1.0"
	// DefaultLimit bounds every pool.
	DefaultLimit = "10.0.0.0/8"

	minZoneSize = 4 // network, gateway, one host, broadcast
)

// SubnetAllocator is the immutable configuration of a bump allocator.
type SubnetAllocator struct {
	Seed  uint32
	Limit netutil.Subnet
	Size  int // default size hint when the caller passes 0
}

// NewSubnetAllocator validates seed and limit.
func NewSubnetAllocator(seed, limit string, size int) (SubnetAllocator, error) {
	s, err := netutil.ParseIPv4(seed)
	if err != nil {
		return SubnetAllocator{}, err
	}
	l, err := netutil.ParseSubnet(limit)
	if err != nil {
		return SubnetAllocator{}, err
	}
	if !l.Contains(s) {
		return SubnetAllocator{}, apperr.Validation("seed %s is outside limit %s", seed, limit)
	}
	if size == 0 {
		size = DefaultZoneSize
	}
	if _, err := PrefixForSize(size); err != nil {
		return SubnetAllocator{}, err
	}
	return SubnetAllocator{Seed: s, Limit: l, Size: size}, nil
}

// DefaultSubnetAllocator seeds at 10.0.1.0 inside 10.0.0.0/8.
func DefaultSubnetAllocator() SubnetAllocator {
	a, err := NewSubnetAllocator(DefaultSeed, DefaultLimit, DefaultZoneSize)
	if err != nil {
		panic(err)
	}
	return a
}

// SubnetAllocation is the result of NextSubnet.
type SubnetAllocation struct {
	Subnet  netutil.Subnet
	Gateway uint32
}

// CIDR returns the block as "a.b.c.d/len".
func (a SubnetAllocation) CIDR() string { return a.Subnet.String() }

// GatewayAddr returns the gateway as dotted-decimal.
func (a SubnetAllocation) GatewayAddr() string { return netutil.FormatIPv4(a.Gateway) }

// PrefixForSize returns 32 - ceil(log2(size)).
func PrefixForSize(size int) (int, error) {
	if size < minZoneSize {
		return 0, apperr.Validation("zone size %d is below the minimum of %d", size, minZoneSize)
	}
	hostBits := bits.Len(uint(size - 1))
	if hostBits > 32 {
		return 0, apperr.Validation("zone size %d exceeds the IPv4 space", size)
	}
	return 32 - hostBits, nil
}

// NextSubnet uses the package defaults.
func NextSubnet(existing []netutil.Subnet, size int) (SubnetAllocation, error) {
	return DefaultSubnetAllocator().Next(existing, size)
}

// Next returns the block following the numerically last existing block.
// existing must hold every non-deleted subnet of the pool. Gaps left by
// deleted zones are never reused.
func (a SubnetAllocator) Next(existing []netutil.Subnet, size int) (SubnetAllocation, error) {
	if size == 0 {
		size = a.Size
	}
	prefix, err := PrefixForSize(size)
	if err != nil {
		return SubnetAllocation{}, err
	}
	blockSize := uint64(1) << (32 - prefix)

	sorted := make([]netutil.Subnet, len(existing))
	copy(sorted, existing)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	next := uint64(a.Seed)
	if len(sorted) > 0 {
		last := sorted[len(sorted)-1]
		next = uint64(last.Base) + last.Size()
	}
	next = alignUp(next, blockSize)

	// Blocks not produced by this allocator may still reach past the last
	// base; step over them.
	for moved := true; moved; {
		moved = false
		for _, sn := range sorted {
			if next <= uint64(sn.Broadcast()) && uint64(sn.Base) < next+blockSize {
				next = alignUp(uint64(sn.Broadcast())+1, blockSize)
				moved = true
			}
		}
	}

	if next+blockSize-1 > uint64(^uint32(0)) {
		return SubnetAllocation{}, apperr.Exhausted("no /%d block left after %s", prefix, netutil.FormatIPv4(uint32(next-1)))
	}
	sn := netutil.Subnet{Base: uint32(next), Prefix: prefix}
	if !a.Limit.Covers(sn) {
		return SubnetAllocation{}, apperr.Exhausted("pool limit %s exhausted: next block %s does not fit", a.Limit, sn)
	}
	return SubnetAllocation{Subnet: sn, Gateway: sn.Base + 1}, nil
}

func alignUp(v, size uint64) uint64 {
	return (v + size - 1) &^ (size - 1)
}
