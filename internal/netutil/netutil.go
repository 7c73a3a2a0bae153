// Package netutil provides the IPv4 arithmetic used by the allocators:
// conversions between dotted-decimal strings and uint32, subnet parsing and
// overlap detection.
package netutil

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"zoneplane/internal/apperr"
)

// Subnet is an IPv4 block: base address plus prefix length.
type Subnet struct {
	Base   uint32
	Prefix int
}

// ParseIPv4 parses a dotted-decimal IPv4 address.
func ParseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return 0, apperr.Validation("invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, apperr.Validation("address %q is not IPv4", s)
	}
	return binary.BigEndian.Uint32(v4), nil
}

// FormatIPv4 renders v as dotted-decimal.
func FormatIPv4(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}

// ParseSubnet parses "a.b.c.d/len". The base must be the network address.
func ParseSubnet(s string) (Subnet, error) {
	addr, bits, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Subnet{}, apperr.Validation("invalid CIDR %q: missing prefix length", s)
	}
	base, err := ParseIPv4(addr)
	if err != nil {
		return Subnet{}, err
	}
	prefix, err := strconv.Atoi(bits)
	if err != nil || prefix < 0 || prefix > 32 {
		return Subnet{}, apperr.Validation("invalid CIDR %q: bad prefix length", s)
	}
	sn := Subnet{Base: base, Prefix: prefix}
	if base&^sn.Mask() != 0 {
		return Subnet{}, apperr.Validation("invalid CIDR %q: host bits set", s)
	}
	return sn, nil
}

// MustParseSubnet is ParseSubnet for literals in tests and defaults.
func MustParseSubnet(s string) Subnet {
	sn, err := ParseSubnet(s)
	if err != nil {
		panic(err)
	}
	return sn
}

// Mask returns the netmask as uint32.
func (s Subnet) Mask() uint32 {
	if s.Prefix == 0 {
		return 0
	}
	return ^uint32(0) << (32 - s.Prefix)
}

// Size is the number of addresses in the block.
func (s Subnet) Size() uint64 {
	return uint64(1) << (32 - s.Prefix)
}

// Broadcast is the last address of the block.
func (s Subnet) Broadcast() uint32 {
	return s.Base | ^s.Mask()
}

// Contains reports whether addr falls inside the block.
func (s Subnet) Contains(addr uint32) bool {
	return addr&s.Mask() == s.Base
}

// Overlaps reports whether two blocks share any address.
func (s Subnet) Overlaps(o Subnet) bool {
	return s.Base <= o.Broadcast() && o.Base <= s.Broadcast()
}

// Covers reports whether o lies entirely inside s.
func (s Subnet) Covers(o Subnet) bool {
	return s.Contains(o.Base) && s.Contains(o.Broadcast())
}

func (s Subnet) String() string {
	return fmt.Sprintf("%s/%d", FormatIPv4(s.Base), s.Prefix)
}

// CIDROverlaps checks two CIDR strings for overlap. Invalid input never
// overlaps.
func CIDROverlaps(a, b string) bool {
	sa, err := ParseSubnet(a)
	if err != nil {
		return false
	}
	sb, err := ParseSubnet(b)
	if err != nil {
		return false
	}
	return sa.Overlaps(sb)
}
