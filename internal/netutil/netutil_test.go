package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneplane/internal/apperr"
)

func TestParseIPv4RoundTrip(t *testing.T) {
	v, err := ParseIPv4("10.0.1.9")
	require.NoError(t, err)
	assert.Equal(t, uint32(10<<24|1<<8|9), v)
	assert.Equal(t, "10.0.1.9", FormatIPv4(v))

	_, err = ParseIPv4("10.0.1")
	assert.True(t, apperr.IsValidation(err))
	_, err = ParseIPv4("2001:db8::1")
	assert.True(t, apperr.IsValidation(err))
}

func TestParseSubnet(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "slash 29", in: "10.0.1.8/29", want: "10.0.1.8/29"},
		{name: "slash 32", in: "192.168.0.7/32", want: "192.168.0.7/32"},
		{name: "whole space", in: "0.0.0.0/0", want: "0.0.0.0/0"},
		{name: "host bits set", in: "10.0.1.9/29", wantErr: true},
		{name: "missing prefix", in: "10.0.1.0", wantErr: true},
		{name: "prefix too long", in: "10.0.1.0/33", wantErr: true},
		{name: "garbage", in: "not-a-cidr/8", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSubnet(tt.in)
			if tt.wantErr {
				assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestSubnetBounds(t *testing.T) {
	sn := MustParseSubnet("10.0.1.0/29")
	assert.Equal(t, uint64(8), sn.Size())
	assert.Equal(t, "10.0.1.7", FormatIPv4(sn.Broadcast()))
	assert.True(t, sn.Contains(MustIP(t, "10.0.1.7")))
	assert.False(t, sn.Contains(MustIP(t, "10.0.1.8")))

	all := MustParseSubnet("0.0.0.0/0")
	assert.Equal(t, uint32(0), all.Mask())
	assert.Equal(t, "255.255.255.255", FormatIPv4(all.Broadcast()))
}

func TestCIDROverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "exact same", a: "10.0.0.0/24", b: "10.0.0.0/24", want: true},
		{name: "first contains second", a: "10.0.0.0/16", b: "10.0.1.0/24", want: true},
		{name: "second contains first", a: "10.0.1.0/24", b: "10.0.0.0/16", want: true},
		{name: "adjacent blocks", a: "10.0.1.0/29", b: "10.0.1.8/29", want: false},
		{name: "partial via larger block", a: "10.0.0.0/23", b: "10.0.1.0/24", want: true},
		{name: "different networks", a: "10.0.0.0/16", b: "192.168.0.0/16", want: false},
		{name: "invalid input", a: "invalid", b: "10.0.0.0/24", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CIDROverlaps(tt.a, tt.b))
		})
	}
}

func TestCovers(t *testing.T) {
	pool := MustParseSubnet("10.0.0.0/8")
	assert.True(t, pool.Covers(MustParseSubnet("10.255.255.248/29")))
	assert.False(t, pool.Covers(MustParseSubnet("11.0.0.0/29")))
	assert.False(t, MustParseSubnet("10.0.1.0/29").Covers(pool))
}

func MustIP(t *testing.T, s string) uint32 {
	t.Helper()
	v, err := ParseIPv4(s)
	require.NoError(t, err)
	return v
}
