package authz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const membership = `
admins: [ops-bot]
members:
  alice: [acme, globex]
  bob: [acme]
`

func TestStaticCanAct(t *testing.T) {
	s, err := Parse([]byte(membership))
	require.NoError(t, err)

	tests := []struct {
		actor, company string
		want           bool
	}{
		{"alice", "acme", true},
		{"alice", "globex", true},
		{"bob", "acme", true},
		{"bob", "globex", false},
		{"mallory", "acme", false},
		{"ops-bot", "initech", true},
		{"", "acme", false},
		{"alice", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.CanAct(tt.actor, tt.company), "%s -> %s", tt.actor, tt.company)
	}
	assert.True(t, s.IsAdmin("ops-bot"))
	assert.False(t, s.IsAdmin("alice"))
	assert.False(t, s.IsAdmin(""))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "members.yaml")
	require.NoError(t, os.WriteFile(path, []byte(membership), 0o600))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acme", "globex"}, s.Members["alice"])

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadFiles(t *testing.T) {
	_, err := Parse([]byte("members: [not, a, map]"))
	assert.Error(t, err)
	_, err = Parse([]byte("members:\n  alice: ['']\n"))
	assert.Error(t, err)
}

func TestAllowAll(t *testing.T) {
	var a Authorizer = AllowAll{}
	assert.True(t, a.CanAct("anyone", "anything"))
	assert.True(t, a.IsAdmin("anyone"))
}
