// Package authz answers whether an actor may act on a company's resources.
package authz

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Authorizer is consulted by the coordinator before every mutation.
type Authorizer interface {
	CanAct(actorID, companyID string) bool
	// IsAdmin reports whether the actor may act for every company and
	// reach operator endpoints such as backups.
	IsAdmin(actorID string) bool
}

// AllowAll authorizes every actor for every company. Used when no
// membership file is configured.
type AllowAll struct{}

func (AllowAll) CanAct(string, string) bool {
	return true
}

func (AllowAll) IsAdmin(string) bool {
	return true
}

// Static is a fixed membership table loaded from YAML:
//
//	admins: [ops-bot]
//	members:
//	  alice: [acme, globex]
//	  bob: [acme]
type Static struct {
	Admins  []string            `yaml:"admins"`
	Members map[string][]string `yaml:"members"`
}

// LoadFile reads a Static table from path.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read membership file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a Static table.
func Parse(data []byte) (*Static, error) {
	var s Static
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse membership file: %w", err)
	}
	for actor, companies := range s.Members {
		if actor == "" {
			return nil, fmt.Errorf("membership entry with empty actor")
		}
		for _, c := range companies {
			if c == "" {
				return nil, fmt.Errorf("actor %q lists an empty company", actor)
			}
		}
	}
	return &s, nil
}

func (s *Static) CanAct(actorID, companyID string) bool {
	if actorID == "" || companyID == "" {
		return false
	}
	if s.IsAdmin(actorID) {
		return true
	}
	for _, c := range s.Members[actorID] {
		if c == companyID {
			return true
		}
	}
	return false
}

func (s *Static) IsAdmin(actorID string) bool {
	if actorID == "" {
		return false
	}
	for _, a := range s.Admins {
		if a == actorID {
			return true
		}
	}
	return false
}
