package models

import "time"

// Status is the lifecycle status shared by every resource kind.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusQueued   Status = "QUEUED"
	StatusDeleted  Status = "DELETED"
)

// Valid reports whether s is one of the four known literals.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusQueued, StatusDeleted:
		return true
	}
	return false
}

// Op is the operation that moved a resource into QUEUED.
type Op string

const (
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpEdit    Op = "edit"
	OpEnable  Op = "enable"
	OpDisable Op = "disable"
	OpDelete  Op = "delete"
)

// Kind tags a resource type. It is also the resource type stored on
// EventResource rows.
type Kind string

const (
	KindZone        Kind = "zone"
	KindNode        Kind = "node"
	KindWorker      Kind = "worker"
	KindPortal      Kind = "portal"
	KindTransponder Kind = "transponder"
)

// Kinds lists every resource kind in a stable order.
var Kinds = []Kind{KindZone, KindNode, KindWorker, KindPortal, KindTransponder}

// Lifecycle is embedded in every resource record.
type Lifecycle struct {
	Status   Status `json:"status"`
	Previous Status `json:"previous_status,omitempty"` // status before the pending operation
	Pending  Op     `json:"pending,omitempty"`         // operation awaiting the reconciler
}

// Zone is an isolated network segment with its own subnet.
type Zone struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Pool      string    `json:"pool"`
	Name      string    `json:"name"`
	CIDR      string    `json:"cidr"`
	Gateway   string    `json:"gateway"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Lifecycle
}

// Node is one allocated address within a zone. WorkerID and PortalID are
// mutually exclusive; both empty means the node is free.
type Node struct {
	ID        string    `json:"id"`
	ZoneID    string    `json:"zone_id"`
	CompanyID string    `json:"company_id"`
	Address   string    `json:"address"`
	WorkerID  string    `json:"worker_id,omitempty"`
	PortalID  string    `json:"portal_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Lifecycle
}

// Bound reports whether an endpoint is attached to the node.
func (n Node) Bound() bool {
	return n.WorkerID != "" || n.PortalID != ""
}

// Worker is a compute endpoint.
type Worker struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Lifecycle
}

// Portal is a reverse-proxy entry point published under Hostname.
type Portal struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Lifecycle
}

// Transponder (fiber) forwards Protocol/Port on a portal to TargetPort on a
// worker. Path only applies to http transponders.
type Transponder struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	PortalID   string    `json:"portal_id"`
	WorkerID   string    `json:"worker_id"`
	Protocol   string    `json:"protocol"`
	Port       int       `json:"port"`
	TargetPort int       `json:"target_port"`
	Path       string    `json:"path,omitempty"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Lifecycle
}

// Event is one immutable audit record of a state change.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	ActorID    string          `json:"actor_id"`
	CompanyID  string          `json:"company_id"`
	Payload    string          `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Resources  []EventResource `json:"resources"`
	Properties []EventProperty `json:"properties,omitempty"`
}

// EventResource links an event to a concrete resource.
type EventResource struct {
	Type Kind   `json:"type"`
	ID   string `json:"id"`
}

// EventProperty records the new value of a single changed field.
type EventProperty struct {
	Key   PropertyKey `json:"key"`
	Value string      `json:"value"`
}
