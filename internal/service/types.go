package service

import "zoneplane/internal/models"

// ListOptions narrows listings. CompanyID is required; DELETED records are
// only returned with IncludeDeleted.
type ListOptions struct {
	CompanyID      string        `json:"company_id"`
	Status         models.Status `json:"status,omitempty"`
	IncludeDeleted bool          `json:"include_deleted,omitempty"`
}

type ZoneInput struct {
	CompanyID string `json:"company_id"`
	Pool      string `json:"pool,omitempty"`
	Name      string `json:"name"`
	Size      int    `json:"size,omitempty"` // minimum address count
}

type WorkerInput struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

type PortalInput struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Hostname  string `json:"hostname"`
}

// PortalPatch changes the fields that are set.
type PortalPatch struct {
	Name     *string `json:"name,omitempty"`
	Hostname *string `json:"hostname,omitempty"`
}

type TransponderInput struct {
	CompanyID  string `json:"company_id"`
	PortalID   string `json:"portal_id"`
	WorkerID   string `json:"worker_id"`
	Protocol   string `json:"protocol"`
	Port       int    `json:"port"`
	TargetPort int    `json:"target_port"`
	Path       string `json:"path,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}

// TransponderPatch changes the fields that are set.
type TransponderPatch struct {
	WorkerID   *string `json:"worker_id,omitempty"`
	Protocol   *string `json:"protocol,omitempty"`
	Port       *int    `json:"port,omitempty"`
	TargetPort *int    `json:"target_port,omitempty"`
	Path       *string `json:"path,omitempty"`
	Priority   *int    `json:"priority,omitempty"`
}

// NodeQuery narrows ListNodes.
type NodeQuery struct {
	ListOptions
	ZoneID   string `json:"zone_id,omitempty"`
	WorkerID string `json:"worker_id,omitempty"`
	PortalID string `json:"portal_id,omitempty"`
}

// TransponderQuery narrows ListTransponders.
type TransponderQuery struct {
	ListOptions
	PortalID string `json:"portal_id,omitempty"`
	WorkerID string `json:"worker_id,omitempty"`
}

// EventQuery narrows ListEvents.
type EventQuery struct {
	CompanyID    string           `json:"company_id"`
	ResourceType models.Kind      `json:"resource_type,omitempty"`
	ResourceID   string           `json:"resource_id,omitempty"`
	Type         models.EventType `json:"type,omitempty"`
	Limit        int              `json:"limit,omitempty"`
}

// Assignment is the result of binding an endpoint to a zone.
type Assignment struct {
	Node   models.Node `json:"node"`
	Reused bool        `json:"reused"`
	// Released is the node the endpoint left when it moved zones.
	Released *models.Node `json:"released,omitempty"`
}

// QueuedRef identifies a record awaiting the reconciler.
type QueuedRef struct {
	Kind      models.Kind   `json:"kind"`
	ID        string        `json:"id"`
	CompanyID string        `json:"company_id"`
	Pending   models.Op     `json:"pending"`
	Previous  models.Status `json:"previous_status,omitempty"`
}
