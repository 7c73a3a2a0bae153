// Package audit builds the append-only change log. A mutation describes its
// event, the resources it touched and the fields it changed in one Change,
// and Record writes all three parts through the caller's unit of work so the
// audit trail commits or rolls back together with the state change.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
)

// Writer persists a complete event. The store's transaction implements it.
type Writer interface {
	AppendEvent(ctx context.Context, ev models.Event) error
}

// Change is an event under construction.
type Change struct {
	Type       models.EventType
	ActorID    string
	CompanyID  string
	Payload    string
	Resources  []models.EventResource
	Properties []models.EventProperty
}

// NewChange starts a change of the given type.
func NewChange(typ models.EventType, actorID, companyID string) *Change {
	return &Change{Type: typ, ActorID: actorID, CompanyID: companyID}
}

// Link attaches a resource reference. Linking the same resource twice is a
// no-op.
func (c *Change) Link(kind models.Kind, id string) *Change {
	for _, r := range c.Resources {
		if r.Type == kind && r.ID == id {
			return c
		}
	}
	c.Resources = append(c.Resources, models.EventResource{Type: kind, ID: id})
	return c
}

// Set records the new value of a changed field.
func (c *Change) Set(key models.PropertyKey, value string) *Change {
	c.Properties = append(c.Properties, models.EventProperty{Key: key, Value: value})
	return c
}

// WithPayload attaches a free-form payload.
func (c *Change) WithPayload(p string) *Change {
	c.Payload = p
	return c
}

// Validate checks the contract every recorded event must satisfy.
func (c *Change) Validate() error {
	if !c.Type.Known() {
		return apperr.Validation("unknown event type %q", c.Type)
	}
	if c.ActorID == "" {
		return apperr.Validation("event %s has no actor", c.Type)
	}
	if len(c.Resources) == 0 {
		return apperr.Validation("event %s links no resource", c.Type)
	}
	for _, r := range c.Resources {
		if r.ID == "" {
			return apperr.Validation("event %s links a %s without id", c.Type, r.Type)
		}
	}
	return nil
}

// Record validates c, stamps it and writes it through w.
func Record(ctx context.Context, w Writer, c *Change, now time.Time) (models.Event, error) {
	if err := c.Validate(); err != nil {
		return models.Event{}, err
	}
	ev := models.Event{
		ID:         uuid.NewString(),
		Type:       c.Type,
		ActorID:    c.ActorID,
		CompanyID:  c.CompanyID,
		Payload:    c.Payload,
		CreatedAt:  now.UTC(),
		Resources:  append([]models.EventResource(nil), c.Resources...),
		Properties: append([]models.EventProperty(nil), c.Properties...),
	}
	if err := w.AppendEvent(ctx, ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}
