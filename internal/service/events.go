package service

import (
	"context"

	"zoneplane/internal/apperr"
	"zoneplane/internal/db"
	"zoneplane/internal/models"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// ListEvents returns the company's audit trail newest first, with linked
// resources and recorded properties.
func (c *Coordinator) ListEvents(ctx context.Context, actor string, q EventQuery) ([]models.Event, error) {
	if err := c.authorize(actor, q.CompanyID); err != nil {
		return nil, err
	}
	if q.Type != "" && !q.Type.Known() {
		return nil, apperr.Validation("unknown event type %q", q.Type)
	}
	if q.ResourceID != "" && q.ResourceType == "" {
		return nil, apperr.Validation("resource_id needs resource_type")
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultEventLimit
	case q.Limit > maxEventLimit:
		q.Limit = maxEventLimit
	}

	var events []models.Event
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		events, err = tx.ListEvents(ctx, db.EventFilter{
			CompanyID:    q.CompanyID,
			ResourceType: q.ResourceType,
			ResourceID:   q.ResourceID,
			Type:         q.Type,
			Limit:        q.Limit,
		})
		return err
	})
	return events, err
}
