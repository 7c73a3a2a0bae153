// Package lifecycle is the state machine shared by every resource kind.
//
// API mutations never apply ACTIVE or DELETED directly: an operation with an
// external effect moves the record to QUEUED and remembers the status it came
// from and the operation that is pending. The reconciler later settles the
// record: success applies the operation's target status, failure restores
// the previous one. DELETED is terminal.
package lifecycle

import (
	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
)

// rule describes one operation: the statuses it may start from and whether
// it queues the record for the reconciler.
type rule struct {
	from   []models.Status
	queues bool
	target models.Status // status applied when the reconciler confirms
}

var rules = map[models.Op]rule{
	models.OpCreate:  {from: nil, queues: true, target: models.StatusActive},
	models.OpUpdate:  {from: []models.Status{models.StatusActive}, queues: true, target: models.StatusActive},
	models.OpEdit:    {from: []models.Status{models.StatusActive, models.StatusInactive}},
	models.OpEnable:  {from: []models.Status{models.StatusInactive}, queues: true, target: models.StatusActive},
	models.OpDisable: {from: []models.Status{models.StatusActive}, queues: true, target: models.StatusInactive},
	models.OpDelete:  {from: []models.Status{models.StatusActive, models.StatusInactive}, queues: true, target: models.StatusDeleted},
}

// kindOps lists the operations each kind supports.
var kindOps = map[models.Kind][]models.Op{
	models.KindZone:        {models.OpCreate, models.OpEdit, models.OpDelete},
	models.KindNode:        {models.OpCreate, models.OpUpdate, models.OpDelete},
	models.KindWorker:      {models.OpCreate, models.OpUpdate, models.OpEdit, models.OpEnable, models.OpDisable, models.OpDelete},
	models.KindPortal:      {models.OpCreate, models.OpUpdate, models.OpEdit, models.OpEnable, models.OpDisable, models.OpDelete},
	models.KindTransponder: {models.OpCreate, models.OpUpdate, models.OpEnable, models.OpDisable, models.OpDelete},
}

// Supports reports whether kind accepts op.
func Supports(kind models.Kind, op models.Op) bool {
	for _, o := range kindOps[kind] {
		if o == op {
			return true
		}
	}
	return false
}

// Initial is the lifecycle of a record that is being created.
func Initial(kind models.Kind) (models.Lifecycle, error) {
	if !Supports(kind, models.OpCreate) {
		return models.Lifecycle{}, apperr.Validation("unknown resource kind %q", kind)
	}
	return models.Lifecycle{Status: models.StatusQueued, Pending: models.OpCreate}, nil
}

// Begin validates op against the current lifecycle of a record of the given
// kind and returns the lifecycle to persist. Edits keep the status; every
// other operation queues the record.
func Begin(kind models.Kind, cur models.Lifecycle, op models.Op) (models.Lifecycle, error) {
	if op == models.OpCreate {
		return models.Lifecycle{}, apperr.Validation("use Initial for creation")
	}
	if !Supports(kind, op) {
		return models.Lifecycle{}, apperr.Validation("%s does not support %s", kind, op)
	}
	r := rules[op]
	if !allowed(r.from, cur.Status) {
		return models.Lifecycle{}, notAllowed(kind, cur.Status, op)
	}
	if !r.queues {
		return cur, nil
	}
	return models.Lifecycle{Status: models.StatusQueued, Previous: cur.Status, Pending: op}, nil
}

// Settle applies the reconciler's verdict to a QUEUED record. A failed
// creation has nothing to roll back to and ends DELETED.
func Settle(cur models.Lifecycle, success bool) (models.Lifecycle, error) {
	if cur.Status != models.StatusQueued {
		return models.Lifecycle{}, apperr.Precondition("not_queued", "cannot settle a %s resource", cur.Status)
	}
	r, ok := rules[cur.Pending]
	if !ok || !r.queues {
		return models.Lifecycle{}, apperr.Precondition("no_pending_operation", "queued resource has no pending operation")
	}
	if success {
		return models.Lifecycle{Status: r.target}, nil
	}
	if cur.Previous == "" {
		return models.Lifecycle{Status: models.StatusDeleted}, nil
	}
	return models.Lifecycle{Status: cur.Previous}, nil
}

// RequireActive rejects references to resources that are not ACTIVE, e.g.
// assigning a node in a zone that is still converging.
func RequireActive(kind models.Kind, id string, status models.Status) error {
	if status == models.StatusActive {
		return nil
	}
	return apperr.Precondition(string(kind)+"_not_active", "%s %q is %s, not ACTIVE", kind, id, status)
}

// RequireUsable accepts ACTIVE resources and resources whose creation is
// still pending. An endpoint created in the same breath as its assignment
// is usable before the reconciler catches up.
func RequireUsable(kind models.Kind, id string, lc models.Lifecycle) error {
	if lc.Status == models.StatusActive || (lc.Status == models.StatusQueued && lc.Pending == models.OpCreate) {
		return nil
	}
	return apperr.Precondition(string(kind)+"_not_usable", "%s %q is %s", kind, id, lc.Status)
}

// Guard returns a precondition error named reason when blocked is true.
func Guard(blocked bool, reason, format string, args ...any) error {
	if !blocked {
		return nil
	}
	return apperr.Precondition(reason, format, args...)
}

// Visible reports whether a record shows up in a listing.
func Visible(status models.Status, includeDeleted bool) bool {
	return includeDeleted || status != models.StatusDeleted
}

func allowed(from []models.Status, s models.Status) bool {
	for _, f := range from {
		if f == s {
			return true
		}
	}
	return false
}

func notAllowed(kind models.Kind, s models.Status, op models.Op) error {
	switch s {
	case models.StatusDeleted:
		return apperr.Precondition("deleted", "%s is deleted", kind)
	case models.StatusQueued:
		return apperr.Precondition("converging", "%s has a pending change and cannot %s until it converges", kind, op)
	}
	return apperr.Precondition("invalid_transition", "cannot %s a %s %s", op, s, kind)
}
