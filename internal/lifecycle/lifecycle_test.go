package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
)

var (
	active   = models.Lifecycle{Status: models.StatusActive}
	inactive = models.Lifecycle{Status: models.StatusInactive}
	deleted  = models.Lifecycle{Status: models.StatusDeleted}
)

func TestInitialQueuesEveryKind(t *testing.T) {
	for _, k := range models.Kinds {
		lc, err := Initial(k)
		require.NoError(t, err, "kind %s", k)
		assert.Equal(t, models.StatusQueued, lc.Status)
		assert.Equal(t, models.OpCreate, lc.Pending)
		assert.Empty(t, lc.Previous)
	}
	_, err := Initial("gizmo")
	assert.True(t, apperr.IsValidation(err))
}

func TestBegin(t *testing.T) {
	tests := []struct {
		name       string
		kind       models.Kind
		cur        models.Lifecycle
		op         models.Op
		wantStatus models.Status
		wantReason string
	}{
		{name: "update active worker queues", kind: models.KindWorker, cur: active, op: models.OpUpdate, wantStatus: models.StatusQueued},
		{name: "update inactive worker rejected", kind: models.KindWorker, cur: inactive, op: models.OpUpdate, wantReason: "invalid_transition"},
		{name: "delete active zone queues", kind: models.KindZone, cur: active, op: models.OpDelete, wantStatus: models.StatusQueued},
		{name: "delete inactive portal queues", kind: models.KindPortal, cur: inactive, op: models.OpDelete, wantStatus: models.StatusQueued},
		{name: "delete deleted rejected", kind: models.KindZone, cur: deleted, op: models.OpDelete, wantReason: "deleted"},
		{name: "update queued rejected", kind: models.KindTransponder, cur: models.Lifecycle{Status: models.StatusQueued, Pending: models.OpCreate}, op: models.OpUpdate, wantReason: "converging"},
		{name: "edit keeps status", kind: models.KindZone, cur: active, op: models.OpEdit, wantStatus: models.StatusActive},
		{name: "edit inactive portal keeps status", kind: models.KindPortal, cur: inactive, op: models.OpEdit, wantStatus: models.StatusInactive},
		{name: "disable active", kind: models.KindTransponder, cur: active, op: models.OpDisable, wantStatus: models.StatusQueued},
		{name: "enable inactive", kind: models.KindWorker, cur: inactive, op: models.OpEnable, wantStatus: models.StatusQueued},
		{name: "enable active rejected", kind: models.KindWorker, cur: active, op: models.OpEnable, wantReason: "invalid_transition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Begin(tt.kind, tt.cur, tt.op)
			if tt.wantReason != "" {
				require.Error(t, err)
				assert.True(t, apperr.IsPrecondition(err))
				assert.Equal(t, tt.wantReason, apperr.ReasonOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			if got.Status == models.StatusQueued {
				assert.Equal(t, tt.cur.Status, got.Previous)
				assert.Equal(t, tt.op, got.Pending)
			}
		})
	}
}

func TestBeginUnsupportedOperation(t *testing.T) {
	_, err := Begin(models.KindZone, active, models.OpDisable)
	assert.True(t, apperr.IsValidation(err))
	_, err = Begin(models.KindNode, active, models.OpEdit)
	assert.True(t, apperr.IsValidation(err))
	_, err = Begin(models.KindNode, active, models.OpCreate)
	assert.True(t, apperr.IsValidation(err))
}

func TestNoDirectDeletion(t *testing.T) {
	for _, k := range models.Kinds {
		for _, op := range []models.Op{models.OpUpdate, models.OpEdit, models.OpEnable, models.OpDisable, models.OpDelete} {
			for _, cur := range []models.Lifecycle{active, inactive} {
				got, err := Begin(k, cur, op)
				if err != nil {
					continue
				}
				assert.NotEqual(t, models.StatusDeleted, got.Status, "%s %s from %s", k, op, cur.Status)
				if cur.Status != models.StatusActive {
					assert.NotEqual(t, models.StatusActive, got.Status, "%s %s activated directly", k, op)
				}
			}
		}
	}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name    string
		pending models.Op
		prev    models.Status
		success bool
		want    models.Status
	}{
		{name: "create converged", pending: models.OpCreate, success: true, want: models.StatusActive},
		{name: "create failed", pending: models.OpCreate, success: false, want: models.StatusDeleted},
		{name: "update converged", pending: models.OpUpdate, prev: models.StatusActive, success: true, want: models.StatusActive},
		{name: "delete converged", pending: models.OpDelete, prev: models.StatusActive, success: true, want: models.StatusDeleted},
		{name: "delete rolled back", pending: models.OpDelete, prev: models.StatusInactive, success: false, want: models.StatusInactive},
		{name: "disable converged", pending: models.OpDisable, prev: models.StatusActive, success: true, want: models.StatusInactive},
		{name: "enable rolled back", pending: models.OpEnable, prev: models.StatusInactive, success: false, want: models.StatusInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := models.Lifecycle{Status: models.StatusQueued, Previous: tt.prev, Pending: tt.pending}
			got, err := Settle(cur, tt.success)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Empty(t, got.Pending)
			assert.Empty(t, got.Previous)
		})
	}
}

func TestSettleRequiresQueued(t *testing.T) {
	_, err := Settle(active, true)
	assert.Equal(t, "not_queued", apperr.ReasonOf(err))
	_, err = Settle(deleted, false)
	assert.True(t, apperr.IsPrecondition(err))
	_, err = Settle(models.Lifecycle{Status: models.StatusQueued}, true)
	assert.Equal(t, "no_pending_operation", apperr.ReasonOf(err))
}

func TestRequireHelpers(t *testing.T) {
	assert.NoError(t, RequireActive(models.KindZone, "z", models.StatusActive))
	err := RequireActive(models.KindZone, "z", models.StatusQueued)
	assert.Equal(t, "zone_not_active", apperr.ReasonOf(err))

	assert.NoError(t, RequireUsable(models.KindWorker, "w", models.Lifecycle{Status: models.StatusQueued, Pending: models.OpCreate}))
	err = RequireUsable(models.KindWorker, "w", models.Lifecycle{Status: models.StatusQueued, Pending: models.OpDelete, Previous: models.StatusActive})
	assert.Equal(t, "worker_not_usable", apperr.ReasonOf(err))

	assert.NoError(t, Guard(false, "x", "never"))
	assert.Equal(t, "zone_has_nodes", apperr.ReasonOf(Guard(true, "zone_has_nodes", "zone has %d nodes", 2)))

	assert.False(t, Visible(models.StatusDeleted, false))
	assert.True(t, Visible(models.StatusDeleted, true))
	assert.True(t, Visible(models.StatusQueued, false))
}
