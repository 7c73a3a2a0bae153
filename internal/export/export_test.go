package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
	"zoneplane/internal/service"
)

var stamp = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeReader struct {
	gotActor, gotCompany string
}

func (f *fakeReader) ListZones(_ context.Context, actor string, opts service.ListOptions) ([]models.Zone, error) {
	f.gotActor, f.gotCompany = actor, opts.CompanyID
	return []models.Zone{{
		ID: "z1", Name: "edge", Pool: "default", CIDR: "10.0.1.0/29", Gateway: "10.0.1.1",
		CreatedAt: stamp, UpdatedAt: stamp, Lifecycle: models.Lifecycle{Status: models.StatusActive},
	}}, nil
}

func (f *fakeReader) ListNodes(context.Context, string, service.NodeQuery) ([]models.Node, error) {
	return []models.Node{{ID: "n1", ZoneID: "z1", Address: "10.0.1.2", WorkerID: "w1", UpdatedAt: stamp,
		Lifecycle: models.Lifecycle{Status: models.StatusQueued, Previous: models.StatusActive, Pending: models.OpUpdate}}}, nil
}

func (f *fakeReader) ListEvents(context.Context, string, service.EventQuery) ([]models.Event, error) {
	return []models.Event{{
		ID: "e1", Type: models.EventNodeAssignWorker, ActorID: "alice", CreatedAt: stamp,
		Resources:  []models.EventResource{{Type: models.KindNode, ID: "n1"}, {Type: models.KindWorker, ID: "w1"}},
		Properties: []models.EventProperty{{Key: models.PropNewAddress, Value: "10.0.1.2"}},
	}}, nil
}

func TestBuild(t *testing.T) {
	r := &fakeReader{}
	ctx := context.Background()

	zones, err := Build(ctx, r, "zones", "alice", "acme")
	require.NoError(t, err)
	assert.Equal(t, "alice", r.gotActor)
	assert.Equal(t, "acme", r.gotCompany)
	require.Len(t, zones.Rows, 1)
	assert.Equal(t, []string{"z1", "edge", "default", "10.0.1.0/29", "10.0.1.1", "ACTIVE", "", "2026-10-16T12:00:00Z", "2026-10-16T12:00:00Z"}, zones.Rows[0])

	events, err := Build(ctx, r, "events", "alice", "acme")
	require.NoError(t, err)
	assert.Equal(t, "node:n1; worker:w1", events.Rows[0][3])
	assert.Equal(t, "NEW_ADDRESS=10.0.1.2", events.Rows[0][4])

	_, err = Build(ctx, r, "racks", "alice", "acme")
	assert.True(t, apperr.IsValidation(err))
}

func TestWriteCSV(t *testing.T) {
	tbl, err := Build(context.Background(), &fakeReader{}, "nodes", "alice", "acme")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, CSV, tbl))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, tbl.Header, records[0])
	assert.Equal(t, []string{"n1", "z1", "10.0.1.2", "w1", "", "QUEUED", "update", "2026-10-16T12:00:00Z"}, records[1])
}

func TestWriteXLSX(t *testing.T) {
	tbl, err := Build(context.Background(), &fakeReader{}, "zones", "alice", "acme")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, XLSX, tbl))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("zones")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, tbl.Header, rows[0])
	assert.Equal(t, "10.0.1.0/29", rows[1][3])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, CSV, f)
	f, err = ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, XLSX, f)
	assert.Equal(t, "zones.xlsx", Table{Name: "zones"}.Filename(f))
	_, err = ParseFormat("pdf")
	assert.True(t, apperr.IsValidation(err))
}
