// Package export renders zones, nodes and the audit trail as CSV or XLSX
// tables for download.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
	"zoneplane/internal/service"
)

// Format is an output encoding.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

// ParseFormat accepts "csv" and "xlsx"; empty means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", CSV:
		return CSV, nil
	case XLSX:
		return XLSX, nil
	}
	return "", apperr.Validation("unknown export format %q (csv or xlsx)", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Table is a named grid of strings with a header row.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Filename is the suggested download name for t in format f.
func (t Table) Filename(f Format) string {
	return t.Name + "." + string(f)
}

// Reader is the part of the coordinator exports read from.
type Reader interface {
	ListZones(ctx context.Context, actor string, opts service.ListOptions) ([]models.Zone, error)
	ListNodes(ctx context.Context, actor string, q service.NodeQuery) ([]models.Node, error)
	ListEvents(ctx context.Context, actor string, q service.EventQuery) ([]models.Event, error)
}

// Datasets lists the exportable tables.
var Datasets = []string{"zones", "nodes", "events"}

// Build loads dataset for company on behalf of actor.
func Build(ctx context.Context, r Reader, dataset, actor, company string) (Table, error) {
	opts := service.ListOptions{CompanyID: company, IncludeDeleted: true}
	switch dataset {
	case "zones":
		zones, err := r.ListZones(ctx, actor, opts)
		return zoneTable(zones), err
	case "nodes":
		nodes, err := r.ListNodes(ctx, actor, service.NodeQuery{ListOptions: opts})
		return nodeTable(nodes), err
	case "events":
		events, err := r.ListEvents(ctx, actor, service.EventQuery{CompanyID: company, Limit: 1000})
		return eventTable(events), err
	}
	return Table{}, apperr.Validation("unknown dataset %q (one of %s)", dataset, strings.Join(Datasets, ", "))
}

func zoneTable(zones []models.Zone) Table {
	t := Table{Name: "zones", Header: []string{"ID", "Name", "Pool", "CIDR", "Gateway", "Status", "Pending", "Created", "Updated"}}
	for _, z := range zones {
		t.Rows = append(t.Rows, []string{
			z.ID, z.Name, z.Pool, z.CIDR, z.Gateway, string(z.Status), string(z.Pending),
			z.CreatedAt.Format(time.RFC3339), z.UpdatedAt.Format(time.RFC3339),
		})
	}
	return t
}

func nodeTable(nodes []models.Node) Table {
	t := Table{Name: "nodes", Header: []string{"ID", "Zone", "Address", "Worker", "Portal", "Status", "Pending", "Updated"}}
	for _, n := range nodes {
		t.Rows = append(t.Rows, []string{
			n.ID, n.ZoneID, n.Address, n.WorkerID, n.PortalID, string(n.Status), string(n.Pending),
			n.UpdatedAt.Format(time.RFC3339),
		})
	}
	return t
}

func eventTable(events []models.Event) Table {
	t := Table{Name: "events", Header: []string{"ID", "Type", "Actor", "Resources", "Properties", "Payload", "Created"}}
	for _, ev := range events {
		var res, props []string
		for _, r := range ev.Resources {
			res = append(res, string(r.Type)+":"+r.ID)
		}
		for _, p := range ev.Properties {
			props = append(props, string(p.Key)+"="+p.Value)
		}
		t.Rows = append(t.Rows, []string{
			ev.ID, string(ev.Type), ev.ActorID, strings.Join(res, "; "), strings.Join(props, "; "), ev.Payload,
			ev.CreatedAt.Format(time.RFC3339),
		})
	}
	return t
}

// Write encodes t to w in format f.
func Write(w io.Writer, f Format, t Table) error {
	if f == XLSX {
		return WriteXLSX(w, t)
	}
	return WriteCSV(w, t)
}

// WriteCSV writes t as CSV with a header row.
func WriteCSV(w io.Writer, t Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return err
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	return writer.Error()
}

// WriteXLSX writes t as a single-sheet workbook with a bold, frozen header.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.Name
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	if len(t.Header) > 0 {
		bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return err
		}
		last, err := excelize.CoordinatesToCellName(len(t.Header), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
			return err
		}
		lastCol, err := excelize.ColumnNumberToName(len(t.Header))
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, "A", lastCol, 20); err != nil {
			return err
		}
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
		}); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheet, cell, &cells)
}
