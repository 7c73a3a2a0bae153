package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
	"zoneplane/internal/netutil"
)

// Filter narrows list queries. DELETED rows are skipped unless
// IncludeDeleted is set or Status asks for them explicitly. Fields that do
// not apply to a table are ignored.
type Filter struct {
	CompanyID      string
	Status         models.Status
	IncludeDeleted bool

	Pool     string // zones
	ZoneID   string // nodes
	WorkerID string // nodes, transponders
	PortalID string // nodes, transponders
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (f Filter) where() *where {
	w := &where{}
	if f.CompanyID != "" {
		w.add("company_id = ?", f.CompanyID)
	}
	switch {
	case f.Status != "":
		w.add("status = ?", string(f.Status))
	case !f.IncludeDeleted:
		w.add("status != ?", string(models.StatusDeleted))
	}
	return w
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func affected(res sql.Result, kind models.Kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(string(kind), id)
	}
	return nil
}

func notFound(err error, kind models.Kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(string(kind), id)
	}
	return err
}

// ---------------------------------------------------------------------------
// Zones
// ---------------------------------------------------------------------------

const zoneColumns = `id, company_id, pool, name, network, prefix, gateway, status, previous_status, pending, created_at, updated_at`

func scanZone(sc scanner) (models.Zone, error) {
	var z models.Zone
	var network, gateway int64
	var prefix int
	err := sc.Scan(&z.ID, &z.CompanyID, &z.Pool, &z.Name, &network, &prefix, &gateway,
		&z.Status, &z.Previous, &z.Pending, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return z, err
	}
	z.CIDR = netutil.Subnet{Base: uint32(network), Prefix: prefix}.String()
	z.Gateway = netutil.FormatIPv4(uint32(gateway))
	return z, nil
}

// ListZones returns zones ordered by network address.
func (t *Tx) ListZones(ctx context.Context, f Filter) ([]models.Zone, error) {
	w := f.where()
	if f.Pool != "" {
		w.add("pool = ?", f.Pool)
	}
	rows, err := t.tx.QueryContext(ctx, "SELECT "+zoneColumns+" FROM zones"+w.String()+" ORDER BY network", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []models.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// ZoneSubnets returns the subnets of every non-deleted zone in pool.
func (t *Tx) ZoneSubnets(ctx context.Context, pool string) ([]netutil.Subnet, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT network, prefix FROM zones WHERE pool = ? AND status != ?", pool, string(models.StatusDeleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []netutil.Subnet
	for rows.Next() {
		var network int64
		var prefix int
		if err := rows.Scan(&network, &prefix); err != nil {
			return nil, err
		}
		out = append(out, netutil.Subnet{Base: uint32(network), Prefix: prefix})
	}
	return out, rows.Err()
}

// GetZone retrieves a single zone by ID, whatever its status.
func (t *Tx) GetZone(ctx context.Context, id string) (models.Zone, error) {
	z, err := scanZone(t.tx.QueryRowContext(ctx, "SELECT "+zoneColumns+" FROM zones WHERE id = ?", id))
	return z, notFound(err, models.KindZone, id)
}

// CreateZone inserts a zone. A second live zone with the same pool and
// network, or the same company and name, is a conflict.
func (t *Tx) CreateZone(ctx context.Context, z models.Zone) error {
	sn, err := netutil.ParseSubnet(z.CIDR)
	if err != nil {
		return err
	}
	gw, err := netutil.ParseIPv4(z.Gateway)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO zones (`+zoneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		z.ID, z.CompanyID, z.Pool, z.Name, int64(sn.Base), sn.Prefix, int64(gw),
		string(z.Status), string(z.Previous), string(z.Pending), z.CreatedAt, z.UpdatedAt)
	return classify(err, "zone "+z.CIDR)
}

// UpdateZone writes the mutable fields of a zone.
func (t *Tx) UpdateZone(ctx context.Context, z models.Zone) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE zones SET name = ?, status = ?, previous_status = ?, pending = ?, updated_at = ? WHERE id = ?`,
		z.Name, string(z.Status), string(z.Previous), string(z.Pending), z.UpdatedAt, z.ID)
	if err != nil {
		return classify(err, "zone "+z.Name)
	}
	return affected(res, models.KindZone, z.ID)
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

const nodeColumns = `id, zone_id, company_id, address, worker_id, portal_id, status, previous_status, pending, created_at, updated_at`

func scanNode(sc scanner) (models.Node, error) {
	var n models.Node
	var address int64
	var workerID, portalID sql.NullString
	err := sc.Scan(&n.ID, &n.ZoneID, &n.CompanyID, &address, &workerID, &portalID,
		&n.Status, &n.Previous, &n.Pending, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return n, err
	}
	n.Address = netutil.FormatIPv4(uint32(address))
	n.WorkerID = workerID.String
	n.PortalID = portalID.String
	return n, nil
}

// ListNodes returns nodes ordered by address.
func (t *Tx) ListNodes(ctx context.Context, f Filter) ([]models.Node, error) {
	w := f.where()
	if f.ZoneID != "" {
		w.add("zone_id = ?", f.ZoneID)
	}
	if f.WorkerID != "" {
		w.add("worker_id = ?", f.WorkerID)
	}
	if f.PortalID != "" {
		w.add("portal_id = ?", f.PortalID)
	}
	rows, err := t.tx.QueryContext(ctx, "SELECT "+nodeColumns+" FROM nodes"+w.String()+" ORDER BY zone_id, address", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// GetNode retrieves a single node by ID, whatever its status.
func (t *Tx) GetNode(ctx context.Context, id string) (models.Node, error) {
	n, err := scanNode(t.tx.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id))
	return n, notFound(err, models.KindNode, id)
}

// CreateNode inserts a node. A second live node at the same address of the
// zone is a conflict.
func (t *Tx) CreateNode(ctx context.Context, n models.Node) error {
	addr, err := netutil.ParseIPv4(n.Address)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ZoneID, n.CompanyID, int64(addr), nullable(n.WorkerID), nullable(n.PortalID),
		string(n.Status), string(n.Previous), string(n.Pending), n.CreatedAt, n.UpdatedAt)
	return classify(err, "node "+n.Address)
}

// UpdateNode writes the endpoint pointers and lifecycle of a node.
func (t *Tx) UpdateNode(ctx context.Context, n models.Node) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE nodes SET worker_id = ?, portal_id = ?, status = ?, previous_status = ?, pending = ?, updated_at = ? WHERE id = ?`,
		nullable(n.WorkerID), nullable(n.PortalID), string(n.Status), string(n.Previous), string(n.Pending), n.UpdatedAt, n.ID)
	if err != nil {
		return classify(err, "node "+n.Address)
	}
	return affected(res, models.KindNode, n.ID)
}

// ---------------------------------------------------------------------------
// Workers
// ---------------------------------------------------------------------------

const workerColumns = `id, company_id, name, status, previous_status, pending, created_at, updated_at`

func scanWorker(sc scanner) (models.Worker, error) {
	var w models.Worker
	err := sc.Scan(&w.ID, &w.CompanyID, &w.Name, &w.Status, &w.Previous, &w.Pending, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// ListWorkers returns workers ordered by name.
func (t *Tx) ListWorkers(ctx context.Context, f Filter) ([]models.Worker, error) {
	w := f.where()
	rows, err := t.tx.QueryContext(ctx, "SELECT "+workerColumns+" FROM workers"+w.String()+" ORDER BY name", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []models.Worker
	for rows.Next() {
		wk, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, wk)
	}
	return workers, rows.Err()
}

// GetWorker retrieves a single worker by ID, whatever its status.
func (t *Tx) GetWorker(ctx context.Context, id string) (models.Worker, error) {
	w, err := scanWorker(t.tx.QueryRowContext(ctx, "SELECT "+workerColumns+" FROM workers WHERE id = ?", id))
	return w, notFound(err, models.KindWorker, id)
}

// CreateWorker inserts a worker.
func (t *Tx) CreateWorker(ctx context.Context, w models.Worker) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO workers (`+workerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.CompanyID, w.Name, string(w.Status), string(w.Previous), string(w.Pending), w.CreatedAt, w.UpdatedAt)
	return classify(err, "worker "+w.Name)
}

// UpdateWorker writes the mutable fields of a worker.
func (t *Tx) UpdateWorker(ctx context.Context, w models.Worker) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE workers SET name = ?, status = ?, previous_status = ?, pending = ?, updated_at = ? WHERE id = ?`,
		w.Name, string(w.Status), string(w.Previous), string(w.Pending), w.UpdatedAt, w.ID)
	if err != nil {
		return classify(err, "worker "+w.Name)
	}
	return affected(res, models.KindWorker, w.ID)
}

// ---------------------------------------------------------------------------
// Portals
// ---------------------------------------------------------------------------

const portalColumns = `id, company_id, name, hostname, status, previous_status, pending, created_at, updated_at`

func scanPortal(sc scanner) (models.Portal, error) {
	var p models.Portal
	err := sc.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Hostname, &p.Status, &p.Previous, &p.Pending, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ListPortals returns portals ordered by hostname.
func (t *Tx) ListPortals(ctx context.Context, f Filter) ([]models.Portal, error) {
	w := f.where()
	rows, err := t.tx.QueryContext(ctx, "SELECT "+portalColumns+" FROM portals"+w.String()+" ORDER BY hostname", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var portals []models.Portal
	for rows.Next() {
		p, err := scanPortal(rows)
		if err != nil {
			return nil, err
		}
		portals = append(portals, p)
	}
	return portals, rows.Err()
}

// GetPortal retrieves a single portal by ID, whatever its status.
func (t *Tx) GetPortal(ctx context.Context, id string) (models.Portal, error) {
	p, err := scanPortal(t.tx.QueryRowContext(ctx, "SELECT "+portalColumns+" FROM portals WHERE id = ?", id))
	return p, notFound(err, models.KindPortal, id)
}

// CreatePortal inserts a portal. Hostnames are unique among live portals.
func (t *Tx) CreatePortal(ctx context.Context, p models.Portal) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO portals (`+portalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CompanyID, p.Name, p.Hostname, string(p.Status), string(p.Previous), string(p.Pending), p.CreatedAt, p.UpdatedAt)
	return classify(err, "portal "+p.Hostname)
}

// UpdatePortal writes the mutable fields of a portal.
func (t *Tx) UpdatePortal(ctx context.Context, p models.Portal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE portals SET name = ?, hostname = ?, status = ?, previous_status = ?, pending = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Hostname, string(p.Status), string(p.Previous), string(p.Pending), p.UpdatedAt, p.ID)
	if err != nil {
		return classify(err, "portal "+p.Hostname)
	}
	return affected(res, models.KindPortal, p.ID)
}

// ---------------------------------------------------------------------------
// Transponders
// ---------------------------------------------------------------------------

const transponderColumns = `id, company_id, portal_id, worker_id, protocol, port, target_port, path, priority, status, previous_status, pending, created_at, updated_at`

func scanTransponder(sc scanner) (models.Transponder, error) {
	var tr models.Transponder
	err := sc.Scan(&tr.ID, &tr.CompanyID, &tr.PortalID, &tr.WorkerID, &tr.Protocol, &tr.Port, &tr.TargetPort,
		&tr.Path, &tr.Priority, &tr.Status, &tr.Previous, &tr.Pending, &tr.CreatedAt, &tr.UpdatedAt)
	return tr, err
}

// ListTransponders returns transponders ordered by portal, port and path.
func (t *Tx) ListTransponders(ctx context.Context, f Filter) ([]models.Transponder, error) {
	w := f.where()
	if f.PortalID != "" {
		w.add("portal_id = ?", f.PortalID)
	}
	if f.WorkerID != "" {
		w.add("worker_id = ?", f.WorkerID)
	}
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+transponderColumns+" FROM transponders"+w.String()+" ORDER BY portal_id, port, path", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transponder
	for rows.Next() {
		tr, err := scanTransponder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// GetTransponder retrieves a single transponder by ID, whatever its status.
func (t *Tx) GetTransponder(ctx context.Context, id string) (models.Transponder, error) {
	tr, err := scanTransponder(t.tx.QueryRowContext(ctx, "SELECT "+transponderColumns+" FROM transponders WHERE id = ?", id))
	return tr, notFound(err, models.KindTransponder, id)
}

// CreateTransponder inserts a transponder.
func (t *Tx) CreateTransponder(ctx context.Context, tr models.Transponder) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO transponders (`+transponderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.CompanyID, tr.PortalID, tr.WorkerID, tr.Protocol, tr.Port, tr.TargetPort, tr.Path, tr.Priority,
		string(tr.Status), string(tr.Previous), string(tr.Pending), tr.CreatedAt, tr.UpdatedAt)
	return classify(err, "transponder "+tr.Protocol)
}

// UpdateTransponder writes the mutable fields of a transponder.
func (t *Tx) UpdateTransponder(ctx context.Context, tr models.Transponder) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE transponders SET worker_id = ?, protocol = ?, port = ?, target_port = ?, path = ?, priority = ?,
			status = ?, previous_status = ?, pending = ?, updated_at = ? WHERE id = ?`,
		tr.WorkerID, tr.Protocol, tr.Port, tr.TargetPort, tr.Path, tr.Priority,
		string(tr.Status), string(tr.Previous), string(tr.Pending), tr.UpdatedAt, tr.ID)
	if err != nil {
		return classify(err, "transponder "+tr.Protocol)
	}
	return affected(res, models.KindTransponder, tr.ID)
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventFilter narrows ListEvents. Limit <= 0 returns every match.
type EventFilter struct {
	CompanyID    string
	ResourceType models.Kind
	ResourceID   string
	Type         models.EventType
	Limit        int
}

// AppendEvent inserts an event with its resource links and properties.
func (t *Tx) AppendEvent(ctx context.Context, ev models.Event) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO events (id, type, actor_id, company_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.ActorID, ev.CompanyID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return classify(err, "event "+string(ev.Type))
	}
	for _, r := range ev.Resources {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO event_resources (event_id, resource_type, resource_id) VALUES (?, ?, ?)`,
			ev.ID, string(r.Type), r.ID); err != nil {
			return classify(err, "event resource "+r.ID)
		}
	}
	for i, p := range ev.Properties {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO event_properties (event_id, position, key, value) VALUES (?, ?, ?, ?)`,
			ev.ID, i, string(p.Key), p.Value); err != nil {
			return classify(err, "event property "+string(p.Key))
		}
	}
	return nil
}

// ListEvents returns events newest first with their links and properties.
func (t *Tx) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	w := &where{}
	if f.CompanyID != "" {
		w.add("e.company_id = ?", f.CompanyID)
	}
	if f.Type != "" {
		w.add("e.type = ?", string(f.Type))
	}
	if f.ResourceID != "" {
		w.add("EXISTS (SELECT 1 FROM event_resources r WHERE r.event_id = e.id AND r.resource_type = ? AND r.resource_id = ?)", string(f.ResourceType))
		w.args = append(w.args, f.ResourceID)
	}
	query := "SELECT e.id, e.type, e.actor_id, e.company_id, e.payload, e.created_at FROM events e" + w.String() + " ORDER BY e.seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		w.args = append(w.args, f.Limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var created time.Time
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.ActorID, &ev.CompanyID, &ev.Payload, &created); err != nil {
			rows.Close()
			return nil, err
		}
		ev.CreatedAt = created.UTC()
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range events {
		if err := t.loadEventDetails(ctx, &events[i]); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// CountEvents returns the number of recorded events.
func (t *Tx) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

func (t *Tx) loadEventDetails(ctx context.Context, ev *models.Event) error {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT resource_type, resource_id FROM event_resources WHERE event_id = ? ORDER BY rowid`, ev.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var r models.EventResource
		if err := rows.Scan(&r.Type, &r.ID); err != nil {
			rows.Close()
			return err
		}
		ev.Resources = append(ev.Resources, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = t.tx.QueryContext(ctx,
		`SELECT key, value FROM event_properties WHERE event_id = ? ORDER BY position`, ev.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p models.EventProperty
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return err
		}
		ev.Properties = append(ev.Properties, p)
	}
	return rows.Err()
}
