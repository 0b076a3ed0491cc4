package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"uplinkdash/telemetry-server/internal/model"
)

// Integer-typed columns are cast on read so rows written by other tools with REAL values
// still scan.
var castColumns = map[string]bool{
	"rssi": true, "f_port": true, "f_cnt": true, "frequency": true, "spreading_factor": true,
	"external_power_source": true, "battery_level_unavailable": true, "synthetic": true,
}

var selectEventColumns = func() string {
	cols := make([]string, len(eventColumns))
	for i, col := range eventColumns {
		if castColumns[col] {
			cols[i] = fmt.Sprintf("CAST(uplinks.%s AS INTEGER)", col)
			continue
		}
		cols[i] = "uplinks." + col
	}
	return strings.Join(cols, ", ")
}()

// heardByGateway matches rows whose gateway list contains the bound id. Rows with a malformed
// list are treated as heard by no gateway.
const heardByGateway = `EXISTS (
	SELECT 1 FROM json_each(CASE WHEN json_valid(uplinks.gateway_ids) THEN uplinks.gateway_ids ELSE '[]' END) j
	WHERE j.value = ?
)`

// eventQuery accumulates filters for one uplinks scan.
type eventQuery struct {
	where []string
	args  []any
}

func (q *eventQuery) add(clause string, args ...any) {
	q.where = append(q.where, clause)
	q.args = append(q.args, args...)
}

func (q *eventQuery) timeRange(r model.TimeRange) {
	if r.From != "" {
		q.add("uplinks.time >= ?", r.From)
	}
	if r.To != "" {
		q.add("uplinks.time <= ?", r.To)
	}
}

func (q *eventQuery) profiles(names []string) {
	if len(names) == 0 {
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	q.add("uplinks.device_profile_name IN ("+marks+")", args...)
}

// scan runs the query ordered by time and returns at most limit events; limit <= 0 means all.
func (s *Store) scan(ctx context.Context, q eventQuery, order string, limit int) ([]model.NormalizedEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	query := "SELECT " + selectEventColumns + " FROM uplinks"
	if len(q.where) > 0 {
		query += " WHERE " + strings.Join(q.where, " AND ")
	}
	query += " ORDER BY uplinks.time " + order
	args := q.args
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query uplinks: %w", err)
	}
	defer rows.Close()

	var events []model.NormalizedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan uplink: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uplinks: %w", err)
	}

	return events, nil
}

// EventsByDevice returns the events of one device ordered by time ascending.
func (s *Store) EventsByDevice(ctx context.Context, devEUI string, r model.TimeRange, limit int) ([]model.NormalizedEvent, error) {
	var q eventQuery
	q.add("uplinks.dev_eui = ?", devEUI)
	q.timeRange(r)
	return s.scan(ctx, q, "ASC", limit)
}

// Timeseries is EventsByDevice with an optional fPort filter.
func (s *Store) Timeseries(ctx context.Context, devEUI string, r model.TimeRange, fPort *int, limit int) ([]model.NormalizedEvent, error) {
	var q eventQuery
	q.add("uplinks.dev_eui = ?", devEUI)
	q.timeRange(r)
	if fPort != nil {
		q.add("uplinks.f_port = ?", *fPort)
	}
	return s.scan(ctx, q, "ASC", limit)
}

// EventsByGateway returns events heard by gatewayID ordered by time ascending, optionally
// restricted to the given device profiles.
func (s *Store) EventsByGateway(ctx context.Context, gatewayID string, profiles []string, r model.TimeRange, limit int) ([]model.NormalizedEvent, error) {
	var q eventQuery
	q.add(heardByGateway, gatewayID)
	q.profiles(profiles)
	q.timeRange(r)
	return s.scan(ctx, q, "ASC", limit)
}

// DistinctGateways lists every gateway id found in stored gateway lists, sorted.
func (s *Store) DistinctGateways(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT DISTINCT j.value
		 FROM uplinks, json_each(CASE WHEN json_valid(uplinks.gateway_ids) THEN uplinks.gateway_ids ELSE '[]' END) j
		 WHERE uplinks.gateway_ids IS NOT NULL AND j.type = 'text' AND j.value <> ''
		 ORDER BY j.value;`)
	if err != nil {
		return nil, fmt.Errorf("query gateways: %w", err)
	}
	defer rows.Close()

	var gateways []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan gateway: %w", err)
		}
		gateways = append(gateways, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gateways: %w", err)
	}

	return gateways, nil
}

// LatestPerDevice returns the newest event of each device, newest first. A non-empty profile
// restricts the result to that device profile.
func (s *Store) LatestPerDevice(ctx context.Context, profile string) ([]model.NormalizedEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	subWhere, outerWhere := "", ""
	var args []any
	if profile != "" {
		subWhere = " WHERE device_profile_name = ?"
		outerWhere = " WHERE uplinks.device_profile_name = ?"
		args = append(args, profile, profile)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+selectEventColumns+`
		 FROM uplinks
		 INNER JOIN (
			SELECT dev_eui, MAX(time) AS max_ts
			FROM uplinks`+subWhere+`
			GROUP BY dev_eui
		 ) latest ON uplinks.dev_eui = latest.dev_eui AND uplinks.time = latest.max_ts`+outerWhere+`
		 ORDER BY uplinks.time DESC, uplinks.event_id ASC;`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("latest events query: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var events []model.NormalizedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan latest event: %w", err)
		}
		// two rows can share the maximum time
		if seen[ev.DevEUI] {
			continue
		}
		seen[ev.DevEUI] = true
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest events: %w", err)
	}

	return events, nil
}

// EventByID returns one stored event.
func (s *Store) EventByID(ctx context.Context, eventID string) (model.NormalizedEvent, error) {
	if s.db == nil {
		return model.NormalizedEvent{}, fmt.Errorf("store not initialized")
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+selectEventColumns+` FROM uplinks WHERE uplinks.event_id = ?;`, eventID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NormalizedEvent{}, ErrNotFound
	}
	if err != nil {
		return model.NormalizedEvent{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM uplinks;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
