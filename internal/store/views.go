package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"uplinkdash/telemetry-server/internal/model"
)

// Profiles returns event counts per device profile, largest first.
func (s *Store) Profiles(ctx context.Context) ([]model.ProfileCount, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT device_profile_name, COUNT(*) AS n
		 FROM uplinks
		 WHERE device_profile_name IS NOT NULL
		 GROUP BY device_profile_name
		 ORDER BY n DESC, device_profile_name ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []model.ProfileCount
	for rows.Next() {
		var pc model.ProfileCount
		if err := rows.Scan(&pc.Profile, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, pc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return out, nil
}

// Devices lists every device with its last-seen time, newest first. With health set, the
// signal and power readings of the newest event are included.
func (s *Store) Devices(ctx context.Context, profile string, health bool) ([]model.DeviceSummary, error) {
	latest, err := s.LatestPerDevice(ctx, profile)
	if err != nil {
		return nil, err
	}

	out := make([]model.DeviceSummary, 0, len(latest))
	for _, ev := range latest {
		d := summarize(ev)
		if !health {
			d.RSSI, d.SNR, d.Battery, d.Margin, d.ExternalPowerSource = nil, nil, nil, nil, nil
		}
		out = append(out, d)
	}
	return out, nil
}

func summarize(ev model.NormalizedEvent) model.DeviceSummary {
	return model.DeviceSummary{
		DevEUI:              ev.DevEUI,
		DeviceName:          ev.DeviceName,
		DeviceProfileName:   ev.DeviceProfileName,
		LastSeen:            ev.Time,
		RSSI:                ev.RSSI,
		SNR:                 ev.SNR,
		Battery:             ev.Battery(),
		Margin:              ev.Margin,
		ExternalPowerSource: ev.ExternalPowerSource,
		Synthetic:           ev.Synthetic,
	}
}

// DevicePassport gathers identity and health facts for one device. It returns ErrNotFound when
// the device has no stored events.
func (s *Store) DevicePassport(ctx context.Context, devEUI string) (model.DevicePassport, error) {
	if s.db == nil {
		return model.DevicePassport{}, fmt.Errorf("store not initialized")
	}

	newest, err := s.scan(ctx, eventQuery{where: []string{"uplinks.dev_eui = ?"}, args: []any{devEUI}}, "DESC", 1)
	if err != nil {
		return model.DevicePassport{}, err
	}
	if len(newest) == 0 {
		return model.DevicePassport{}, ErrNotFound
	}
	last := newest[0]

	p := model.DevicePassport{
		DeviceSummary:   summarize(last),
		ApplicationName: last.ApplicationName,
		Gateways:        []string{},
		PayloadKeys:     last.Payload.Keys(),
	}

	var firstSeen sql.NullString
	err = s.db.QueryRowContext(
		ctx,
		`SELECT MIN(time), COUNT(*) FROM uplinks WHERE dev_eui = ?;`,
		devEUI,
	).Scan(&firstSeen, &p.EventCount)
	if err != nil {
		return model.DevicePassport{}, fmt.Errorf("device totals: %w", err)
	}
	p.FirstSeen = firstSeen.String

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT gateway_ids FROM uplinks WHERE dev_eui = ? AND gateway_ids IS NOT NULL ORDER BY time ASC;`,
		devEUI,
	)
	if err != nil {
		return model.DevicePassport{}, fmt.Errorf("query device gateways: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return model.DevicePassport{}, fmt.Errorf("scan device gateways: %w", err)
		}
		for _, id := range decodeGatewayIDs(raw) {
			if !seen[id] {
				seen[id] = true
				p.Gateways = append(p.Gateways, id)
			}
		}
	}

	if err := rows.Err(); err != nil {
		return model.DevicePassport{}, fmt.Errorf("iterate device gateways: %w", err)
	}

	return p, nil
}

// GatewayStats counts events per gateway, busiest first. With location set, each gateway gets
// the location of the earliest event it heard that carries one.
func (s *Store) GatewayStats(ctx context.Context, withLocation bool) ([]model.GatewayStat, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT gateway_ids, location_lat, location_lon, location_alt
		 FROM uplinks
		 WHERE gateway_ids IS NOT NULL
		 ORDER BY time ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query gateway stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*model.GatewayStat)
	for rows.Next() {
		var raw sql.NullString
		var lat, lon, alt sql.NullFloat64
		if err := rows.Scan(&raw, &lat, &lon, &alt); err != nil {
			return nil, fmt.Errorf("scan gateway stats: %w", err)
		}
		for _, id := range decodeGatewayIDs(raw) {
			st, ok := stats[id]
			if !ok {
				st = &model.GatewayStat{GatewayID: id}
				stats[id] = st
			}
			st.EventCount++
			if withLocation && st.Lat == nil && lat.Valid && lon.Valid {
				st.Lat, st.Lon, st.Alt = floatPtr(lat), floatPtr(lon), floatPtr(alt)
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gateway stats: %w", err)
	}

	out := make([]model.GatewayStat, 0, len(stats))
	for _, st := range stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventCount != out[j].EventCount {
			return out[i].EventCount > out[j].EventCount
		}
		return out[i].GatewayID < out[j].GatewayID
	})
	return out, nil
}

// DataGaps counts stored rows missing each optional field.
func (s *Store) DataGaps(ctx context.Context) (model.DataGaps, error) {
	if s.db == nil {
		return model.DataGaps{}, fmt.Errorf("store not initialized")
	}

	var g model.DataGaps
	err := s.db.QueryRowContext(
		ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN object_json IS NULL OR object_json IN ('null', '{}') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN gateway_ids IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN location_lat IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN location_lat IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rssi IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN snr IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN battery_normalized IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN COALESCE(synthetic, 0) <> 0 THEN 1 ELSE 0 END), 0)
		 FROM uplinks;`,
	).Scan(&g.Total, &g.NoPayload, &g.NoGateways, &g.NoLocation, &g.HasLocation, &g.NoRSSI, &g.NoSNR, &g.NoBattery, &g.SyntheticRow)
	if err != nil {
		return model.DataGaps{}, fmt.Errorf("data gaps: %w", err)
	}
	return g, nil
}
