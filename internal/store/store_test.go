package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"uplinkdash/telemetry-server/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "uplinks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

func ptr[T any](v T) *T { return &v }

func event(id, ts, dev, profile string, gateways []string, payload model.Payload) model.NormalizedEvent {
	return model.NormalizedEvent{
		EventID:           id,
		Time:              ts,
		DevEUI:            dev,
		DeviceProfileName: profile,
		GatewayIDs:        gateways,
		Payload:           payload,
	}
}

func mustUpsert(t *testing.T, s *Store, events ...model.NormalizedEvent) {
	t.Helper()
	for _, ev := range events {
		if err := s.UpsertEvent(context.Background(), ev); err != nil {
			t.Fatalf("upsert %s: %v", ev.EventID, err)
		}
	}
}

func TestUpsertReplacesByEventID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := event("e1", "2026-01-30T10:00:00Z", "dev-1", "rbs301-dws", []string{"gw-1"}, model.Payload{"open": model.NumberValue(0)})
	second := first
	second.Payload = model.Payload{"open": model.NumberValue(1)}
	mustUpsert(t, s, first, second, second)

	n, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one row for a repeated event id, got %d", n)
	}
	got, err := s.EventByID(ctx, "e1")
	if err != nil {
		t.Fatalf("event by id: %v", err)
	}
	if open, _ := got.Payload.Number("open"); open != 1 {
		t.Fatalf("expected the latest submission to win, got open=%v", open)
	}

	if _, err := s.EventByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEventRoundTripKeepsOptionalFields(t *testing.T) {
	s := openTestStore(t)
	ev := model.NormalizedEvent{
		EventID:                 "full",
		Time:                    "2026-01-30T10:00:00.250Z",
		DevEUI:                  "dev-1",
		DeviceName:              "Cellar",
		DeviceProfileName:       "SW3L",
		ApplicationID:           "app-1",
		ApplicationName:         "Farm",
		GatewayIDs:              []string{"gw-2", "gw-1"},
		RSSI:                    ptr(-97),
		SNR:                     ptr(7.25),
		LocationLat:             ptr(45.5),
		LocationLon:             ptr(-73.6),
		BatteryNormalized:       ptr(3.61),
		Payload:                 model.Payload{"BAT": model.NumberValue(3.61), "MOD": model.StringValue("flow")},
		FPort:                   ptr(2),
		DevAddr:                 "01ab23cd",
		FCnt:                    ptr(1200),
		Margin:                  ptr(9.0),
		ExternalPowerSource:     ptr(false),
		BatteryLevelUnavailable: ptr(true),
		BatteryLevelJoin:        ptr(88.0),
		Frequency:               ptr(904300000),
		SpreadingFactor:         ptr(7),
		RegionConfigID:          "us915_1",
		Synthetic:               true,
	}
	mustUpsert(t, s, ev)

	got, err := s.EventByID(context.Background(), "full")
	if err != nil {
		t.Fatalf("event by id: %v", err)
	}
	if got.Time != ev.Time || got.DeviceName != "Cellar" || got.ApplicationName != "Farm" || got.DevAddr != "01ab23cd" {
		t.Fatalf("unexpected descriptors: %+v", got)
	}
	if len(got.GatewayIDs) != 2 || got.GatewayIDs[0] != "gw-2" {
		t.Fatalf("expected gateway order to be kept, got %v", got.GatewayIDs)
	}
	if *got.RSSI != -97 || *got.SNR != 7.25 || *got.LocationLat != 45.5 || got.LocationAlt != nil {
		t.Fatalf("unexpected reception fields: %+v", got)
	}
	if *got.FPort != 2 || *got.FCnt != 1200 || *got.Frequency != 904300000 || *got.SpreadingFactor != 7 {
		t.Fatalf("unexpected radio fields: %+v", got)
	}
	if *got.ExternalPowerSource || !*got.BatteryLevelUnavailable || *got.BatteryLevelJoin != 88 {
		t.Fatalf("unexpected status fields: %+v", got)
	}
	if mod, ok := got.Payload.Text("MOD"); !ok || mod != "flow" {
		t.Fatalf("unexpected payload: %+v", got.Payload)
	}
	if !got.Synthetic {
		t.Fatalf("expected synthetic flag to persist")
	}
}

func TestEventsByDeviceOrderedAndRanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s,
		event("c", "2026-01-30T12:00:00Z", "dev-1", "SW3L", nil, nil),
		event("a", "2026-01-30T10:00:00Z", "dev-1", "SW3L", nil, nil),
		event("b", "2026-01-30T11:00:00Z", "dev-1", "SW3L", nil, nil),
		event("x", "2026-01-30T10:30:00Z", "dev-2", "SW3L", nil, nil),
	)

	all, err := s.EventsByDevice(ctx, "dev-1", model.TimeRange{}, 0)
	if err != nil {
		t.Fatalf("events by device: %v", err)
	}
	if len(all) != 3 || all[0].EventID != "a" || all[1].EventID != "b" || all[2].EventID != "c" {
		t.Fatalf("expected ascending order, got %+v", all)
	}

	ranged, err := s.EventsByDevice(ctx, "dev-1", model.TimeRange{From: "2026-01-30T11:00:00Z", To: "2026-01-30T12:00:00Z"}, 0)
	if err != nil {
		t.Fatalf("events by device: %v", err)
	}
	if len(ranged) != 2 || ranged[0].EventID != "b" {
		t.Fatalf("expected inclusive range, got %+v", ranged)
	}

	limited, err := s.EventsByDevice(ctx, "dev-1", model.TimeRange{}, 1)
	if err != nil {
		t.Fatalf("events by device: %v", err)
	}
	if len(limited) != 1 || limited[0].EventID != "a" {
		t.Fatalf("expected limit to keep the oldest, got %+v", limited)
	}
}

func TestTimeseriesFiltersFPort(t *testing.T) {
	s := openTestStore(t)
	a := event("a", "2026-01-30T10:00:00Z", "dev-1", "SW3L", nil, nil)
	a.FPort = ptr(2)
	b := event("b", "2026-01-30T11:00:00Z", "dev-1", "SW3L", nil, nil)
	b.FPort = ptr(5)
	mustUpsert(t, s, a, b)

	got, err := s.Timeseries(context.Background(), "dev-1", model.TimeRange{}, ptr(5), 100)
	if err != nil {
		t.Fatalf("timeseries: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "b" {
		t.Fatalf("expected only fPort 5, got %+v", got)
	}
}

func TestEventsByGatewayUsesGatewayList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s,
		event("d1", "2026-01-30T10:00:00Z", "door", "rbs301-dws", []string{"gw-1", "gw-2"}, nil),
		event("c1", "2026-01-30T10:05:00Z", "climate", "rbs305-ath", []string{"gw-2"}, nil),
		event("s1", "2026-01-30T10:10:00Z", "soil", "Makerfabs Soil Moisture Sensor", []string{"gw-2"}, nil),
		event("n1", "2026-01-30T10:15:00Z", "lost", "rbs301-dws", nil, nil),
		event("g1", "2026-01-30T10:20:00Z", "gw", "rbs301-dws", []string{"gw-10"}, nil),
	)
	if _, err := s.DB().ExecContext(ctx, `UPDATE uplinks SET gateway_ids = '[broken' WHERE event_id = 'n1';`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	site, err := s.EventsByGateway(ctx, "gw-2", nil, model.TimeRange{}, 0)
	if err != nil {
		t.Fatalf("events by gateway: %v", err)
	}
	if len(site) != 3 {
		t.Fatalf("expected three events on gw-2, got %+v", site)
	}

	filtered, err := s.EventsByGateway(ctx, "gw-2", []string{"rbs301-dws", "rbs305-ath"}, model.TimeRange{}, 0)
	if err != nil {
		t.Fatalf("events by gateway: %v", err)
	}
	if len(filtered) != 2 || filtered[0].EventID != "d1" || filtered[1].EventID != "c1" {
		t.Fatalf("expected profile filter in time order, got %+v", filtered)
	}

	exact, err := s.EventsByGateway(ctx, "gw-1", nil, model.TimeRange{}, 0)
	if err != nil {
		t.Fatalf("events by gateway: %v", err)
	}
	if len(exact) != 1 || exact[0].EventID != "d1" {
		t.Fatalf("expected exact id match (not gw-10), got %+v", exact)
	}

	corrupt, err := s.EventByID(ctx, "n1")
	if err != nil {
		t.Fatalf("event by id: %v", err)
	}
	if corrupt.GatewayIDs != nil {
		t.Fatalf("expected malformed gateway list to read as absent, got %v", corrupt.GatewayIDs)
	}

	gateways, err := s.DistinctGateways(ctx)
	if err != nil {
		t.Fatalf("distinct gateways: %v", err)
	}
	if len(gateways) != 3 || gateways[0] != "gw-1" || gateways[1] != "gw-10" || gateways[2] != "gw-2" {
		t.Fatalf("unexpected gateways: %v", gateways)
	}
}

func TestMalformedPayloadReadsAsAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, event("e1", "2026-01-30T10:00:00Z", "dev-1", "SW3L", []string{"gw-1"}, model.Payload{"BAT": model.NumberValue(3.3)}))
	if _, err := s.DB().ExecContext(ctx, `UPDATE uplinks SET object_json = '[1,2]' WHERE event_id = 'e1';`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}
	got, err := s.EventByID(ctx, "e1")
	if err != nil {
		t.Fatalf("event by id: %v", err)
	}
	if got.Payload != nil || len(got.GatewayIDs) != 1 {
		t.Fatalf("expected only the payload to be dropped, got %+v", got)
	}
}

func TestLatestPerDeviceAndDevices(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := event("a1", "2026-01-30T10:00:00Z", "dev-a", "SW3L", nil, nil)
	newer := event("a2", "2026-01-30T11:00:00Z", "dev-a", "SW3L", nil, model.Payload{"Bat": model.NumberValue(3.5)})
	newer.BatteryNormalized = ptr(3.5)
	newer.RSSI = ptr(-80)
	other := event("b1", "2026-01-30T10:30:00Z", "dev-b", "rbs305-ath", nil, nil)
	other.BatteryLevelJoin = ptr(70.0)
	mustUpsert(t, s, old, newer, other)

	latest, err := s.LatestPerDevice(ctx, "")
	if err != nil {
		t.Fatalf("latest per device: %v", err)
	}
	if len(latest) != 2 || latest[0].EventID != "a2" || latest[1].EventID != "b1" {
		t.Fatalf("unexpected latest rows: %+v", latest)
	}

	onlyClimate, err := s.LatestPerDevice(ctx, "rbs305-ath")
	if err != nil {
		t.Fatalf("latest per device: %v", err)
	}
	if len(onlyClimate) != 1 || onlyClimate[0].DevEUI != "dev-b" {
		t.Fatalf("expected profile filter, got %+v", onlyClimate)
	}

	devices, err := s.Devices(ctx, "", true)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if devices[0].LastSeen != "2026-01-30T11:00:00Z" || devices[0].Battery == nil || *devices[0].Battery != 3.5 {
		t.Fatalf("unexpected health summary: %+v", devices[0])
	}
	if devices[1].Battery == nil || *devices[1].Battery != 70 {
		t.Fatalf("expected join battery fallback, got %+v", devices[1])
	}

	bare, err := s.Devices(ctx, "", false)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if bare[0].RSSI != nil || bare[0].Battery != nil {
		t.Fatalf("expected health fields to be omitted, got %+v", bare[0])
	}
}

func TestDevicePassport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first := event("p1", "2026-01-30T09:00:00Z", "dev-1", "SW3L", []string{"gw-b"}, nil)
	last := event("p2", "2026-01-30T12:00:00Z", "dev-1", "SW3L", []string{"gw-a", "gw-b"}, model.Payload{"BAT": model.NumberValue(3.4), "ALARM": model.BoolValue(false)})
	last.ApplicationName = "Water"
	mustUpsert(t, s, first, last)

	p, err := s.DevicePassport(ctx, "dev-1")
	if err != nil {
		t.Fatalf("passport: %v", err)
	}
	if p.FirstSeen != "2026-01-30T09:00:00Z" || p.LastSeen != "2026-01-30T12:00:00Z" || p.EventCount != 2 {
		t.Fatalf("unexpected totals: %+v", p)
	}
	if len(p.Gateways) != 2 || p.Gateways[0] != "gw-b" || p.Gateways[1] != "gw-a" {
		t.Fatalf("expected gateways in first-seen order, got %v", p.Gateways)
	}
	if len(p.PayloadKeys) != 2 || p.PayloadKeys[0] != "ALARM" || p.ApplicationName != "Water" {
		t.Fatalf("unexpected passport details: %+v", p)
	}

	if _, err := s.DevicePassport(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGatewayStatsAndProfiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	located := event("l1", "2026-01-30T11:00:00Z", "dev-1", "SW3L", []string{"gw-1"}, nil)
	located.LocationLat, located.LocationLon = ptr(10.0), ptr(20.0)
	mustUpsert(t, s,
		event("e0", "2026-01-30T10:00:00Z", "dev-1", "SW3L", []string{"gw-1", "gw-2"}, nil),
		located,
		event("e2", "2026-01-30T12:00:00Z", "dev-2", "rbs305-ath", nil, nil),
	)

	stats, err := s.GatewayStats(ctx, true)
	if err != nil {
		t.Fatalf("gateway stats: %v", err)
	}
	if len(stats) != 2 || stats[0].GatewayID != "gw-1" || stats[0].EventCount != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats[0].Lat == nil || *stats[0].Lat != 10 || stats[1].Lat != nil {
		t.Fatalf("unexpected gateway locations: %+v", stats)
	}

	profiles, err := s.Profiles(ctx)
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Profile != "SW3L" || profiles[0].Count != 2 {
		t.Fatalf("unexpected profiles: %+v", profiles)
	}

	gaps, err := s.DataGaps(ctx)
	if err != nil {
		t.Fatalf("data gaps: %v", err)
	}
	if gaps.Total != 3 || gaps.NoGateways != 1 || gaps.HasLocation != 1 || gaps.NoPayload != 3 {
		t.Fatalf("unexpected gaps: %+v", gaps)
	}
}

func TestIngestionErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, msg := range []string{"first", "second"} {
		if err := s.InsertIngestionError(ctx, model.IngestionError{Source: "mqtt", Payload: "{}", Error: msg}); err != nil {
			t.Fatalf("insert ingestion error: %v", err)
		}
	}
	got, err := s.RecentIngestionErrors(ctx, 10)
	if err != nil {
		t.Fatalf("recent ingestion errors: %v", err)
	}
	if len(got) != 2 || got[0].Error != "second" || got[0].CreatedAt == "" {
		t.Fatalf("expected newest first with timestamps, got %+v", got)
	}
}

func TestInitSchemaAddsMissingColumns(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "legacy.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if _, err := s.DB().ExecContext(ctx, `CREATE TABLE uplinks (
		event_id TEXT PRIMARY KEY, time TEXT NOT NULL, dev_eui TEXT NOT NULL, device_name TEXT,
		device_profile_name TEXT, application_id TEXT, application_name TEXT, gateway_ids TEXT,
		rssi INTEGER, snr REAL, location_lat REAL, location_lon REAL, location_alt REAL,
		battery_normalized REAL, object_json TEXT);`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("init schema twice: %v", err)
	}
	mustUpsert(t, s, model.NormalizedEvent{EventID: "e", Time: "2026-01-30T10:00:00Z", DevEUI: "d", Synthetic: true})
}
