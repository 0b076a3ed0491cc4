package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"uplinkdash/telemetry-server/internal/model"
	"uplinkdash/telemetry-server/internal/store"
	"uplinkdash/telemetry-server/internal/synthetic"
)

const validUplink = `{
	"time": "2026-01-30T10:00:00.000Z",
	"deviceInfo": {"devEui": "a84041000181c7a1", "deviceProfileName": "rbs305-ath"},
	"rxInfo": [{"gatewayId": "gw-1", "rssi": -90}],
	"object": {"temperature": 21.5}
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "uplinks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

type countingRecorder map[string]int

func (c countingRecorder) ObserveIngest(source, outcome string) {
	c[source+"/"+outcome]++
}

type failingWriter struct {
	ingestionErrors []model.IngestionError
}

func (f *failingWriter) UpsertEvent(context.Context, model.NormalizedEvent) error {
	return errors.New("disk full")
}

func (f *failingWriter) InsertIngestionError(_ context.Context, e model.IngestionError) error {
	f.ingestionErrors = append(f.ingestionErrors, e)
	return nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIngestStoresValidUplink(t *testing.T) {
	s := openTestStore(t)
	rec := countingRecorder{}
	in := New(s, quietLogger(), rec)

	outcome, err := in.Ingest(context.Background(), Record{Source: SourceMQTT, Ref: "application/1/device/x/event/up", Raw: []byte(validUplink)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %s", outcome)
	}

	n, err := s.CountEvents(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stored event, got %d", n)
	}
	if rec["mqtt/inserted"] != 1 {
		t.Fatalf("expected inserted metric, got %v", rec)
	}
}

func TestIngestRecordsRejectedUplink(t *testing.T) {
	s := openTestStore(t)
	rec := countingRecorder{}
	in := New(s, quietLogger(), rec)

	raw := `{"deviceInfo": {"devEui": "a84041000181c7a1"}}`
	outcome, err := in.Ingest(context.Background(), Record{Source: SourceHTTP, Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("rejection must not be an error, got %v", err)
	}
	if outcome != OutcomeInvalid {
		t.Fatalf("expected invalid, got %s", outcome)
	}

	n, _ := s.CountEvents(context.Background())
	if n != 0 {
		t.Fatalf("rejected uplink must not be stored, found %d events", n)
	}

	errs, err := s.RecentIngestionErrors(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent errors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 ingestion error, got %d", len(errs))
	}
	if errs[0].Source != "http" || errs[0].Payload != raw || !strings.Contains(errs[0].Error, "missing time") {
		t.Fatalf("unexpected ingestion error %+v", errs[0])
	}
	if rec["http/invalid"] != 1 {
		t.Fatalf("expected invalid metric, got %v", rec)
	}
}

func TestIngestReportsStoreFailure(t *testing.T) {
	w := &failingWriter{}
	rec := countingRecorder{}
	in := New(w, quietLogger(), rec)

	outcome, err := in.Ingest(context.Background(), Record{Source: SourceKafka, Ref: "uplinks/0/42", Raw: []byte(validUplink)})
	if err == nil {
		t.Fatalf("expected store failure to surface")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}
	if len(w.ingestionErrors) != 1 || w.ingestionErrors[0].Source != "kafka:uplinks/0/42" {
		t.Fatalf("expected failure to be recorded, got %+v", w.ingestionErrors)
	}
	if rec["kafka/failed"] != 1 {
		t.Fatalf("expected failed metric, got %v", rec)
	}
}

func TestIngestDatasetWalksDeviceTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Climate", "dev-a", "0001.json"), validUplink)
	writeFile(t, filepath.Join(root, "Climate", "dev-a", "0002.json"), `{"time": ""}`)
	writeFile(t, filepath.Join(root, "Climate", "dev-a", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, ".cache", "dev-b", "0003.json"), validUplink)
	writeFile(t, filepath.Join(root, "Climate.tgz"), "archive")
	writeFile(t, filepath.Join(root, "Door", "dev-c", "broken.json"), `{not json`)

	s := openTestStore(t)
	in := New(s, quietLogger(), nil)

	stats, err := in.IngestDataset(context.Background(), root)
	if err != nil {
		t.Fatalf("ingest dataset: %v", err)
	}
	if stats != (Stats{Inserted: 1, Invalid: 2}) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	ev, err := s.EventByID(context.Background(), "0001")
	if err != nil {
		t.Fatalf("expected event keyed by file stem: %v", err)
	}
	if ev.DevEUI != "a84041000181c7a1" {
		t.Fatalf("unexpected device %s", ev.DevEUI)
	}
}

func TestIngestDatasetMissingRoot(t *testing.T) {
	in := New(openTestStore(t), quietLogger(), nil)
	if _, err := in.IngestDataset(context.Background(), filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing dataset dir")
	}
}

func TestSeedSyntheticStoresEveryDevice(t *testing.T) {
	s := openTestStore(t)
	in := New(s, quietLogger(), nil)

	uplinks, err := synthetic.New(11).Tick(time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	stats, err := in.SeedSynthetic(context.Background(), uplinks)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if stats.Inserted != len(synthetic.Devices) || stats.Invalid != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	gaps, err := s.DataGaps(context.Background())
	if err != nil {
		t.Fatalf("data gaps: %v", err)
	}
	if gaps.SyntheticRow != len(synthetic.Devices) {
		t.Fatalf("expected all rows flagged synthetic, got %d", gaps.SyntheticRow)
	}
}

func TestTruncateStringCountsRunes(t *testing.T) {
	cases := map[string]struct {
		in    string
		limit int
		want  string
	}{
		"short":     {in: "abc", limit: 10, want: "abc"},
		"cut":       {in: "abcdef", limit: 3, want: "abc"},
		"multibyte": {in: "°°°°", limit: 2, want: "°°"},
		"no limit":  {in: "abc", limit: 0, want: "abc"},
	}
	for name, tc := range cases {
		if got := truncateString(tc.in, tc.limit); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", name, tc.want, got)
		}
	}
}
