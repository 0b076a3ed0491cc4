// Package ingest turns raw uplink documents into stored events and accounts for the ones that
// cannot be stored.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"uplinkdash/telemetry-server/internal/model"
	"uplinkdash/telemetry-server/internal/normalize"
	"uplinkdash/telemetry-server/internal/synthetic"
)

// Source labels used in metrics and ingestion error records.
const (
	SourceDataset   = "dataset"
	SourceSynthetic = "synthetic"
	SourceHTTP      = "http"
	SourceMQTT      = "mqtt"
	SourceKafka     = "kafka"
)

const (
	storeTimeout     = 2 * time.Second
	maxStoredPayload = 4096
)

// Outcome classifies one processed record.
type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeInvalid
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// EventWriter is the part of the store ingestion needs.
type EventWriter interface {
	UpsertEvent(ctx context.Context, ev model.NormalizedEvent) error
	InsertIngestionError(ctx context.Context, e model.IngestionError) error
}

// Recorder counts processed records.
type Recorder interface {
	ObserveIngest(source, outcome string)
}

// Record is one raw document plus where it came from. Source is the channel (mqtt, kafka,
// dataset); Ref locates the record within it and seeds fallback event ids for files.
type Record struct {
	Source string
	Ref    string
	Raw    []byte
}

// Stats totals a batch run.
type Stats struct {
	Inserted int
	Invalid  int
	Failed   int
}

func (s *Stats) add(o Outcome) {
	switch o {
	case OutcomeInserted:
		s.Inserted++
	case OutcomeInvalid:
		s.Invalid++
	case OutcomeFailed:
		s.Failed++
	}
}

type Ingester struct {
	store   EventWriter
	logger  *slog.Logger
	metrics Recorder
}

func New(store EventWriter, logger *slog.Logger, metrics Recorder) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		store:   store,
		logger:  logger.With("component", "ingest"),
		metrics: metrics,
	}
}

// Ingest normalizes and stores one record. Rejected documents are recorded as ingestion errors
// and reported as OutcomeInvalid with a nil error; only store failures return an error.
func (in *Ingester) Ingest(ctx context.Context, rec Record) (Outcome, error) {
	ev, err := normalize.Normalize(rec.Raw, rec.Ref)
	if err != nil {
		in.observe(rec.Source, OutcomeInvalid)
		in.recordIngestionError(ctx, rec, err)
		in.logger.Debug("uplink rejected", "source", rec.Source, "ref", rec.Ref, "error", err)
		return OutcomeInvalid, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := in.store.UpsertEvent(storeCtx, ev); err != nil {
		in.observe(rec.Source, OutcomeFailed)
		in.recordIngestionError(ctx, rec, err)
		return OutcomeFailed, fmt.Errorf("store event %s: %w", ev.EventID, err)
	}

	in.observe(rec.Source, OutcomeInserted)
	in.logger.Debug(
		"ingested uplink",
		"source", rec.Source,
		"event_id", ev.EventID,
		"dev_eui", ev.DevEUI,
		"profile", ev.DeviceProfileName,
		"time", ev.Time,
	)
	return OutcomeInserted, nil
}

func (in *Ingester) observe(source string, o Outcome) {
	if in.metrics != nil {
		in.metrics.ObserveIngest(source, o.String())
	}
}

func (in *Ingester) recordIngestionError(ctx context.Context, rec Record, cause error) {
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	source := rec.Source
	if rec.Ref != "" {
		source += ":" + rec.Ref
	}

	err := in.store.InsertIngestionError(storeCtx, model.IngestionError{
		Source:  source,
		Payload: truncateString(string(rec.Raw), maxStoredPayload),
		Error:   cause.Error(),
	})
	if err != nil {
		in.logger.Error("failed to persist ingestion error", "source", rec.Source, "error", err)
	}
}

// IngestDataset loads every <root>/<DeviceType>/<devEui>/*.json file in sorted order. Hidden
// directories and .tgz archives at the device-type level are skipped. Unreadable files count as
// invalid; store failures are counted and the walk continues.
func (in *Ingester) IngestDataset(ctx context.Context, root string) (Stats, error) {
	var stats Stats

	typeDirs, err := os.ReadDir(root)
	if err != nil {
		return stats, fmt.Errorf("read dataset dir: %w", err)
	}

	for _, typeDir := range typeDirs {
		name := typeDir.Name()
		if !typeDir.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tgz") {
			continue
		}

		deviceDirs, err := os.ReadDir(filepath.Join(root, name))
		if err != nil {
			return stats, fmt.Errorf("read device type dir: %w", err)
		}

		for _, deviceDir := range deviceDirs {
			if !deviceDir.IsDir() || strings.HasPrefix(deviceDir.Name(), ".") {
				continue
			}
			if err := in.ingestDeviceDir(ctx, filepath.Join(root, name, deviceDir.Name()), &stats); err != nil {
				return stats, err
			}
		}
	}

	in.logger.Info(
		"dataset ingested",
		"root", root,
		"inserted", stats.Inserted,
		"invalid", stats.Invalid,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (in *Ingester) ingestDeviceDir(ctx context.Context, dir string, stats *Stats) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read device dir: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, f.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			in.logger.Warn("skipping unreadable file", "path", path, "error", err)
			stats.Invalid++
			in.observe(SourceDataset, OutcomeInvalid)
			continue
		}

		outcome, err := in.Ingest(ctx, Record{Source: SourceDataset, Ref: path, Raw: raw})
		if err != nil {
			in.logger.Error("failed to store dataset record", "path", path, "error", err)
		}
		stats.add(outcome)
	}
	return nil
}

// SeedSynthetic stores generated uplinks through the normal ingestion path.
func (in *Ingester) SeedSynthetic(ctx context.Context, uplinks []synthetic.Uplink) (Stats, error) {
	var stats Stats
	for _, u := range uplinks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := in.Ingest(ctx, Record{Source: SourceSynthetic, Ref: u.DevEUI, Raw: u.Body})
		stats.add(outcome)
		if err != nil {
			return stats, fmt.Errorf("seed synthetic uplink: %w", err)
		}
	}
	return stats, nil
}

// truncateString caps s at limit runes.
func truncateString(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
