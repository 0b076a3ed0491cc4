package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"uplinkdash/telemetry-server/internal/model"
)

const (
	// GatewayScanLimit caps the events read per gateway during organization-wide evaluation.
	GatewayScanLimit = 5000
	// DefaultOrgLimit is used when OrgAnomalies is called without a positive limit.
	DefaultOrgLimit = 20

	defaultWorkers = 4
)

// EventReader is the read side of the event store the detectors depend on.
type EventReader interface {
	EventsByDevice(ctx context.Context, devEUI string, r model.TimeRange, limit int) ([]model.NormalizedEvent, error)
	EventsByGateway(ctx context.Context, gatewayID string, profiles []string, r model.TimeRange, limit int) ([]model.NormalizedEvent, error)
	DistinctGateways(ctx context.Context) ([]string, error)
}

// Observer receives detection timings. A nil Observer is allowed.
type Observer interface {
	ObserveDetection(scope string, elapsed time.Duration)
}

// Service loads ordered slices from an EventReader and runs the detectors over them.
type Service struct {
	events   EventReader
	logger   *slog.Logger
	observer Observer
	workers  int
}

// NewService builds a Service. logger defaults to slog.Default when nil.
func NewService(events EventReader, logger *slog.Logger, observer Observer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		events:   events,
		logger:   logger.With("component", "anomaly"),
		observer: observer,
		workers:  defaultWorkers,
	}
}

// DeviceAnomalies evaluates the per-device rules for devEUI. The rule family comes from the
// first scanned event that names a device profile.
func (s *Service) DeviceAnomalies(ctx context.Context, devEUI string, r model.TimeRange, limit int) ([]model.Anomaly, error) {
	start := time.Now()
	events, err := s.events.EventsByDevice(ctx, devEUI, r, limit)
	if err != nil {
		return nil, fmt.Errorf("scan device %s: %w", devEUI, err)
	}
	out := DetectDevice(events, profileOf(events))
	s.observe("device", start)
	return out, nil
}

// GatewayAnomalies runs the door/climate correlation over the events heard by gatewayID.
func (s *Service) GatewayAnomalies(ctx context.Context, gatewayID string, r model.TimeRange, limit int) ([]model.Anomaly, error) {
	start := time.Now()
	out, err := s.gateway(ctx, gatewayID, r, limit)
	if err != nil {
		return nil, err
	}
	s.observe("gateway", start)
	return out, nil
}

// OrgAnomalies merges the correlation results of every known gateway, newest first, and keeps
// at most limit entries. Each entry is tagged with its gateway.
func (s *Service) OrgAnomalies(ctx context.Context, limit int) ([]model.Anomaly, error) {
	if limit <= 0 {
		limit = DefaultOrgLimit
	}
	start := time.Now()

	gateways, err := s.events.DistinctGateways(ctx)
	if err != nil {
		return nil, fmt.Errorf("list gateways: %w", err)
	}
	gateways = append([]string(nil), gateways...)
	sort.Strings(gateways)

	results := make([][]model.Anomaly, len(gateways))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, gw := range gateways {
		g.Go(func() error {
			found, err := s.gateway(gctx, gw, model.TimeRange{}, GatewayScanLimit)
			if err != nil {
				return err
			}
			for j := range found {
				found[j].GatewayID = gw
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []model.Anomaly
	for _, found := range results {
		merged = append(merged, found...)
	}
	sortNewestFirst(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	s.observe("org", start)
	s.logger.Debug("org anomalies evaluated", "gateways", len(gateways), "returned", len(merged))
	return merged, nil
}

func (s *Service) gateway(ctx context.Context, gatewayID string, r model.TimeRange, limit int) ([]model.Anomaly, error) {
	events, err := s.events.EventsByGateway(ctx, gatewayID, CorrelationProfiles, r, limit)
	if err != nil {
		return nil, fmt.Errorf("scan gateway %s: %w", gatewayID, err)
	}
	return DetectGateway(events), nil
}

func (s *Service) observe(scope string, start time.Time) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveDetection(scope, time.Since(start))
}

// sortNewestFirst orders by stored time descending. An empty time sorts after every concrete
// time; ties keep merge order.
func sortNewestFirst(list []model.Anomaly) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Time > list[j].Time
	})
}

func profileOf(events []model.NormalizedEvent) string {
	for _, ev := range events {
		if ev.DeviceProfileName != "" {
			return ev.DeviceProfileName
		}
	}
	return ""
}
