package anomaly

import (
	"fmt"
	"time"

	"uplinkdash/telemetry-server/internal/model"
)

const (
	// CorrelationWindow is how far after a door opening climate readings are collected.
	CorrelationWindow = 60 * time.Minute
	// CorrelationThreshold is the temperature range, in °C, that makes an opening anomalous.
	CorrelationThreshold = 1.0
)

// CorrelationProfiles restricts gateway scans to the profiles the correlation reads.
var CorrelationProfiles = []string{DoorProfileName, ClimateProfileName}

type entryKind uint8

const (
	entryDoor entryKind = iota + 1
	entryClimate
)

type timelineEntry struct {
	time    string
	kind    entryKind
	open    float64
	temp    float64
	hasTemp bool
}

// DetectGateway correlates door openings with climate readings heard by one gateway.
// events must be ordered by time ascending; the forward scan from each opening stops at the
// first entry past the window, so an interleaving that is not globally ordered is read as-is.
// The window end is compared as a parsed instant rather than as a serialized string, so stored
// times that differ only in fraction precision are ordered by the moment they denote.
func DetectGateway(events []model.NormalizedEvent) []model.Anomaly {
	timeline := buildTimeline(events)

	var (
		out      []model.Anomaly
		lastTemp float64
		haveTemp bool
	)
	for i, e := range timeline {
		if e.kind == entryClimate && e.hasTemp {
			lastTemp, haveTemp = e.temp, true
		}
		if e.kind != entryDoor || e.open != 1 || !haveTemp {
			continue
		}
		openedAt, ok := parseTime(e.time)
		if !ok {
			continue
		}
		end := openedAt.Add(CorrelationWindow)

		var lo, hi float64
		n := 0
		for _, next := range timeline[i+1:] {
			if pastBoundary(next.time, end) {
				break
			}
			if next.kind != entryClimate || !next.hasTemp {
				continue
			}
			if n == 0 || next.temp < lo {
				lo = next.temp
			}
			if n == 0 || next.temp > hi {
				hi = next.temp
			}
			n++
		}
		if n == 0 || !(hi-lo > CorrelationThreshold) {
			continue
		}
		out = append(out, model.Anomaly{
			Time:        e.time,
			Type:        model.AnomalyDoorTempDelta,
			Description: fmt.Sprintf("Door opened at %s°C; temperature varied by %.1f°C in next 60 min", formatNumber(lastTemp), hi-lo),
		})
	}
	return out
}

func buildTimeline(events []model.NormalizedEvent) []timelineEntry {
	timeline := make([]timelineEntry, 0, len(events))
	for _, ev := range events {
		switch ev.DeviceProfileName {
		case DoorProfileName:
			open, _ := doorState(ev.Payload)
			timeline = append(timeline, timelineEntry{time: ev.Time, kind: entryDoor, open: open})
		case ClimateProfileName:
			temp, ok := ev.Payload.Number("temperature")
			timeline = append(timeline, timelineEntry{time: ev.Time, kind: entryClimate, temp: temp, hasTemp: ok})
		}
	}
	return timeline
}
