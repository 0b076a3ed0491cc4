package anomaly

import (
	"testing"
	"time"

	"uplinkdash/telemetry-server/internal/model"
)

func at(minutes int) string {
	return baseTime.Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339)
}

func door(minutes, open int) model.NormalizedEvent {
	return model.NormalizedEvent{
		Time:              at(minutes),
		DevEUI:            "door-1",
		DeviceProfileName: DoorProfileName,
		Payload:           model.Payload{"open": model.NumberValue(float64(open))},
	}
}

func climate(minutes int, temp float64) model.NormalizedEvent {
	return model.NormalizedEvent{
		Time:              at(minutes),
		DevEUI:            "climate-1",
		DeviceProfileName: ClimateProfileName,
		Payload:           model.Payload{"temperature": model.NumberValue(temp)},
	}
}

func TestDoorOpenFollowedByTemperatureSwing(t *testing.T) {
	events := []model.NormalizedEvent{
		climate(0, 4.0),
		door(10, 1),
		climate(20, 4.2),
		climate(40, 6.0),
		climate(65, 4.1),
	}
	got := DetectGateway(events)
	if len(got) != 1 {
		t.Fatalf("expected one door_temp_delta, got %+v", got)
	}
	if got[0].Type != model.AnomalyDoorTempDelta || got[0].Time != at(10) {
		t.Fatalf("unexpected anomaly: %+v", got[0])
	}
	if got[0].Description != "Door opened at 4°C; temperature varied by 1.9°C in next 60 min" {
		t.Fatalf("unexpected description: %q", got[0].Description)
	}
}

func TestDoorOpenWithSmallSpreadIsQuiet(t *testing.T) {
	events := []model.NormalizedEvent{
		climate(0, 4.0),
		door(10, 1),
		climate(20, 4.2),
		climate(40, 4.9),
		climate(65, 4.1),
	}
	if got := DetectGateway(events); len(got) != 0 {
		t.Fatalf("expected no anomaly for a spread under 1°C, got %+v", got)
	}
}

func TestDoorOpenRequiresKnownTemperature(t *testing.T) {
	events := []model.NormalizedEvent{
		door(0, 1),
		climate(10, 4.0),
		climate(20, 9.0),
	}
	if got := DetectGateway(events); len(got) != 0 {
		t.Fatalf("expected no anomaly without a prior temperature, got %+v", got)
	}
}

func TestClosedDoorIsIgnored(t *testing.T) {
	events := []model.NormalizedEvent{
		climate(0, 4.0),
		door(10, 0),
		climate(20, 9.0),
	}
	if got := DetectGateway(events); len(got) != 0 {
		t.Fatalf("expected closed door to be ignored, got %+v", got)
	}
}

func TestCorrelationWindowBoundaryIsInclusive(t *testing.T) {
	events := []model.NormalizedEvent{
		climate(0, 4.0),
		door(10, 1),
		climate(30, 4.0),
		climate(70, 8.0),
	}
	if got := DetectGateway(events); len(got) != 1 {
		t.Fatalf("expected reading exactly at the window end to count, got %+v", got)
	}

	events[3] = climate(71, 8.0)
	if got := DetectGateway(events); len(got) != 0 {
		t.Fatalf("expected reading past the window end to be excluded, got %+v", got)
	}
}

func TestCorrelationSkipsUnparseableDoorTime(t *testing.T) {
	bad := door(10, 1)
	bad.Time = "yesterday"
	events := []model.NormalizedEvent{
		climate(0, 4.0),
		bad,
		door(15, 1),
		climate(20, 4.0),
		climate(30, 7.0),
	}
	got := DetectGateway(events)
	if len(got) != 1 || got[0].Time != at(15) {
		t.Fatalf("expected only the parseable door event to fire, got %+v", got)
	}
}

func TestCorrelationEventTypeDoor(t *testing.T) {
	opened := model.NormalizedEvent{
		Time:              at(10),
		DeviceProfileName: DoorProfileName,
		Payload:           model.Payload{"eventType": model.StringValue("OPEN")},
	}
	events := []model.NormalizedEvent{climate(0, 3.0), opened, climate(20, 3.0), climate(30, 5.5)}
	if got := DetectGateway(events); len(got) != 1 {
		t.Fatalf("expected OPEN event type to count as an opening, got %+v", got)
	}
}

func TestCorrelationIgnoresOtherProfiles(t *testing.T) {
	legacy := climate(20, 20.0)
	legacy.DeviceProfileName = LegacyClimateName
	events := []model.NormalizedEvent{climate(0, 4.0), door(10, 1), legacy, climate(30, 4.5)}
	if got := DetectGateway(events); len(got) != 0 {
		t.Fatalf("expected only %s readings to be collected, got %+v", ClimateProfileName, got)
	}
}

// The forward scan stops at the first entry past the window, so a later in-window reading that
// arrives out of order is not collected.
func TestCorrelationStopsAtFirstEntryPastWindow(t *testing.T) {
	events := []model.NormalizedEvent{
		climate(0, 4.0),
		door(10, 1),
		climate(20, 4.0),
		climate(90, 4.0),
		climate(30, 9.0),
	}
	if got := DetectGateway(events); len(got) != 0 {
		t.Fatalf("expected out-of-order reading to be missed, got %+v", got)
	}
}

func TestCorrelationFractionalTimestamps(t *testing.T) {
	open := door(0, 1)
	open.Time = "2026-01-30T08:00:00.5Z"
	late := climate(0, 9.0)
	late.Time = "2026-01-30T09:00:00.6Z"
	edge := climate(0, 9.0)
	edge.Time = "2026-01-30T09:00:00.5Z"

	events := []model.NormalizedEvent{climate(-5, 4.0), open, climate(20, 4.0), late}
	if got := DetectGateway(events); len(got) != 0 {
		t.Fatalf("expected reading 100ms past the window to be excluded, got %+v", got)
	}
	events[3] = edge
	if got := DetectGateway(events); len(got) != 1 {
		t.Fatalf("expected reading at the exact window end to count, got %+v", got)
	}
}

func TestCorrelationWindowComparesInstantsNotText(t *testing.T) {
	open := door(0, 1)
	open.Time = "2026-01-30T08:00:00.5Z"
	// Sorts after "09:00:00.5Z" as text but is half a second inside the window.
	inside := climate(0, 9.0)
	inside.Time = "2026-01-30T09:00:00Z"

	events := []model.NormalizedEvent{climate(-5, 4.0), open, climate(20, 4.0), inside}
	got := DetectGateway(events)
	if len(got) != 1 || got[0].Time != open.Time {
		t.Fatalf("expected the whole-second reading to fall inside the window, got %+v", got)
	}
}
