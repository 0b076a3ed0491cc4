// Package anomaly evaluates rule-based anomalies over ordered event slices: per-device
// windowed rules, the gateway door/climate correlation and the organization-wide merge.
package anomaly

import (
	"strings"

	"uplinkdash/telemetry-server/internal/model"
)

// Profile is the closed set of device families that carry detection rules.
type Profile uint8

const (
	ProfileUnknown Profile = iota
	ProfileSoil
	ProfileClimate
	ProfileDistance
	ProfileDoor
	ProfileBattery
)

// Device profile names as reported by the network server.
const (
	SoilProfileName      = "Makerfabs Soil Moisture Sensor"
	ClimateProfileName   = "rbs305-ath"
	LegacyClimateName    = "Multitech RBS301 Temp Sensor"
	DistanceProfileName  = "EM500-UDL"
	DoorProfileName      = "rbs301-dws"
	BatteryProfileName   = "SW3L"
	ultrasonicNameMarker = "Ultrasonic"
)

// ResolveProfile maps a device profile name to its rule family.
func ResolveProfile(name string) Profile {
	switch {
	case name == SoilProfileName:
		return ProfileSoil
	case name == ClimateProfileName, name == LegacyClimateName:
		return ProfileClimate
	case strings.Contains(name, ultrasonicNameMarker), name == DistanceProfileName:
		return ProfileDistance
	case name == DoorProfileName:
		return ProfileDoor
	case name == BatteryProfileName:
		return ProfileBattery
	default:
		return ProfileUnknown
	}
}

func (p Profile) String() string {
	switch p {
	case ProfileSoil:
		return "soil"
	case ProfileClimate:
		return "climate"
	case ProfileDistance:
		return "distance"
	case ProfileDoor:
		return "door"
	case ProfileBattery:
		return "battery"
	default:
		return "unknown"
	}
}

// RuleKind selects how a rule compares the current reading with its window.
type RuleKind uint8

const (
	// DropBelowMin fires when the current value is more than Threshold below the window minimum.
	DropBelowMin RuleKind = iota + 1
	// DropFromMax fires when the current value is more than Threshold percent below the window maximum.
	DropFromMax
	// Spread fires when the window's max-min range exceeds Threshold.
	Spread
	// Jump fires when the absolute difference to the previous reading exceeds Threshold.
	Jump
	// Change fires whenever the previous reading differs.
	Change
)

// Rule is one windowed check. Before and After count neighbouring events (not readings) around
// the current index; the current event itself is never part of its window.
type Rule struct {
	Type       model.AnomalyType
	Field      string
	Kind       RuleKind
	Before     int
	After      int
	MinIndex   int
	MinSamples int
	Threshold  float64
}

var profileRules = map[Profile][]Rule{
	ProfileSoil: {
		{Type: model.AnomalyTempDip, Field: "temp", Kind: DropBelowMin, Before: 24, MinIndex: 1, MinSamples: 1, Threshold: 2.0},
		{Type: model.AnomalySoilDrop, Field: "soil_val", Kind: DropFromMax, Before: 48, MinIndex: 2, MinSamples: 1, Threshold: 20},
	},
	ProfileClimate: {
		{Type: model.AnomalyTempSwing, Field: "temperature", Kind: Spread, Before: 12, After: 12, MinIndex: 2, MinSamples: 2, Threshold: 2.0},
	},
	ProfileDistance: {
		{Type: model.AnomalyDistanceJump, Field: "distance", Kind: Jump, Before: 1, MinIndex: 1, MinSamples: 1, Threshold: 50},
	},
	ProfileDoor: {
		{Type: model.AnomalyDoorToggle, Field: "open", Kind: Change, Before: 1, MinIndex: 1, MinSamples: 1},
	},
	ProfileBattery: {
		{Type: model.AnomalyBatteryDrop, Field: "BAT", Kind: DropBelowMin, Before: 6, MinIndex: 3, MinSamples: 1, Threshold: 0.2},
	},
}

// Rules returns the rules evaluated for p, in evaluation order. Unknown profiles have none.
func (p Profile) Rules() []Rule {
	return profileRules[p]
}
