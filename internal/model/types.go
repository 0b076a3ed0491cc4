package model

// NormalizedEvent is the canonical form of one ingested uplink.
// Optional numeric and boolean fields are nil when absent; optional strings are empty.
type NormalizedEvent struct {
	EventID                 string   `json:"event_id"`
	Time                    string   `json:"time"`
	DevEUI                  string   `json:"dev_eui"`
	DeviceName              string   `json:"device_name,omitempty"`
	DeviceProfileName       string   `json:"device_profile_name,omitempty"`
	ApplicationID           string   `json:"application_id,omitempty"`
	ApplicationName         string   `json:"application_name,omitempty"`
	GatewayIDs              []string `json:"gateway_ids,omitempty"`
	RSSI                    *int     `json:"rssi,omitempty"`
	SNR                     *float64 `json:"snr,omitempty"`
	LocationLat             *float64 `json:"location_lat,omitempty"`
	LocationLon             *float64 `json:"location_lon,omitempty"`
	LocationAlt             *float64 `json:"location_alt,omitempty"`
	BatteryNormalized       *float64 `json:"battery_normalized,omitempty"`
	Payload                 Payload  `json:"object,omitempty"`
	FPort                   *int     `json:"f_port,omitempty"`
	DevAddr                 string   `json:"dev_addr,omitempty"`
	FCnt                    *int     `json:"f_cnt,omitempty"`
	Margin                  *float64 `json:"margin,omitempty"`
	ExternalPowerSource     *bool    `json:"external_power_source,omitempty"`
	BatteryLevelUnavailable *bool    `json:"battery_level_unavailable,omitempty"`
	BatteryLevelJoin        *float64 `json:"battery_level_join,omitempty"`
	Frequency               *int     `json:"frequency,omitempty"`
	SpreadingFactor         *int     `json:"spreading_factor,omitempty"`
	RegionConfigID          string   `json:"region_config_id,omitempty"`
	Synthetic               bool     `json:"synthetic"`
}

// Battery returns the payload battery reading, falling back to the join/status battery level.
func (e NormalizedEvent) Battery() *float64 {
	if e.BatteryNormalized != nil {
		return e.BatteryNormalized
	}
	return e.BatteryLevelJoin
}

// HasGateway reports whether the uplink was heard by the given gateway.
func (e NormalizedEvent) HasGateway(id string) bool {
	for _, gw := range e.GatewayIDs {
		if gw == id {
			return true
		}
	}
	return false
}

// TimeRange bounds a scan by stored time strings. Empty bounds are open.
type TimeRange struct {
	From string
	To   string
}

// AnomalyType tags the rule that produced an anomaly.
type AnomalyType string

const (
	AnomalyTempDip       AnomalyType = "temp_dip"
	AnomalySoilDrop      AnomalyType = "soil_drop"
	AnomalyTempSwing     AnomalyType = "temp_swing"
	AnomalyDistanceJump  AnomalyType = "distance_jump"
	AnomalyDoorToggle    AnomalyType = "door_toggle"
	AnomalyBatteryDrop   AnomalyType = "battery_drop"
	AnomalyDoorTempDelta AnomalyType = "door_temp_delta"
)

// Anomaly is a rule firing computed on demand; it is never persisted.
type Anomaly struct {
	Time        string      `json:"time"`
	Type        AnomalyType `json:"type"`
	Description string      `json:"description"`
	GatewayID   string      `json:"gateway_id,omitempty"`
}

// ProfileCount is the number of stored events for one device profile.
type ProfileCount struct {
	Profile string `json:"profile"`
	Count   int    `json:"count"`
}

// DeviceSummary is one row of the device list.
type DeviceSummary struct {
	DevEUI              string   `json:"dev_eui"`
	DeviceName          string   `json:"device_name,omitempty"`
	DeviceProfileName   string   `json:"device_profile_name,omitempty"`
	LastSeen            string   `json:"last_seen"`
	RSSI                *int     `json:"rssi,omitempty"`
	SNR                 *float64 `json:"snr,omitempty"`
	Battery             *float64 `json:"battery,omitempty"`
	Margin              *float64 `json:"margin,omitempty"`
	ExternalPowerSource *bool    `json:"external_power_source,omitempty"`
	Synthetic           bool     `json:"synthetic"`
}

// DevicePassport aggregates identity and health facts for one device.
type DevicePassport struct {
	DeviceSummary
	ApplicationName string   `json:"application_name,omitempty"`
	FirstSeen       string   `json:"first_seen"`
	EventCount      int      `json:"event_count"`
	Gateways        []string `json:"gateways"`
	PayloadKeys     []string `json:"payload_keys"`
}

// GatewayStat counts events heard by a gateway, with a representative location when known.
type GatewayStat struct {
	GatewayID  string   `json:"gateway_id"`
	EventCount int      `json:"event_count"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
	Alt        *float64 `json:"alt,omitempty"`
}

// DataGaps summarizes how many stored rows lack each optional field.
type DataGaps struct {
	Total        int `json:"total"`
	NoPayload    int `json:"no_payload"`
	NoGateways   int `json:"no_gateway_ids"`
	NoLocation   int `json:"no_location"`
	HasLocation  int `json:"has_location"`
	NoRSSI       int `json:"no_rssi"`
	NoSNR        int `json:"no_snr"`
	NoBattery    int `json:"no_battery"`
	SyntheticRow int `json:"synthetic"`
}

// IngestionError captures a raw record that was rejected or failed to persist.
type IngestionError struct {
	Source    string `json:"source"`
	Payload   string `json:"payload"`
	Error     string `json:"error"`
	CreatedAt string `json:"created_at,omitempty"`
}
