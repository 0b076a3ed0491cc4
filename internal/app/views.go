package app

import (
	"uplinkdash/telemetry-server/internal/anomaly"
	"uplinkdash/telemetry-server/internal/model"
)

// seriesPoint is one row of a device time series. Absent readings encode as null.
type seriesPoint struct {
	Time              string        `json:"time"`
	DeviceName        string        `json:"device_name,omitempty"`
	Object            model.Payload `json:"object"`
	RSSI              *int          `json:"rssi"`
	SNR               *float64      `json:"snr"`
	BatteryNormalized *float64      `json:"battery_normalized"`
	FPort             *int          `json:"f_port"`
	Frequency         *int          `json:"frequency"`
	SpreadingFactor   *int          `json:"spreading_factor"`
}

func newSeriesPoint(ev model.NormalizedEvent) seriesPoint {
	return seriesPoint{
		Time:              ev.Time,
		Object:            ev.Payload,
		RSSI:              ev.RSSI,
		SNR:               ev.SNR,
		BatteryNormalized: ev.BatteryNormalized,
		FPort:             ev.FPort,
		Frequency:         ev.Frequency,
		SpreadingFactor:   ev.SpreadingFactor,
	}
}

// sitePoint is one event heard by a gateway, across every device behind it.
type sitePoint struct {
	Time                string        `json:"time"`
	DevEUI              string        `json:"dev_eui"`
	DeviceName          string        `json:"device_name"`
	DeviceProfileName   string        `json:"device_profile_name"`
	Object              model.Payload `json:"object"`
	RSSI                *int          `json:"rssi"`
	SNR                 *float64      `json:"snr"`
	BatteryNormalized   *float64      `json:"battery_normalized"`
	BatteryLevelJoin    *float64      `json:"battery_level_join"`
	Battery             *float64      `json:"battery"`
	Margin              *float64      `json:"margin"`
	ExternalPowerSource *bool         `json:"external_power_source"`
	Synthetic           bool          `json:"synthetic"`
}

func newSitePoint(ev model.NormalizedEvent) sitePoint {
	return sitePoint{
		Time:                ev.Time,
		DevEUI:              ev.DevEUI,
		DeviceName:          ev.DeviceName,
		DeviceProfileName:   ev.DeviceProfileName,
		Object:              ev.Payload,
		RSSI:                ev.RSSI,
		SNR:                 ev.SNR,
		BatteryNormalized:   ev.BatteryNormalized,
		BatteryLevelJoin:    ev.BatteryLevelJoin,
		Battery:             ev.Battery(),
		Margin:              ev.Margin,
		ExternalPowerSource: ev.ExternalPowerSource,
		Synthetic:           ev.Synthetic,
	}
}

// correlationEntry is a door or climate reading on the merged gateway timeline.
type correlationEntry struct {
	Time        string   `json:"time"`
	Type        string   `json:"type"`
	Open        *float64 `json:"open,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

func correlationTimeline(events []model.NormalizedEvent) []correlationEntry {
	out := make([]correlationEntry, 0, len(events))
	for _, ev := range events {
		switch ev.DeviceProfileName {
		case anomaly.DoorProfileName:
			open := anomaly.DoorState(ev.Payload)
			out = append(out, correlationEntry{Time: ev.Time, Type: "door", Open: &open})
		case anomaly.ClimateProfileName:
			out = append(out, correlationEntry{
				Time:        ev.Time,
				Type:        "climate",
				Temperature: payloadNumber(ev.Payload, "temperature"),
				Humidity:    payloadNumber(ev.Payload, "humidity"),
			})
		}
	}
	return out
}

func payloadNumber(p model.Payload, key string) *float64 {
	v, ok := p.Number(key)
	if !ok {
		return nil
	}
	return &v
}
