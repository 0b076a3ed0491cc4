// Package normalize turns raw ChirpStack uplink documents into canonical events.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"uplinkdash/telemetry-server/internal/model"
)

var (
	// ErrRejected marks a record that must be counted invalid and never stored.
	ErrRejected = errors.New("uplink rejected")

	ErrMalformedDocument = fmt.Errorf("%w: document is not a JSON object", ErrRejected)
	ErrMissingTime       = fmt.Errorf("%w: missing time", ErrRejected)
	ErrMissingDevEUI     = fmt.Errorf("%w: missing devEui", ErrRejected)
)

// eventIDSpace scopes name-based event ids derived from raw record bytes.
var eventIDSpace = uuid.MustParse("6f1b7c2e-3a54-4d0e-9b8a-2f6c1d9e4a70")

// Normalize decodes raw and maps it to a NormalizedEvent. source names the record's origin
// (a file path, an MQTT topic) and seeds the fallback event id when it looks like a file.
func Normalize(raw []byte, source string) (model.NormalizedEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return model.NormalizedEvent{}, ErrMalformedDocument
	}
	if err := Validate(doc); err != nil {
		return model.NormalizedEvent{}, err
	}
	return fromDocument(doc, raw, source), nil
}

func fromDocument(doc map[string]any, raw []byte, source string) model.NormalizedEvent {
	deviceInfo, _ := doc["deviceInfo"].(map[string]any)
	rxInfo := objectList(doc["rxInfo"])
	first := firstReception(rxInfo)

	ev := model.NormalizedEvent{
		EventID:                 resolveEventID(doc, raw, source),
		Time:                    timeField(doc),
		DevEUI:                  devEUI(doc, deviceInfo),
		DeviceName:              stringField(deviceInfo, "deviceName"),
		DeviceProfileName:       stringField(deviceInfo, "deviceProfileName"),
		ApplicationID:           stringField(deviceInfo, "applicationId"),
		ApplicationName:         stringField(deviceInfo, "applicationName"),
		GatewayIDs:              gatewayIDs(rxInfo),
		FPort:                   intField(doc, "fPort"),
		DevAddr:                 stringField(doc, "devAddr"),
		FCnt:                    intField(doc, "fCnt"),
		Margin:                  floatField(doc, "margin"),
		ExternalPowerSource:     boolField(doc, "externalPowerSource"),
		BatteryLevelUnavailable: boolField(doc, "batteryLevelUnavailable"),
		BatteryLevelJoin:        floatField(doc, "batteryLevel"),
		RegionConfigID:          stringField(doc, "regionConfigId"),
		Synthetic:               syntheticTag(deviceInfo),
	}

	if first != nil {
		ev.RSSI = intField(first, "rssi")
		ev.SNR = floatField(first, "snr")
		if loc, ok := first["location"].(map[string]any); ok {
			ev.LocationLat = floatField(loc, "latitude")
			ev.LocationLon = floatField(loc, "longitude")
			ev.LocationAlt = floatField(loc, "altitude")
		}
	}

	if obj, ok := doc["object"].(map[string]any); ok {
		ev.Payload = model.PayloadFromMap(obj)
	}
	ev.BatteryNormalized = ResolveBattery(ev.Payload)

	ev.Frequency, ev.SpreadingFactor = radioInfo(doc)

	return ev
}

// Validate reports why a decoded document cannot become an event, or nil.
func Validate(doc map[string]any) error {
	if timeField(doc) == "" {
		return ErrMissingTime
	}
	deviceInfo, _ := doc["deviceInfo"].(map[string]any)
	if devEUI(doc, deviceInfo) == "" {
		return ErrMissingDevEUI
	}
	return nil
}

func timeField(doc map[string]any) string {
	s, _ := doc["time"].(string)
	return strings.TrimSpace(s)
}

func devEUI(doc, deviceInfo map[string]any) string {
	if id := stringField(deviceInfo, "devEui"); id != "" {
		return id
	}
	return stringField(doc, "devEui")
}

func resolveEventID(doc map[string]any, raw []byte, source string) string {
	if id := stringField(doc, "deduplicationId"); id != "" {
		return id
	}
	if stem := fileStem(source); stem != "" {
		return stem
	}
	return uuid.NewSHA1(eventIDSpace, raw).String()
}

// fileStem returns the base name without extension for file-like sources only.
func fileStem(source string) string {
	if !strings.HasSuffix(strings.ToLower(source), ".json") {
		return ""
	}
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func syntheticTag(deviceInfo map[string]any) bool {
	tags, ok := deviceInfo["tags"].(map[string]any)
	if !ok {
		return false
	}
	v, _ := tags["synthetic"].(string)
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func radioInfo(doc map[string]any) (frequency, spreadingFactor *int) {
	tx, ok := doc["txInfo"].(map[string]any)
	if !ok {
		return nil, nil
	}
	if f, ok := number(tx["frequency"]); ok {
		v := int(f)
		frequency = &v
	}
	modulation, _ := tx["modulation"].(map[string]any)
	lora, _ := modulation["lora"].(map[string]any)
	spreadingFactor = intField(lora, "spreadingFactor")
	return frequency, spreadingFactor
}
