package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"

	"uplinkdash/telemetry-server/internal/model"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// eventRow holds the nullable column values of one uplinks row.
type eventRow struct {
	eventID, time, devEUI               string
	deviceName, profile, appID, appName sql.NullString
	gatewayIDs, objectJSON, devAddr     sql.NullString
	regionConfigID                      sql.NullString
	rssi, fPort, fCnt, frequency, sf    sql.NullInt64
	snr, lat, lon, alt, battery         sql.NullFloat64
	margin, batteryJoin                 sql.NullFloat64
	externalPower, batteryUnavailable   sql.NullBool
	synthetic                           sql.NullBool
}

func scanEvent(sc rowScanner) (model.NormalizedEvent, error) {
	var r eventRow
	err := sc.Scan(
		&r.eventID, &r.time, &r.devEUI, &r.deviceName, &r.profile,
		&r.appID, &r.appName, &r.gatewayIDs, &r.rssi, &r.snr,
		&r.lat, &r.lon, &r.alt, &r.battery, &r.objectJSON,
		&r.fPort, &r.devAddr, &r.fCnt, &r.margin, &r.externalPower,
		&r.batteryUnavailable, &r.batteryJoin, &r.frequency, &r.sf, &r.regionConfigID,
		&r.synthetic,
	)
	if err != nil {
		return model.NormalizedEvent{}, err
	}
	return r.event(), nil
}

func (r eventRow) event() model.NormalizedEvent {
	return model.NormalizedEvent{
		EventID:                 r.eventID,
		Time:                    r.time,
		DevEUI:                  r.devEUI,
		DeviceName:              r.deviceName.String,
		DeviceProfileName:       r.profile.String,
		ApplicationID:           r.appID.String,
		ApplicationName:         r.appName.String,
		GatewayIDs:              decodeGatewayIDs(r.gatewayIDs),
		RSSI:                    intPtr(r.rssi),
		SNR:                     floatPtr(r.snr),
		LocationLat:             floatPtr(r.lat),
		LocationLon:             floatPtr(r.lon),
		LocationAlt:             floatPtr(r.alt),
		BatteryNormalized:       floatPtr(r.battery),
		Payload:                 decodePayload(r.objectJSON),
		FPort:                   intPtr(r.fPort),
		DevAddr:                 r.devAddr.String,
		FCnt:                    intPtr(r.fCnt),
		Margin:                  floatPtr(r.margin),
		ExternalPowerSource:     boolPtr(r.externalPower),
		BatteryLevelUnavailable: boolPtr(r.batteryUnavailable),
		BatteryLevelJoin:        floatPtr(r.batteryJoin),
		Frequency:               intPtr(r.frequency),
		SpreadingFactor:         intPtr(r.sf),
		RegionConfigID:          r.regionConfigID.String,
		Synthetic:               r.synthetic.Valid && r.synthetic.Bool,
	}
}

func encodeGatewayIDs(ids []string) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// decodeGatewayIDs reads the stored JSON list. Malformed or empty lists read as absent.
func decodeGatewayIDs(col sql.NullString) []string {
	if !col.Valid || col.String == "" {
		return nil
	}
	var items []any
	if err := json.Unmarshal([]byte(col.String), &items); err != nil {
		return nil
	}
	var ids []string
	for _, item := range items {
		if id, ok := item.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func encodePayload(p model.Payload) (sql.NullString, error) {
	if len(p) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// decodePayload reads the stored object. Anything that is not a JSON object reads as absent.
func decodePayload(col sql.NullString) model.Payload {
	if !col.Valid || strings.TrimSpace(col.String) == "" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(col.String)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil
	}
	return model.PayloadFromMap(obj)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
