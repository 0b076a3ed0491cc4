package normalize

import (
	"encoding/json"
	"strings"

	"uplinkdash/telemetry-server/internal/model"
)

// BatteryKeys lists payload battery field names, highest priority first.
var BatteryKeys = []string{"Bat", "battery_v", "battery", "batteryLevel"}

// ResolveBattery returns the first numeric value found under BatteryKeys.
// Priority follows BatteryKeys, never the payload's own field order.
func ResolveBattery(p model.Payload) *float64 {
	for _, key := range BatteryKeys {
		if v, ok := p.Number(key); ok {
			return &v
		}
	}
	return nil
}

// firstReception returns rxInfo[0]. Signal and location always come from the first-listed
// gateway, not the strongest one.
func firstReception(rx []map[string]any) map[string]any {
	if len(rx) == 0 {
		return nil
	}
	return rx[0]
}

// gatewayIDs collects every reception's gatewayId in first-seen order without duplicates.
func gatewayIDs(rx []map[string]any) []string {
	var ids []string
	seen := make(map[string]struct{}, len(rx))
	for _, entry := range rx {
		id := stringField(entry, "gatewayId")
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// objectList keeps the object entries of a JSON array. A non-array yields nil.
// A non-object first entry still occupies position zero so it cannot promote a later gateway.
func objectList(x any) []map[string]any {
	items, ok := x.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]any)
		out = append(out, m)
	}
	return out
}

func number(x any) (float64, bool) {
	switch t := x.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func integer(x any) (int, bool) {
	switch t := x.(type) {
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case int:
		return t, true
	case int64:
		return int(t), true
	default:
		return 0, false
	}
}

func floatField(m map[string]any, key string) *float64 {
	v, ok := number(m[key])
	if !ok {
		return nil
	}
	return &v
}

func intField(m map[string]any, key string) *int {
	v, ok := integer(m[key])
	if !ok {
		return nil
	}
	return &v
}

func boolField(m map[string]any, key string) *bool {
	v, ok := m[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

// stringField returns the trimmed string under key; other types and blanks read as absent.
func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
