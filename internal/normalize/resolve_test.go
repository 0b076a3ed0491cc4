package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"uplinkdash/telemetry-server/internal/model"
)

func TestResolveBatteryPriority(t *testing.T) {
	cases := map[string]struct {
		object string
		want   *float64
	}{
		"earliest key wins":          {object: `{"batteryLevel": 50, "battery_v": 3.3, "Bat": 3.6}`, want: ptr(3.6)},
		"battery_v before battery":   {object: `{"battery": 80, "battery_v": 3.3}`, want: ptr(3.3)},
		"text under higher key":      {object: `{"Bat": "low", "battery": 3.1}`, want: ptr(3.1)},
		"null under higher key":      {object: `{"Bat": null, "batteryLevel": 64}`, want: ptr(64)},
		"only non-numeric matches":   {object: `{"Bat": "low", "battery": true}`, want: nil},
		"no battery keys":            {object: `{"temp": 19.5}`, want: nil},
		"integer literal is numeric": {object: `{"batteryLevel": 100}`, want: ptr(100)},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var obj map[string]any
			dec := json.NewDecoder(strings.NewReader(tc.object))
			dec.UseNumber()
			if err := dec.Decode(&obj); err != nil {
				t.Fatalf("decode object: %v", err)
			}
			assertBattery(t, "ResolveBattery", ResolveBattery(model.PayloadFromMap(obj)), tc.want)

			raw := fmt.Sprintf(`{"time": "2026-01-30T10:15:00Z", "deviceInfo": {"devEui": "dev-1"}, "object": %s}`, tc.object)
			ev, err := Normalize([]byte(raw), "battery.json")
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			assertBattery(t, "Normalize", ev.BatteryNormalized, tc.want)
		})
	}
}

func assertBattery(t *testing.T, label string, got, want *float64) {
	t.Helper()
	switch {
	case want == nil && got != nil:
		t.Fatalf("%s: expected absent battery, got %v", label, *got)
	case want != nil && got == nil:
		t.Fatalf("%s: expected battery %v, got absent", label, *want)
	case want != nil && *got != *want:
		t.Fatalf("%s: expected battery %v, got %v", label, *want, *got)
	}
}

func ptr(v float64) *float64 { return &v }
