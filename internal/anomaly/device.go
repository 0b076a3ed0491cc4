package anomaly

import (
	"fmt"
	"math"

	"uplinkdash/telemetry-server/internal/model"
)

// MaxDeviceAnomalies caps the result of a single per-device evaluation.
const MaxDeviceAnomalies = 50

// rowOutcome is the result of evaluating one rule against one row.
type rowOutcome uint8

const (
	rowSkip rowOutcome = iota
	rowQuiet
	rowFired
)

// DetectDevice runs the rules of profile over events, which must be ordered by time ascending.
// Results keep scan order and stop at MaxDeviceAnomalies.
func DetectDevice(events []model.NormalizedEvent, profile string) []model.Anomaly {
	rules := ResolveProfile(profile).Rules()
	if len(rules) == 0 {
		return nil
	}

	var out []model.Anomaly
	for i := range events {
		if _, ok := parseTime(events[i].Time); !ok {
			continue
		}
		for _, rule := range rules {
			a, outcome := rule.evaluate(events, i)
			if outcome != rowFired {
				continue
			}
			out = append(out, a)
			if len(out) == MaxDeviceAnomalies {
				return out
			}
		}
	}
	return out
}

// reading extracts the rule's value from one row.
func (r Rule) reading(ev model.NormalizedEvent) (float64, bool) {
	if r.Kind == Change {
		return doorState(ev.Payload)
	}
	return ev.Payload.Number(r.Field)
}

// neighbour reads a window row. A door row without state counts as closed; only the
// current row needs a state of its own.
func (r Rule) neighbour(ev model.NormalizedEvent) (float64, bool) {
	if r.Kind == Change {
		return DoorState(ev.Payload), true
	}
	return r.reading(ev)
}

// window collects readable values from the neighbours of index i, oldest first.
func (r Rule) window(events []model.NormalizedEvent, i int) []float64 {
	lo := max(0, i-r.Before)
	hi := min(len(events), i+r.After+1)
	samples := make([]float64, 0, hi-lo)
	for j := lo; j < hi; j++ {
		if j == i {
			continue
		}
		if v, ok := r.neighbour(events[j]); ok {
			samples = append(samples, v)
		}
	}
	return samples
}

func (r Rule) evaluate(events []model.NormalizedEvent, i int) (model.Anomaly, rowOutcome) {
	if i < r.MinIndex {
		return model.Anomaly{}, rowSkip
	}
	cur, ok := r.reading(events[i])
	if !ok {
		return model.Anomaly{}, rowSkip
	}
	samples := r.window(events, i)
	if len(samples) < r.MinSamples || len(samples) == 0 {
		return model.Anomaly{}, rowSkip
	}

	var desc string
	switch r.Kind {
	case DropBelowMin:
		lo, _ := bounds(samples)
		if !(cur < lo-r.Threshold) {
			return model.Anomaly{}, rowQuiet
		}
		desc = r.describeDrop(cur, lo-cur)
	case DropFromMax:
		_, hi := bounds(samples)
		if hi <= 0 {
			return model.Anomaly{}, rowSkip
		}
		pct := (hi - cur) / hi * 100
		if !(pct > r.Threshold) {
			return model.Anomaly{}, rowQuiet
		}
		desc = fmt.Sprintf("Soil value dropped %.1f%% from recent maximum", pct)
	case Spread:
		lo, hi := bounds(samples)
		if !(hi-lo > r.Threshold) {
			return model.Anomaly{}, rowQuiet
		}
		desc = fmt.Sprintf("Temperature swing of %.1f°C in window (current %s°C)", hi-lo, formatNumber(cur))
	case Jump:
		prev := samples[len(samples)-1]
		if !(math.Abs(cur-prev) > r.Threshold) {
			return model.Anomaly{}, rowQuiet
		}
		desc = fmt.Sprintf("Distance jump from %s to %s", formatNumber(prev), formatNumber(cur))
	case Change:
		if samples[len(samples)-1] == cur {
			return model.Anomaly{}, rowQuiet
		}
		desc = "Door state changed"
	default:
		return model.Anomaly{}, rowSkip
	}

	return model.Anomaly{Time: events[i].Time, Type: r.Type, Description: desc}, rowFired
}

func (r Rule) describeDrop(cur, drop float64) string {
	if r.Type == model.AnomalyBatteryDrop {
		return fmt.Sprintf("Battery drop to %sV (%.1fV below recent minimum)", formatNumber(cur), drop)
	}
	return fmt.Sprintf("Temperature dip to %s°C (drop of %.1f°C from recent minimum)", formatNumber(cur), drop)
}

// doorState reads a door contact: a numeric open flag wins, otherwise the event type tag maps
// OPEN to 1 and anything else to 0. Rows with neither carry no state.
func doorState(p model.Payload) (float64, bool) {
	if v, ok := p.Number("open"); ok {
		return v, true
	}
	if tag, ok := p.Text("eventType"); ok {
		if tag == "OPEN" {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// DoorState is the door contact reading of p, with rows carrying no state read as closed.
func DoorState(p model.Payload) float64 {
	v, _ := doorState(p)
	return v
}

func bounds(samples []float64) (lo, hi float64) {
	lo, hi = samples[0], samples[0]
	for _, v := range samples[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
