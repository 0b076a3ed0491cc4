// Package synthetic produces ChirpStack-shaped uplink documents for demo devices when real
// traffic is sparse. Output is deterministic for a given seed.
package synthetic

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

const (
	GatewayID       = "synthetic-gateway-01"
	ApplicationID   = "synthetic-app"
	ApplicationName = "Synthetic"

	siteLat = 45.42
	siteLon = -75.69

	frequencyHz     = 868100000
	spreadingFactor = 7

	timeLayout = "2006-01-02T15:04:05.000Z"
)

type kind int

const (
	kindSoil kind = iota
	kindLevel
	kindClimate
	kindDoor
	kindSW3L
)

// Device describes one synthetic sensor.
type Device struct {
	DevEUI  string
	Name    string
	Profile string
	kind    kind
}

// Devices is the fixed synthetic fleet, all heard by GatewayID.
var Devices = []Device{
	{DevEUI: "syn_soil_1", Name: "Synthetic Soil 1", Profile: "Makerfabs Soil Moisture Sensor", kind: kindSoil},
	{DevEUI: "syn_soil_2", Name: "Synthetic Soil 2", Profile: "Makerfabs Soil Moisture Sensor", kind: kindSoil},
	{DevEUI: "syn_level_1", Name: "Synthetic Level 1", Profile: "Dragino DDS75-LB Ultrasonic Distance Sensor", kind: kindLevel},
	{DevEUI: "syn_climate_1", Name: "Synthetic Climate 1", Profile: "rbs305-ath", kind: kindClimate},
	{DevEUI: "syn_climate_2", Name: "Synthetic Climate 2", Profile: "rbs305-ath", kind: kindClimate},
	{DevEUI: "syn_door_1", Name: "Synthetic Door 1", Profile: "rbs301-dws", kind: kindDoor},
	{DevEUI: "syn_sw3l_1", Name: "Synthetic SW3L 1", Profile: "SW3L", kind: kindSW3L},
}

// Uplink is one generated document ready for ingestion or publishing.
type Uplink struct {
	DevEUI        string
	ApplicationID string
	Time          time.Time
	Body          []byte
}

// Generator is not safe for concurrent use.
type Generator struct {
	rng   *rand.Rand
	steps map[string]int
}

func New(seed int64) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		steps: make(map[string]int),
	}
}

// Backfill spreads readings for every device across [from, to] at roughly one per interval,
// with at least 24 points per device and up to 30 minutes of jitter.
func (g *Generator) Backfill(from, to time.Time, interval time.Duration) ([]Uplink, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("backfill range: %s is not after %s", to, from)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("backfill interval must be positive")
	}

	span := to.Sub(from)
	points := max(24, int(span/interval))

	var out []Uplink
	for _, d := range Devices {
		for step := 0; step < points; step++ {
			offset := time.Duration(float64(span) * float64(step) / float64(max(1, points-1)))
			jitter := time.Duration(g.rng.Intn(61)-30) * time.Minute
			u, err := g.uplink(d, step, from.Add(offset+jitter))
			if err != nil {
				return nil, err
			}
			out = append(out, u)
		}
		g.steps[d.DevEUI] = points
	}
	return out, nil
}

// Tick returns one reading per device stamped at.
func (g *Generator) Tick(at time.Time) ([]Uplink, error) {
	out := make([]Uplink, 0, len(Devices))
	for _, d := range Devices {
		step := g.steps[d.DevEUI]
		u, err := g.uplink(d, step, at)
		if err != nil {
			return nil, err
		}
		g.steps[d.DevEUI] = step + 1
		out = append(out, u)
	}
	return out, nil
}

type document struct {
	DeduplicationID string         `json:"deduplicationId"`
	Time            string         `json:"time"`
	DeviceInfo      deviceInfo     `json:"deviceInfo"`
	FCnt            int            `json:"fCnt"`
	FPort           int            `json:"fPort"`
	Object          map[string]any `json:"object"`
	RxInfo          []rxInfo       `json:"rxInfo"`
	TxInfo          txInfo         `json:"txInfo"`
}

type deviceInfo struct {
	DevEUI            string            `json:"devEui"`
	DeviceName        string            `json:"deviceName"`
	DeviceProfileName string            `json:"deviceProfileName"`
	ApplicationID     string            `json:"applicationId"`
	ApplicationName   string            `json:"applicationName"`
	Tags              map[string]string `json:"tags"`
}

type rxInfo struct {
	GatewayID string   `json:"gatewayId"`
	RSSI      int      `json:"rssi"`
	SNR       float64  `json:"snr"`
	Location  location `json:"location"`
}

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type txInfo struct {
	Frequency  int `json:"frequency"`
	Modulation struct {
		LoRa struct {
			SpreadingFactor int `json:"spreadingFactor"`
		} `json:"lora"`
	} `json:"modulation"`
}

func (g *Generator) uplink(d Device, step int, at time.Time) (Uplink, error) {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return Uplink{}, fmt.Errorf("generate deduplication id: %w", err)
	}

	doc := document{
		DeduplicationID: id.String(),
		Time:            at.UTC().Format(timeLayout),
		DeviceInfo: deviceInfo{
			DevEUI:            d.DevEUI,
			DeviceName:        d.Name,
			DeviceProfileName: d.Profile,
			ApplicationID:     ApplicationID,
			ApplicationName:   ApplicationName,
			Tags:              map[string]string{"synthetic": "true"},
		},
		FCnt:   step,
		FPort:  1,
		Object: g.reading(d.kind, step),
		RxInfo: []rxInfo{{
			GatewayID: GatewayID,
			RSSI:      -115 + g.rng.Intn(41),
			SNR:       round(2+g.rng.Float64()*7, 1),
			Location: location{
				Latitude:  siteLat + g.rng.NormFloat64()*0.002,
				Longitude: siteLon + g.rng.NormFloat64()*0.002,
			},
		}},
	}
	doc.TxInfo.Frequency = frequencyHz
	doc.TxInfo.Modulation.LoRa.SpreadingFactor = spreadingFactor

	body, err := json.Marshal(doc)
	if err != nil {
		return Uplink{}, fmt.Errorf("encode uplink: %w", err)
	}
	return Uplink{DevEUI: d.DevEUI, ApplicationID: ApplicationID, Time: at.UTC(), Body: body}, nil
}

// reading builds the decoded payload. Each kind injects an anomaly on a fixed step cycle.
func (g *Generator) reading(k kind, step int) map[string]any {
	switch k {
	case kindSoil:
		temp := 19 + g.rng.NormFloat64()*0.6
		if step%47 == 23 {
			temp = 19 - 3.2
		}
		soil := clamp(600+g.rng.NormFloat64()*80, 100, 1400)
		hum := clamp(18+g.rng.NormFloat64()*3, 5, 40)
		return map[string]any{
			"soil_val":  round(soil, 1),
			"temp":      round(temp, 2),
			"hum":       round(hum, 1),
			"battery_v": round(2.9+g.rng.NormFloat64()*0.08, 2),
		}
	case kindLevel:
		dist := 180 + g.rng.NormFloat64()*25
		if step%31 == 15 {
			dist = float64(180 + 80 + g.rng.Intn(41))
		}
		return map[string]any{
			"distance": int(clamp(dist, 50, 400)),
			"Bat":      round(3.2+g.rng.NormFloat64()*0.06, 2),
		}
	case kindClimate:
		temp := 22 + g.rng.NormFloat64()*0.8
		if step%41 == 20 {
			temp = 22 + 3.5 + g.rng.NormFloat64()*0.4
		}
		hum := clamp(12+g.rng.NormFloat64()*6, 5, 65)
		return map[string]any{"temperature": round(temp, 2), "humidity": round(hum, 1)}
	case kindDoor:
		open, state := 0, "CLOSED"
		if step%20 < 8 {
			open, state = 1, "OPEN"
		}
		return map[string]any{"open": open, "eventType": state}
	case kindSW3L:
		bat := 3.3 - float64(step)*0.00008 + g.rng.NormFloat64()*0.03
		if step%50 == 25 {
			bat -= 0.22
		}
		return map[string]any{
			"BAT":            round(clamp(bat, 2.6, 3.7), 2),
			"FREQUENCY_BAND": "US915",
			"SUB_BAND":       0,
		}
	}
	return map[string]any{}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
