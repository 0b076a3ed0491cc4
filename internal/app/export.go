package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"

	"uplinkdash/telemetry-server/internal/model"
)

var exportHeader = []string{
	"time",
	"device_name",
	"rssi",
	"snr",
	"battery_normalized",
	"f_port",
	"frequency",
	"spreading_factor",
	"object_json",
}

// handleExport writes a device's events in the requested range as CSV (default) or JSON.
func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	devEUI, ok := requiredParam(w, r, "dev_eui")
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		http.Error(w, "format must be csv or json", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analysisTimeout)
	defer cancel()

	events, err := a.store.EventsByDevice(ctx, devEUI, timeRangeParam(r), exportRowCap)
	if err != nil {
		a.logger.Error("export: failed to load events", "dev_eui", devEUI, "error", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	if format == "json" {
		rows := make([]seriesPoint, 0, len(events))
		for _, ev := range events {
			p := newSeriesPoint(ev)
			p.DeviceName = ev.DeviceName
			rows = append(rows, p)
		}
		a.writeJSON(w, http.StatusOK, rows)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=uplinks.csv")

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	if err := csvWriter.Write(exportHeader); err != nil {
		a.logger.Error("export: failed to write header", "error", err)
		return
	}

	for _, ev := range events {
		if err := csvWriter.Write(exportRecord(ev)); err != nil {
			a.logger.Error("export: failed to write row", "error", err)
			return
		}
	}

	if err := csvWriter.Error(); err != nil {
		a.logger.Error("export: writer error", "error", err)
	}
}

func exportRecord(ev model.NormalizedEvent) []string {
	object := ""
	if len(ev.Payload) > 0 {
		if raw, err := json.Marshal(ev.Payload); err == nil {
			object = string(raw)
		}
	}
	return []string{
		ev.Time,
		ev.DeviceName,
		formatInt(ev.RSSI),
		formatFloat(ev.SNR),
		formatFloat(ev.BatteryNormalized),
		formatInt(ev.FPort),
		formatInt(ev.Frequency),
		formatInt(ev.SpreadingFactor),
		object,
	}
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
