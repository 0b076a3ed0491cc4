package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"uplinkdash/telemetry-server/internal/anomaly"
	"uplinkdash/telemetry-server/internal/ingest"
	"uplinkdash/telemetry-server/internal/model"
	"uplinkdash/telemetry-server/internal/store"
)

const (
	queryTimeout    = 2 * time.Second
	analysisTimeout = 10 * time.Second
)

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	profiles, err := a.store.Profiles(ctx)
	if err != nil {
		a.logger.Error("failed to load profiles", "error", err)
		http.Error(w, "failed to load profiles", http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []model.ProfileCount{}
	}
	a.writeJSON(w, http.StatusOK, profiles)
}

func (a *App) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	devices, err := a.store.Devices(ctx, r.URL.Query().Get("profile"), boolParam(r, "include_health"))
	if err != nil {
		a.logger.Error("failed to load devices", "error", err)
		http.Error(w, "failed to load devices", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, devices)
}

func (a *App) handleDevicePassport(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	devEUI := mux.Vars(r)["dev_eui"]

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	passport, err := a.store.DevicePassport(ctx, devEUI)
	if errors.Is(err, store.ErrNotFound) {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Device not found", "dev_eui": devEUI})
		return
	}
	if err != nil {
		a.logger.Error("failed to load device passport", "dev_eui", devEUI, "error", err)
		http.Error(w, "failed to load device", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, passport)
}

func (a *App) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	devEUI, ok := requiredParam(w, r, "dev_eui")
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, defaultSeriesLimit, maxSeriesLimit)
	if !ok {
		return
	}
	fPort, ok := intParam(w, r, "f_port")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	events, err := a.store.Timeseries(ctx, devEUI, timeRangeParam(r), fPort, limit)
	if err != nil {
		a.logger.Error("failed to load timeseries", "dev_eui", devEUI, "error", err)
		http.Error(w, "failed to load timeseries", http.StatusInternalServerError)
		return
	}

	points := make([]seriesPoint, 0, len(events))
	for _, ev := range events {
		points = append(points, newSeriesPoint(ev))
	}
	a.writeJSON(w, http.StatusOK, points)
}

func (a *App) handleGateways(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	stats, err := a.store.GatewayStats(ctx, boolParam(r, "with_location"))
	if err != nil {
		a.logger.Error("failed to load gateways", "error", err)
		http.Error(w, "failed to load gateways", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *App) handleSite(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	gateway, ok := requiredParam(w, r, "gateway")
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, defaultSeriesLimit, maxSeriesLimit)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	events, err := a.store.EventsByGateway(ctx, gateway, nil, timeRangeParam(r), limit)
	if err != nil {
		a.logger.Error("failed to load site events", "gateway", gateway, "error", err)
		http.Error(w, "failed to load site events", http.StatusInternalServerError)
		return
	}

	points := make([]sitePoint, 0, len(events))
	for _, ev := range events {
		points = append(points, newSitePoint(ev))
	}
	a.writeJSON(w, http.StatusOK, points)
}

func (a *App) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	gateway, ok := requiredParam(w, r, "gateway")
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, defaultCorrLimit, maxAnomalyLimit)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	events, err := a.store.EventsByGateway(ctx, gateway, anomaly.CorrelationProfiles, timeRangeParam(r), limit)
	if err != nil {
		a.logger.Error("failed to load correlation events", "gateway", gateway, "error", err)
		http.Error(w, "failed to load correlation events", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, http.StatusOK, struct {
		Events []correlationEntry `json:"events"`
	}{Events: correlationTimeline(events)})
}

func (a *App) handleGatewayAnomalies(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	gateway, ok := requiredParam(w, r, "gateway")
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, defaultSeriesLimit, maxAnomalyLimit)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analysisTimeout)
	defer cancel()

	found, err := a.anomalies.GatewayAnomalies(ctx, gateway, timeRangeParam(r), limit)
	if err != nil {
		a.logger.Error("failed to evaluate gateway anomalies", "gateway", gateway, "error", err)
		http.Error(w, "failed to evaluate anomalies", http.StatusInternalServerError)
		return
	}
	a.writeAnomalies(w, found)
}

func (a *App) handleOrgAnomalies(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	limit, ok := limitParam(w, r, defaultOrgLimit, maxOrgLimit)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analysisTimeout)
	defer cancel()

	found, err := a.anomalies.OrgAnomalies(ctx, limit)
	if err != nil {
		a.logger.Error("failed to evaluate org anomalies", "error", err)
		http.Error(w, "failed to evaluate anomalies", http.StatusInternalServerError)
		return
	}
	a.writeAnomalies(w, found)
}

func (a *App) handleDeviceAnomalies(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	devEUI, ok := requiredParam(w, r, "dev_eui")
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, defaultSeriesLimit, maxAnomalyLimit)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analysisTimeout)
	defer cancel()

	found, err := a.anomalies.DeviceAnomalies(ctx, devEUI, timeRangeParam(r), limit)
	if err != nil {
		a.logger.Error("failed to evaluate device anomalies", "dev_eui", devEUI, "error", err)
		http.Error(w, "failed to evaluate anomalies", http.StatusInternalServerError)
		return
	}
	a.writeAnomalies(w, found)
}

func (a *App) writeAnomalies(w http.ResponseWriter, found []model.Anomaly) {
	if found == nil {
		found = []model.Anomaly{}
	}
	a.writeJSON(w, http.StatusOK, struct {
		Anomalies []model.Anomaly `json:"anomalies"`
	}{Anomalies: found})
}

func (a *App) handleDataGaps(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	gaps, err := a.store.DataGaps(ctx)
	if err != nil {
		a.logger.Error("failed to compute data gaps", "error", err)
		http.Error(w, "failed to compute data gaps", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, gaps)
}

func (a *App) handleIngestionErrors(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	limit, ok := limitParam(w, r, defaultErrorsLimit, maxErrorsLimit)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	errs, err := a.store.RecentIngestionErrors(ctx, limit)
	if err != nil {
		a.logger.Error("failed to load ingestion errors", "error", err)
		http.Error(w, "failed to load ingestion errors", http.StatusInternalServerError)
		return
	}
	if errs == nil {
		errs = []model.IngestionError{}
	}
	a.writeJSON(w, http.StatusOK, struct {
		Errors []model.IngestionError `json:"errors"`
	}{Errors: errs})
}

// handlePostUplink ingests one ChirpStack uplink document posted by an HTTP integration.
func (a *App) handlePostUplink(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUplinkBodyBytes))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusRequestEntityTooLarge)
		return
	}

	outcome, err := a.ingester.Ingest(r.Context(), ingest.Record{Source: ingest.SourceHTTP, Ref: r.RemoteAddr, Raw: body})
	if err != nil {
		a.logger.Error("failed to store posted uplink", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "failed to store uplink", http.StatusInternalServerError)
		return
	}

	if outcome == ingest.OutcomeInvalid {
		a.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"status": "invalid"})
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}
