package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"uplinkdash/telemetry-server/internal/model"
)

const (
	defaultSeriesLimit  = 5000
	maxSeriesLimit      = 20000
	defaultCorrLimit    = 3000
	maxAnomalyLimit     = 10000
	defaultOrgLimit     = 20
	maxOrgLimit         = 100
	exportRowCap        = 10000
	defaultErrorsLimit  = 50
	maxErrorsLimit      = 500
	maxUplinkBodyBytes  = 1 << 20
	corsMaxAgeInSeconds = 600
)

func (a *App) routes() http.Handler {
	r := mux.NewRouter()

	handle := func(path, name string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, a.metrics.WrapHandler(name, h)).Methods(methods...)
	}

	handle("/healthz", "healthz", a.handleHealthz, http.MethodGet)
	handle("/readyz", "readyz", a.handleReadyz, http.MethodGet)

	handle("/api/profiles", "profiles", a.handleProfiles, http.MethodGet)
	handle("/api/devices", "devices", a.handleDevices, http.MethodGet)
	handle("/api/device/{dev_eui}", "device", a.handleDevicePassport, http.MethodGet)
	handle("/api/timeseries", "timeseries", a.handleTimeseries, http.MethodGet)
	handle("/api/gateways", "gateways", a.handleGateways, http.MethodGet)
	handle("/api/site", "site", a.handleSite, http.MethodGet)
	handle("/api/correlation", "correlation", a.handleCorrelation, http.MethodGet)
	handle("/api/anomalies", "anomalies", a.handleGatewayAnomalies, http.MethodGet)
	handle("/api/anomalies/org", "anomalies_org", a.handleOrgAnomalies, http.MethodGet)
	handle("/api/anomalies/device", "anomalies_device", a.handleDeviceAnomalies, http.MethodGet)
	handle("/api/export", "export", a.handleExport, http.MethodGet)
	handle("/api/data-gaps", "data_gaps", a.handleDataGaps, http.MethodGet)
	handle("/api/ingestion-errors", "ingestion_errors", a.handleIngestionErrors, http.MethodGet)
	handle("/api/uplinks", "uplinks", a.handlePostUplink, http.MethodPost)

	r.PathPrefix("/").Handler(http.FileServer(http.Dir(a.webDir))).Methods(http.MethodGet)

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.MaxAge(corsMaxAgeInSeconds),
	)(r)
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

// requireStore answers 503 until the store is attached.
func (a *App) requireStore(w http.ResponseWriter) bool {
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// requiredParam writes a 400 when the query parameter is missing or blank.
func requiredParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		http.Error(w, name+" is required", http.StatusBadRequest)
		return "", false
	}
	return v, true
}

// limitParam reads limit, clamped to [1, upper]. A non-integer value is a 400.
func limitParam(w http.ResponseWriter, r *http.Request, def, upper int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
		return 0, false
	}
	return max(1, min(upper, n)), true
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func timeRangeParam(r *http.Request) model.TimeRange {
	q := r.URL.Query()
	return model.TimeRange{From: strings.TrimSpace(q.Get("from")), To: strings.TrimSpace(q.Get("to"))}
}

// intParam reads an optional integer query parameter. A non-integer value is a 400.
func intParam(w http.ResponseWriter, r *http.Request, name string) (*int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid %s %q", name, v), http.StatusBadRequest)
		return nil, false
	}
	return &n, true
}
