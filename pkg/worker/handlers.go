package worker

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nexusd/nexusd/pkg/client"
	"github.com/nexusd/nexusd/pkg/metrics"
)

// Routes builds the worker's /internal HTTP surface. Every route is guarded
// by a bearer action token scoped to both the tenant id in the path and the
// action name of the route.
func (w *Worker) Routes() http.Handler {
	r := mux.NewRouter()
	sub := r.PathPrefix("/internal/tenants/{tenant_id}").Subrouter()

	sub.Handle("/provision", w.action(client.ActionProvision, w.handleProvision)).Methods(http.MethodPost)
	sub.Handle("/start", w.action(client.ActionStart, w.handleStart)).Methods(http.MethodPost)
	sub.Handle("/stop", w.action(client.ActionStop, w.handleStop)).Methods(http.MethodPost)
	sub.Handle("/restart", w.action(client.ActionRestart, w.handleRestart)).Methods(http.MethodPost)
	sub.Handle("/apply_config", w.action(client.ActionApplyConfig, w.handleApplyConfig)).Methods(http.MethodPost)
	sub.Handle("/pair_start", w.action(client.ActionPairStart, w.handlePairStart)).Methods(http.MethodPost)
	sub.Handle("/whatsapp_disconnect", w.action(client.ActionWhatsappDisconnect, w.handleWhatsappDisconnect)).Methods(http.MethodPost)
	sub.Handle("/health", w.action(client.ActionHealth, w.handleHealth)).Methods(http.MethodGet)
	sub.Handle("", w.action(client.ActionDelete, w.handleDelete)).Methods(http.MethodDelete)

	return r
}

// actionHandler is an HTTP handler that has already been verified to carry
// an action token scoped to the path's tenant id and the expected action.
type actionHandler func(w http.ResponseWriter, r *http.Request, tenantID string)

// action wraps handler with bearer verification and request metrics,
// matching the action token's tenant_id claim against the path's
// {tenant_id} so a token minted for one tenant can never reach another's
// container.
func (wk *Worker) action(name string, handler actionHandler) http.Handler {
	return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		timer := metrics.NewTimer()
		tenantID := mux.Vars(req)["tenant_id"]

		token, ok := bearerToken(req)
		if !ok {
			metrics.ActionRequestsTotal.WithLabelValues(name, "unauthorized").Inc()
			http.Error(resp, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := wk.verifier.Verify(token, name)
		if err != nil {
			metrics.ActionRequestsTotal.WithLabelValues(name, "unauthorized").Inc()
			http.Error(resp, err.Error(), http.StatusUnauthorized)
			return
		}
		if claims.TenantID != tenantID {
			metrics.ActionRequestsTotal.WithLabelValues(name, "forbidden").Inc()
			http.Error(resp, "action token scoped to a different tenant", http.StatusForbidden)
			return
		}

		rec := &statusRecorder{ResponseWriter: resp, status: http.StatusOK}
		handler(rec, req, tenantID)

		status := "ok"
		if rec.status >= 400 {
			status = "error"
		}
		metrics.ActionRequestsTotal.WithLabelValues(name, status).Inc()
		timer.ObserveDurationVec(metrics.ActionDuration, name)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

func writeJSON(resp http.ResponseWriter, status int, v interface{}) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(status)
	_ = json.NewEncoder(resp).Encode(v)
}

func writeError(resp http.ResponseWriter, status int, err error) {
	http.Error(resp, err.Error(), status)
}

func (wk *Worker) handleProvision(resp http.ResponseWriter, req *http.Request, tenantID string) {
	var body client.ProvisionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(resp, http.StatusBadRequest, err)
		return
	}
	if err := wk.Provision(req.Context(), tenantID, body.Image, body.Env); err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}

func (wk *Worker) handleStart(resp http.ResponseWriter, req *http.Request, tenantID string) {
	var body client.StartRequest
	_ = json.NewDecoder(req.Body).Decode(&body)
	if err := wk.Start(req.Context(), tenantID, body.Image); err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}

func (wk *Worker) handleStop(resp http.ResponseWriter, req *http.Request, tenantID string) {
	if err := wk.Stop(req.Context(), tenantID); err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}

func (wk *Worker) handleRestart(resp http.ResponseWriter, req *http.Request, tenantID string) {
	var body client.StartRequest
	_ = json.NewDecoder(req.Body).Decode(&body)
	if err := wk.Restart(req.Context(), tenantID, body.Image); err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}

func (wk *Worker) handleApplyConfig(resp http.ResponseWriter, req *http.Request, tenantID string) {
	var body client.ApplyConfigRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(resp, http.StatusBadRequest, err)
		return
	}
	if err := wk.ApplyConfig(req.Context(), tenantID, body.Revision, body.Env); err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}

func (wk *Worker) handlePairStart(resp http.ResponseWriter, req *http.Request, tenantID string) {
	var body struct {
		client.StartRequest
		EventBaseline uint64 `json:"event_baseline"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)
	if err := wk.PairStart(req.Context(), tenantID, body.Image, body.EventBaseline); err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}

func (wk *Worker) handleWhatsappDisconnect(resp http.ResponseWriter, req *http.Request, tenantID string) {
	if err := wk.WhatsappDisconnect(req.Context(), tenantID); err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}

func (wk *Worker) handleDelete(resp http.ResponseWriter, req *http.Request, tenantID string) {
	if err := wk.Delete(req.Context(), tenantID); err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	resp.WriteHeader(http.StatusNoContent)
}

func (wk *Worker) handleHealth(resp http.ResponseWriter, req *http.Request, tenantID string) {
	report, err := wk.Health(req.Context(), tenantID)
	if err != nil {
		writeError(resp, http.StatusInternalServerError, err)
		return
	}
	writeJSON(resp, http.StatusOK, client.HealthResponse{
		Exists:        report.Exists,
		State:         report.State,
		LastHeartbeat: report.LastHeartbeat,
		LastError:     report.LastError,
	})
}
