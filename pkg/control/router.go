package control

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router builds the control service's HTTP surface: public auth endpoints,
// session-authenticated tenant endpoints, and the worker-facing bridge
// ingestion endpoint. It is exposed as *mux.Router (rather than only
// Routes' http.Handler) so a caller can mount pkg/gateway's WebSocket route
// onto the same router before serving it.
func (c *Control) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/auth/signup", c.HandleSignup).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", c.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", c.HandleRefresh).Methods(http.MethodPost)

	r.HandleFunc("/internal/events", c.HandleBridgeIngest).Methods(http.MethodPost)

	tenants := r.PathPrefix("/tenants").Subrouter()
	tenants.HandleFunc("/setup", c.withAuth(c.HandleTenantSetup)).Methods(http.MethodPost)
	tenants.HandleFunc("/{id}/status", c.withAuth(c.HandleTenantStatus)).Methods(http.MethodGet)
	tenants.HandleFunc("/{id}/runtime/start", c.withAuth(c.HandleRuntimeStart)).Methods(http.MethodPost)
	tenants.HandleFunc("/{id}/runtime/stop", c.withAuth(c.HandleRuntimeStop)).Methods(http.MethodPost)
	tenants.HandleFunc("/{id}/runtime/restart", c.withAuth(c.HandleRuntimeRestart)).Methods(http.MethodPost)
	tenants.HandleFunc("/{id}/whatsapp/pair/start", c.withAuth(c.HandlePairStart)).Methods(http.MethodPost)
	tenants.HandleFunc("/{id}/whatsapp/disconnect", c.withAuth(c.HandleWhatsappDisconnect)).Methods(http.MethodPost)

	tenants.HandleFunc("/{id}/config", c.withAuth(c.HandleGetConfig)).Methods(http.MethodGet)
	tenants.HandleFunc("/{id}/config", c.withAuth(c.HandlePatchConfig)).Methods(http.MethodPatch)

	tenants.HandleFunc("/{id}/prompts", c.withAuth(c.HandleListPrompts)).Methods(http.MethodGet)
	tenants.HandleFunc("/{id}/prompts/{name}", c.withAuth(c.HandlePutPrompt)).Methods(http.MethodPut)

	tenants.HandleFunc("/{id}/skills", c.withAuth(c.HandleListSkills)).Methods(http.MethodGet)
	tenants.HandleFunc("/{id}/skills/{skill_id}", c.withAuth(c.HandlePutSkill)).Methods(http.MethodPut)

	tenants.HandleFunc("/{id}/events/recent", c.withAuth(c.HandleRecentEvents)).Methods(http.MethodGet)

	return r
}

// Routes builds the control service's HTTP surface for direct use as an
// http.Handler.
func (c *Control) Routes() http.Handler {
	return c.Router()
}
