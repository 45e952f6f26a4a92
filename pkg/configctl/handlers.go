package configctl

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/confgate/pkg/audit"
	"github.com/platinummonkey/confgate/pkg/observability"
)

// IdentityFunc resolves the caller of an HTTP request. Deployments sit
// behind an authenticating proxy, so this typically reads trusted
// headers.
type IdentityFunc func(r *http.Request) (Identity, error)

// Handlers exposes the configuration service over HTTP.
type Handlers struct {
	service  *Service
	identify IdentityFunc
}

func NewHandlers(service *Service, identify IdentityFunc) *Handlers {
	return &Handlers{service: service, identify: identify}
}

// HeaderIdentity reads the caller from X-Confgate-* headers set by the
// fronting proxy.
func HeaderIdentity(r *http.Request) (Identity, error) {
	id := Identity{
		ID:           r.Header.Get("X-Confgate-User"),
		Email:        r.Header.Get("X-Confgate-Email"),
		Role:         r.Header.Get("X-Confgate-Role"),
		IsAdmin:      r.Header.Get("X-Confgate-Admin") == "true",
		IsSuperAdmin: r.Header.Get("X-Confgate-Super-Admin") == "true",
	}
	if id.ID == "" {
		return Identity{}, errors.New("missing X-Confgate-User header")
	}
	if id.IsSuperAdmin {
		id.IsAdmin = true
	}
	return id, nil
}

// RequestLogging stamps every request with an id (the caller's
// X-Request-Id when present) and stores a request-scoped logger in the
// context for downstream handlers.
func RequestLogging(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := observability.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)
			w.Header().Set("X-Request-Id", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RegisterRoutes mounts the configuration endpoints on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/config", h.handleReadAll).Methods(http.MethodGet)
	router.HandleFunc("/config/export", h.handleExport).Methods(http.MethodGet)
	router.HandleFunc("/config/validate", h.handleValidate).Methods(http.MethodPost)
	router.HandleFunc("/config/access", h.handleAccessSummary).Methods(http.MethodGet)
	router.HandleFunc("/config/{field}", h.handleRead).Methods(http.MethodGet)
	router.HandleFunc("/config/{field}", h.handleWrite).Methods(http.MethodPut)
	router.HandleFunc("/secrets/{name}/rotate", h.handleRotate).Methods(http.MethodPost)
	router.HandleFunc("/secrets/{name}/rotation", h.handleRotationStatus).Methods(http.MethodGet)
	router.HandleFunc("/secrets/{name}/rotation/complete", h.handleCompleteRotation).Methods(http.MethodPost)
	router.HandleFunc("/secrets/{name}/rotation/cancel", h.handleCancelRotation).Methods(http.MethodPost)
}

func (h *Handlers) caller(w http.ResponseWriter, r *http.Request) (Identity, audit.RequestContext, bool) {
	id, err := h.identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return Identity{}, audit.RequestContext{}, false
	}
	requestID := observability.GetRequestID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get("X-Request-Id")
	}
	rc := audit.RequestContext{
		UserID:    id.ID,
		UserEmail: id.Email,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		RequestID: requestID,
	}
	return id, rc, true
}

func (h *Handlers) handleReadAll(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ReadAll(r.Context(), id, rc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, entries)
}

func (h *Handlers) handleRead(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	field := mux.Vars(r)["field"]
	value, err := h.service.Read(r.Context(), id, rc, field)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"field": field, "value": value})
}

func (h *Handlers) handleWrite(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	field := mux.Vars(r)["field"]

	var body struct {
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.Write(r.Context(), id, rc, field, body.Value); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"field": field, "updated": true})
}

func (h *Handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	includeSensitive := r.URL.Query().Get("include_sensitive") == "true"
	entries, err := h.service.Export(r.Context(), id, rc, includeSensitive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, entries)
}

func (h *Handlers) handleValidate(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.service.Validate(r.Context(), id, rc, updates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handlers) handleAccessSummary(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	summary, err := h.service.AccessSummary(r.Context(), id, rc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

func (h *Handlers) handleRotate(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == "" {
		http.Error(w, "request body must carry the new secret value", http.StatusBadRequest)
		return
	}
	status, err := h.service.Rotate(r.Context(), id, rc, name, body.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status)
}

func (h *Handlers) handleRotationStatus(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !id.IsAdmin && !id.IsSuperAdmin {
		http.Error(w, "admin only", http.StatusForbidden)
		return
	}
	if h.service.rotation == nil {
		http.Error(w, "secret rotation is not configured", http.StatusNotFound)
		return
	}
	status, err := h.service.rotation.GetRotationStatus(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status)
}

func (h *Handlers) handleCompleteRotation(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	status, err := h.service.CompleteRotation(r.Context(), id, rc, mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status)
}

func (h *Handlers) handleCancelRotation(w http.ResponseWriter, r *http.Request) {
	id, rc, ok := h.caller(w, r)
	if !ok {
		return
	}
	status, err := h.service.CancelRotation(r.Context(), id, rc, mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case IsPermissionDenied(err):
		status = http.StatusForbidden
	case errors.Is(err, ErrFieldNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrValidationFailed):
		status = http.StatusUnprocessableEntity
	}
	observability.FromContext(r.Context()).WithError(err).WithField("status", status).Debug("request failed")
	http.Error(w, err.Error(), status)
}
