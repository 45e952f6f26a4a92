package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// AuthorizeFunc decides whether the request may perform the named audit
// permission ("audit_view" or "audit_export"). Returning an error produces a
// 403. Wiring goes through the facade so denials are themselves audited;
// this package stays independent of the rbac package.
type AuthorizeFunc func(r *http.Request, permission string) error

// Handlers exposes HTTP endpoints for querying and exporting the audit log.
type Handlers struct {
	log       *FileLog
	authorize AuthorizeFunc
}

// NewHandlers creates audit HTTP handlers over a file log.
func NewHandlers(log *FileLog, authorize AuthorizeFunc) *Handlers {
	return &Handlers{log: log, authorize: authorize}
}

// RegisterRoutes attaches the audit endpoints to a router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.handleQuery).Methods("GET")
	router.HandleFunc("/audit/summary", h.handleSummary).Methods("GET")
	router.HandleFunc("/audit/export", h.handleExport).Methods("GET")
}

// parseRange reads start/end query params (RFC3339), defaulting to the last
// 24 hours.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	end := now

	if s := r.URL.Query().Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return start, end, err
		}
		start = t
	}
	if s := r.URL.Query().Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return start, end, err
		}
		end = t
	}
	return start, end, nil
}

func parseFilter(r *http.Request) Filter {
	q := r.URL.Query()
	return Filter{
		UserID:    q.Get("user_id"),
		Action:    Action(q.Get("action")),
		FieldName: q.Get("field_name"),
		Severity:  Severity(q.Get("severity")),
	}
}

func (h *Handlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, "audit_view"); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, convErr := strconv.Atoi(s); convErr == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.log.Query(start, end, parseFilter(r), limit)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (h *Handlers) handleSummary(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, "audit_view"); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.log.Summarize(start, end)
	if err != nil {
		http.Error(w, "summary failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (h *Handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, "audit_export"); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	events, err := h.log.Query(start, end, parseFilter(r), 100000)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	data, err := Export(events, format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Write(data)
}
