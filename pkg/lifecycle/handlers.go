package lifecycle

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/siteforge/tenantdb/pkg/registry"
)

// CreateTemplateHandler handles POST /templates/{templateID}/database.
func CreateTemplateHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID := chi.URLParam(r, "templateID")
		instance, err := m.CreateTemplateDatabase(r.Context(), templateID)
		if err != nil {
			writeOperationError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(instance))
	}
}

// CreateWebsiteHandler handles POST /websites/{userID}/database.
// Body: {"name": "<requested site name>"}.
func CreateWebsiteHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		instance, err := m.CreateWebsiteDatabase(r.Context(), userID, body.Name)
		if err != nil {
			writeOperationError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(instance))
	}
}

// CloneHandler handles POST /websites/{userID}/database/clone.
// Body: {"templateId": "...", "name": "..."}.
func CloneHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		var body struct {
			TemplateID string `json:"templateId"`
			Name       string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.TemplateID == "" {
			writeError(w, http.StatusBadRequest, "templateId is required")
			return
		}
		instance, err := m.CloneTemplateToWebsite(r.Context(), body.TemplateID, userID, body.Name)
		if err != nil {
			writeOperationError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(instance))
	}
}

// GetInstanceHandler handles GET /databases/{kind}/{referenceID}.
func GetInstanceHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		instance, err := m.Get(kind, chi.URLParam(r, "referenceID"))
		if err != nil {
			writeOperationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(instance))
	}
}

// ListInstancesHandler handles GET /databases with an optional kind filter.
func ListInstancesHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := registry.Kind(r.URL.Query().Get("kind"))
		if kind != "" && !kind.Valid() {
			writeError(w, http.StatusBadRequest, "unknown kind "+string(kind))
			return
		}
		instances, err := m.List(kind)
		if err != nil {
			writeOperationError(w, err)
			return
		}
		responses := make([]instanceResponse, len(instances))
		for i := range instances {
			responses[i] = toResponse(&instances[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"databases": responses})
	}
}

// DeleteInstanceHandler handles DELETE /databases/{kind}/{referenceID}.
// ?purge=true removes the registry row instead of tombstoning it.
func DeleteInstanceHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		purge := r.URL.Query().Get("purge") == "true"
		if err := m.Delete(r.Context(), kind, chi.URLParam(r, "referenceID"), purge); err != nil {
			writeOperationError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// BackupHandler handles POST /databases/{kind}/{referenceID}/backup.
func BackupHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		path, err := m.Backup(r.Context(), kind, chi.URLParam(r, "referenceID"))
		if err != nil {
			writeOperationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"file": path})
	}
}

// RestoreHandler handles POST /databases/{kind}/{referenceID}/restore.
// Body: {"file": "<dump path>"}.
func RestoreHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		var body struct {
			File string `json:"file"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.File == "" {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		if err := m.Restore(r.Context(), kind, chi.URLParam(r, "referenceID"), body.File); err != nil {
			writeOperationError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// InstallFeatureHandler handles POST /databases/{kind}/{referenceID}/features/{feature}.
// The body, if present, is the feature config object.
func InstallFeatureHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		config := map[string]any{}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
				writeError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
				return
			}
		}
		err := m.InstallFeature(r.Context(), kind, chi.URLParam(r, "referenceID"),
			chi.URLParam(r, "feature"), config)
		if err != nil {
			writeOperationError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// UninstallFeatureHandler handles DELETE /databases/{kind}/{referenceID}/features/{feature}.
func UninstallFeatureHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		err := m.UninstallFeature(r.Context(), kind, chi.URLParam(r, "referenceID"),
			chi.URLParam(r, "feature"))
		if err != nil {
			writeOperationError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListOperationsHandler handles GET /operations.
// Query params: instanceId, limit.
func ListOperationsHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if v, err := strconv.Atoi(l); err == nil && v > 0 {
				limit = v
			}
		}
		records, err := m.History(r.URL.Query().Get("instanceId"), limit)
		if err != nil {
			writeOperationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"operations": records})
	}
}

func kindParam(w http.ResponseWriter, r *http.Request) (registry.Kind, bool) {
	kind := registry.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown kind "+string(kind))
		return "", false
	}
	return kind, true
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
