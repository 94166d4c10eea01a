package lifecycle

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/siteforge/tenantdb/pkg/backup"
	"github.com/siteforge/tenantdb/pkg/clone"
	"github.com/siteforge/tenantdb/pkg/feature"
	"github.com/siteforge/tenantdb/pkg/registry"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeOperationError maps the error taxonomy onto HTTP statuses. The
// underlying message always travels to the caller; nothing is swallowed.
func writeOperationError(w http.ResponseWriter, err error) {
	var transitionErr *registry.TransitionError
	var processErr *backup.ProcessError
	switch {
	case errors.Is(err, registry.ErrInstanceNotFound),
		errors.Is(err, feature.ErrFeatureNotFound),
		errors.Is(err, feature.ErrFeatureNotInstalled),
		errors.Is(err, backup.ErrBackupNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrDuplicateInstance),
		errors.Is(err, clone.ErrSourceNotReady),
		errors.Is(err, feature.ErrInstanceNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &processErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// instanceResponse is the API shape for a database instance. The physical
// name plus status is the contract consumed by the rendering pipeline: it
// must not read from an instance whose status is not active.
type instanceResponse struct {
	ID           string            `json:"id"`
	Kind         registry.Kind     `json:"kind"`
	ReferenceID  string            `json:"referenceId"`
	PhysicalName string            `json:"physicalName"`
	Status       registry.Status   `json:"status"`
	Metadata     registry.Metadata `json:"metadata"`
	SizeBytes    int64             `json:"sizeBytes"`
	LastBackupAt *time.Time        `json:"lastBackupAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

func toResponse(i *registry.DatabaseInstance) instanceResponse {
	return instanceResponse{
		ID:           i.ID,
		Kind:         i.Kind,
		ReferenceID:  i.ReferenceID,
		PhysicalName: i.PhysicalName,
		Status:       i.Status,
		Metadata:     i.Metadata,
		SizeBytes:    i.SizeBytes,
		LastBackupAt: i.LastBackupAt,
		CreatedAt:    i.CreatedAt,
	}
}
