package lifecycle

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the lifecycle API. When authorizer is
// non-nil every mutating endpoint asks it for a yes/no decision first;
// status reads are always allowed.
func Router(m *Manager, authorizer Authorizer) chi.Router {
	r := chi.NewRouter()

	r.Post("/templates/{templateID}/database",
		requireAuthorization(authorizer, "database:create", CreateTemplateHandler(m)))
	r.Post("/websites/{userID}/database",
		requireAuthorization(authorizer, "database:create", CreateWebsiteHandler(m)))
	r.Post("/websites/{userID}/database/clone",
		requireAuthorization(authorizer, "database:clone", CloneHandler(m)))

	r.Get("/databases", ListInstancesHandler(m))
	r.Get("/databases/{kind}/{referenceID}", GetInstanceHandler(m))
	r.Delete("/databases/{kind}/{referenceID}",
		requireAuthorization(authorizer, "database:delete", DeleteInstanceHandler(m)))

	r.Post("/databases/{kind}/{referenceID}/backup",
		requireAuthorization(authorizer, "database:backup", BackupHandler(m)))
	r.Post("/databases/{kind}/{referenceID}/restore",
		requireAuthorization(authorizer, "database:restore", RestoreHandler(m)))

	r.Post("/databases/{kind}/{referenceID}/features/{feature}",
		requireAuthorization(authorizer, "feature:install", InstallFeatureHandler(m)))
	r.Delete("/databases/{kind}/{referenceID}/features/{feature}",
		requireAuthorization(authorizer, "feature:uninstall", UninstallFeatureHandler(m)))

	r.Get("/operations", ListOperationsHandler(m))

	return r
}
