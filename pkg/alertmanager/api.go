package alertmanager

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/weaveworks/common/user"

	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/models"
	"github.com/cortexproject/amconfig/pkg/provisioning"
)

const (
	versionHeader    = "X-Version"
	provenanceHeader = "X-Provenance"

	defaultHistoryLimit = 100
)

// API exposes the orchestrator and the notification policy service over
// HTTP. The org is taken from the request the same way the rest of the
// system identifies tenants.
type API struct {
	moa      *MultiOrgAlertmanager
	policies *provisioning.NotificationPolicyService
	logger   log.Logger
}

func NewAPI(moa *MultiOrgAlertmanager, policies *provisioning.NotificationPolicyService, logger log.Logger) *API {
	return &API{moa: moa, policies: policies, logger: logger}
}

// RegisterRoutes registers the HTTP routes with the provided Router.
func (a *API) RegisterRoutes(r *mux.Router) {
	for _, route := range []struct {
		name, method, path string
		handler            http.HandlerFunc
	}{
		{"get_config", "GET", "/api/v1/alerts", a.getUserConfig},
		{"set_config", "POST", "/api/v1/alerts", a.setUserConfig},
		{"delete_config", "DELETE", "/api/v1/alerts", a.deleteUserConfig},
		{"get_history", "GET", "/api/v1/alerts/history", a.getHistory},
		{"activate_historical", "POST", "/api/v1/alerts/history/{id}/_activate", a.activateHistorical},
		{"set_extra_config", "POST", "/api/v1/alerts/extra-config/{identifier}", a.setExtraConfig},
		{"delete_extra_config", "DELETE", "/api/v1/alerts/extra-config/{identifier}", a.deleteExtraConfig},
		{"list_policies", "GET", "/api/v1/provisioning/policies", a.listPolicies},
		{"get_policy", "GET", "/api/v1/provisioning/policies/{name}", a.getPolicy},
		{"create_policy", "POST", "/api/v1/provisioning/policies/{name}", a.createPolicy},
		{"update_policy", "PUT", "/api/v1/provisioning/policies/{name}", a.updatePolicy},
		{"delete_policy", "DELETE", "/api/v1/provisioning/policies/{name}", a.deletePolicy},
	} {
		r.Handle(route.path, route.handler).Methods(route.method).Name(route.name)
	}
}

// orgID extracts the tenant from the request. Tenants are numeric org ids.
func (a *API) orgID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	tenant, _, err := user.ExtractOrgIDFromHTTPRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return 0, false
	}
	orgID, err := strconv.ParseInt(tenant, 10, 64)
	if err != nil {
		http.Error(w, "invalid org id", http.StatusUnauthorized)
		return 0, false
	}
	return orgID, true
}

// respondError maps the error taxonomy to HTTP status codes.
func (a *API) respondError(w http.ResponseWriter, orgID int64, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, provisioning.ErrNoAlertmanagerConfiguration),
		errors.Is(err, provisioning.ErrRouteNotFound),
		errors.Is(err, configstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, provisioning.ErrVersionConflict),
		errors.Is(err, provisioning.ErrRouteExists),
		errors.Is(err, provisioning.ErrProvenanceChangeNotAllowed),
		errors.As(err, &MultipleExtraConfigsError{}),
		errors.As(err, &ReceiverInUseError{}),
		errors.As(err, &TimeIntervalInUseError{}):
		status = http.StatusConflict
	case errors.Is(err, ErrInhibitionRulesNotSupported),
		errors.Is(err, provisioning.ErrRouteInvalidFormat),
		errors.As(err, &ConfigRejectedError{}):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		level.Error(a.logger).Log("msg", "request failed", "org", orgID, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func (a *API) respondJSON(w http.ResponseWriter, orgID int64, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		level.Error(a.logger).Log("msg", "error writing response", "org", orgID, "err", err)
	}
}

func (a *API) getUserConfig(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	withAutogen := r.URL.Query().Get("autogen") == "true"

	cfg, err := a.moa.GetAlertmanagerConfiguration(r.Context(), orgID, withAutogen)
	if err != nil {
		a.respondError(w, orgID, err)
		return
	}
	a.respondJSON(w, orgID, http.StatusOK, cfg)
}

func (a *API) setUserConfig(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg, err := definitions.Load(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.moa.SaveAndApplyAlertmanagerConfiguration(r.Context(), orgID, *cfg); err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) deleteUserConfig(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	if err := a.moa.SaveAndApplyDefaultConfig(r.Context(), orgID); err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	history, err := a.moa.GetAppliedAlertmanagerConfigurations(r.Context(), orgID, limit)
	if err != nil {
		a.respondError(w, orgID, err)
		return
	}
	a.respondJSON(w, orgID, http.StatusOK, history)
}

func (a *API) activateHistorical(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid configuration id", http.StatusBadRequest)
		return
	}
	if err := a.moa.ActivateHistoricalConfiguration(r.Context(), orgID, id); err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) setExtraConfig(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var extraConfig definitions.ExtraConfiguration
	if err := json.Unmarshal(payload, &extraConfig); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	extraConfig.Identifier = mux.Vars(r)["identifier"]

	if err := a.moa.SaveAndApplyExtraConfiguration(r.Context(), orgID, extraConfig); err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) deleteExtraConfig(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	if err := a.moa.DeleteExtraConfiguration(r.Context(), orgID, mux.Vars(r)["identifier"]); err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) provenance(r *http.Request) (models.Provenance, error) {
	return models.ParseProvenance(r.Header.Get(provenanceHeader))
}

func (a *API) listPolicies(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	routes, err := a.policies.GetManagedRoutes(r.Context(), orgID)
	if err != nil {
		a.respondError(w, orgID, err)
		return
	}
	a.respondJSON(w, orgID, http.StatusOK, routes)
}

func (a *API) getPolicy(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	route, err := a.policies.GetManagedRoute(r.Context(), orgID, mux.Vars(r)["name"])
	if err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.Header().Set(versionHeader, route.Version)
	a.respondJSON(w, orgID, http.StatusOK, route)
}

func (a *API) createPolicy(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	provenance, err := a.provenance(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var subtree definitions.Route
	if err := json.NewDecoder(r.Body).Decode(&subtree); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	route, err := a.policies.CreateManagedRoute(r.Context(), orgID, mux.Vars(r)["name"], subtree, provenance)
	if err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.Header().Set(versionHeader, route.Version)
	a.respondJSON(w, orgID, http.StatusCreated, route)
}

func (a *API) updatePolicy(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	provenance, err := a.provenance(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var subtree definitions.Route
	if err := json.NewDecoder(r.Body).Decode(&subtree); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	route, err := a.policies.UpdateManagedRoute(r.Context(), orgID, mux.Vars(r)["name"], subtree, provenance, r.Header.Get(versionHeader))
	if err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.Header().Set(versionHeader, route.Version)
	a.respondJSON(w, orgID, http.StatusOK, route)
}

func (a *API) deletePolicy(w http.ResponseWriter, r *http.Request) {
	orgID, ok := a.orgID(w, r)
	if !ok {
		return
	}
	provenance, err := a.provenance(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.policies.DeleteManagedRoute(r.Context(), orgID, mux.Vars(r)["name"], provenance, r.Header.Get(versionHeader)); err != nil {
		a.respondError(w, orgID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
