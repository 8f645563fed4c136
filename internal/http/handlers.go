package httpx

import (
	"net/http"
	"strings"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/service/profile"
	"github.com/kagehq/brail/internal/service/release"
	"github.com/kagehq/brail/internal/ws"
)

type commentPayload struct {
	Comment *string `json:"comment"`
}

type selectorPayload struct {
	ProfileID string               `json:"profileId"`
	Adapter   string               `json:"adapter"`
	Config    adapter.Config       `json:"config"`
	Target    domain.ReleaseTarget `json:"target"`
	Comment   *string              `json:"comment"`
}

func (p selectorPayload) selector() release.Selector {
	return release.Selector{ProfileID: p.ProfileID, Adapter: p.Adapter, Config: p.Config}
}

func (r *Router) actor(req *http.Request) domain.Actor {
	info, _ := authInfoFromContext(req.Context())
	return info.actor()
}

func (r *Router) handleCreateSite(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		OrgID string `json:"orgId"`
		Name  string `json:"name"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.OrgID == "" {
		info, _ := authInfoFromContext(req.Context())
		payload.OrgID = info.OrgID
	}
	created, err := r.svc.Sites.Create(req.Context(), payload.OrgID, payload.Name)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleGetSite(w http.ResponseWriter, req *http.Request) {
	found, err := r.svc.Sites.Get(req.Context(), req.PathValue("siteId"))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (r *Router) handleListDeploys(w http.ResponseWriter, req *http.Request) {
	deploys, err := r.svc.Deploys.ListBySite(req.Context(), req.PathValue("siteId"), queryInt(req, "limit", defaultListLimit))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deploys)
}

func (r *Router) handleCreateDeploy(w http.ResponseWriter, req *http.Request) {
	created, err := r.svc.Deploys.Create(req.Context(), req.PathValue("siteId"), r.actor(req))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleGetDeploy(w http.ResponseWriter, req *http.Request) {
	d, err := r.svc.Deploys.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (r *Router) handleDeleteDeploy(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Deploys.Delete(req.Context(), req.PathValue("id")); err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handlePutFile(w http.ResponseWriter, req *http.Request) {
	entry, err := r.svc.Deploys.PutFile(req.Context(), req.PathValue("id"), "/"+req.PathValue("path"), req.Body, req.ContentLength, req.Header.Get("Content-Type"))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (r *Router) handleFinalize(w http.ResponseWriter, req *http.Request) {
	var payload commentPayload
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := r.svc.Deploys.Finalize(req.Context(), req.PathValue("id"), payload.Comment)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (r *Router) handleActivate(w http.ResponseWriter, req *http.Request) {
	var payload commentPayload
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := r.svc.Deploys.Activate(req.Context(), req.PathValue("id"), payload.Comment)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleFail(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Reason) == "" {
		payload.Reason = "marked failed by client"
	}
	d, err := r.svc.Deploys.MarkFailed(req.Context(), req.PathValue("id"), payload.Reason)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (r *Router) handleStage(w http.ResponseWriter, req *http.Request) {
	var payload selectorPayload
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rel, err := r.svc.Releases.Stage(req.Context(), req.PathValue("id"), payload.selector(), payload.Target)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (r *Router) handleRelease(w http.ResponseWriter, req *http.Request) {
	var payload selectorPayload
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rel, err := r.svc.Releases.Activate(req.Context(), req.PathValue("id"), payload.selector(), payload.Target, payload.Comment)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (r *Router) handleDeployLogs(w http.ResponseWriter, req *http.Request) {
	offset := queryInt(req, "offset", 0)
	entries, err := r.svc.Logs.List(req.Context(), req.PathValue("id"), queryInt(req, "limit", 100), offset)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	deployID := req.PathValue("id")
	if _, err := r.svc.Deploys.Get(req.Context(), deployID); err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub := r.svc.Logs.Hub()
	hub.Register(deployID, client)
	go func() {
		defer func() {
			hub.Unregister(deployID, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleFileTree(w http.ResponseWriter, req *http.Request) {
	tree, err := r.svc.Patches.GetFileTree(req.Context(), req.PathValue("siteId"))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (r *Router) handleListPatches(w http.ResponseWriter, req *http.Request) {
	patches, err := r.svc.Patches.List(req.Context(), req.PathValue("siteId"), queryInt(req, "limit", defaultListLimit))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, patches)
}

func (r *Router) handleCreatePatch(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		BaseDeployID string `json:"baseDeployId"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.BaseDeployID == "" {
		writeError(w, http.StatusBadRequest, "baseDeployId is required")
		return
	}
	d, err := r.svc.Patches.CreatePatch(req.Context(), req.PathValue("siteId"), payload.BaseDeployID, r.actor(req))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (r *Router) handleReplaceFile(w http.ResponseWriter, req *http.Request) {
	dest := req.URL.Query().Get("path")
	if dest == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}
	res, err := r.svc.Patches.ReplaceFile(req.Context(), req.PathValue("siteId"), dest, req.Body, req.ContentLength, req.Header.Get("Content-Type"), r.actor(req))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (r *Router) handleDeletePaths(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Paths []string `json:"paths"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := r.svc.Patches.DeletePaths(req.Context(), req.PathValue("siteId"), payload.Paths, r.actor(req))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (r *Router) handleFinalizePatch(w http.ResponseWriter, req *http.Request) {
	res, err := r.svc.Patches.Finalize(req.Context(), req.PathValue("id"))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleActivatePatch(w http.ResponseWriter, req *http.Request) {
	var payload commentPayload
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := r.svc.Patches.Activate(req.Context(), req.PathValue("id"), payload.Comment)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		selectorPayload
		ToDeployID string `json:"toDeployId"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.ToDeployID == "" {
		writeError(w, http.StatusBadRequest, "toDeployId is required")
		return
	}
	rel, err := r.svc.Releases.Rollback(req.Context(), req.PathValue("siteId"), payload.ToDeployID, payload.selector())
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (r *Router) handleListReleases(w http.ResponseWriter, req *http.Request) {
	releases, err := r.svc.Releases.ListReleases(req.Context(), req.PathValue("siteId"), queryInt(req, "limit", defaultListLimit))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, releases)
}

func (r *Router) handlePlatformReleases(w http.ResponseWriter, req *http.Request) {
	sel := release.Selector{ProfileID: req.URL.Query().Get("profileId")}
	releases, err := r.svc.Releases.ListPlatformReleases(req.Context(), req.PathValue("siteId"), sel)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, releases)
}

func (r *Router) handleDeleteRelease(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Releases.DeleteRelease(req.Context(), req.PathValue("id")); err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleListProfiles(w http.ResponseWriter, req *http.Request) {
	profiles, err := r.svc.Profiles.List(req.Context(), req.PathValue("siteId"))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (r *Router) handleCreateProfile(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name      string         `json:"name"`
		Adapter   string         `json:"adapter"`
		Config    adapter.Config `json:"config"`
		IsDefault bool           `json:"isDefault"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := r.svc.Profiles.Create(req.Context(), profile.CreateInput{
		SiteID:    req.PathValue("siteId"),
		Name:      payload.Name,
		Adapter:   payload.Adapter,
		Config:    payload.Config,
		IsDefault: payload.IsDefault,
	})
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleDefaultProfile(w http.ResponseWriter, req *http.Request) {
	p, err := r.svc.Profiles.SetDefault(req.Context(), req.PathValue("id"))
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) handleDeleteProfile(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Profiles.Delete(req.Context(), req.PathValue("id")); err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
