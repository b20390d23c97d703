package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/cockpit/internal/history"
	"github.com/loykin/cockpit/internal/metrics"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/pkg/client"
)

type errorResp struct {
	Error string `json:"error"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

func (r *Router) handleGetProcess(c *gin.Context) {
	st, err := r.opts.Controller.Status(c.Request.Context())
	if err != nil {
		r.logger.Error("status failed", "error", err)
		writeJSON(c, http.StatusInternalServerError, client.ActionResponse{Status: statusError, Message: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, client.ProcessStatus{Status: string(st.State), Message: st.Message})
}

func (r *Router) handlePostProcess(c *gin.Context) {
	var req client.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.IncActionRequest("invalid", statusError)
		writeJSON(c, http.StatusBadRequest, client.ActionResponse{Status: statusError, Message: "Invalid action"})
		return
	}
	a, err := pending.ParseAction(req.Action)
	if err != nil {
		metrics.IncActionRequest("invalid", statusError)
		writeJSON(c, http.StatusBadRequest, client.ActionResponse{Status: statusError, Message: "Invalid action"})
		return
	}

	msg, err := r.opts.Controller.Do(c.Request.Context(), a)
	ev := history.NewEvent(history.EventAction, string(a), history.ResultSuccess, msg)
	if err != nil {
		r.logger.Error("process action failed", "action", a, "error", err)
		metrics.IncActionRequest(string(a), statusError)
		ev.Result, ev.Message = history.ResultError, err.Error()
		r.recordAsync(ev)
		if errors.Is(err, pending.ErrInvalidAction) {
			writeJSON(c, http.StatusBadRequest, client.ActionResponse{Status: statusError, Message: "Invalid action"})
			return
		}
		writeJSON(c, http.StatusInternalServerError, client.ActionResponse{Status: statusError, Message: err.Error()})
		return
	}
	r.logger.Info("process action", "action", a, "message", msg)
	metrics.IncActionRequest(string(a), statusSuccess)
	if st, err := r.opts.Controller.Status(c.Request.Context()); err == nil {
		ev.State = string(st.State)
	}
	r.recordAsync(ev)
	writeJSON(c, http.StatusOK, client.ActionResponse{Status: statusSuccess, Message: msg})
}

func (r *Router) handleGetVersion(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("action") == "list" {
		writeJSON(c, http.StatusOK, client.VersionList{AvailableVersions: r.opts.Releases.Available(ctx)})
		return
	}
	var info client.VersionInfo
	if v, ok := r.opts.Releases.Current(ctx); ok {
		info.ComfyUIVersion = &v
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handlePostVersion(c *gin.Context) {
	var req client.SwitchRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		metrics.IncVersionSwitch("invalid")
		writeJSON(c, http.StatusBadRequest, client.SwitchResult{Message: "Invalid JSON data"})
		return
	}
	if req.Version == "" {
		metrics.IncVersionSwitch("invalid")
		writeJSON(c, http.StatusBadRequest, client.SwitchResult{Message: "Version parameter is required"})
		return
	}
	if !isSafeVersion(req.Version) {
		metrics.IncVersionSwitch("invalid")
		writeJSON(c, http.StatusBadRequest, client.SwitchResult{Message: "Invalid version: " + req.Version})
		return
	}

	res := r.opts.Releases.Switch(c.Request.Context(), req.Version)
	out := client.SwitchResult{Success: res.Success, Message: res.Message}
	if res.Version != "" {
		v := res.Version
		out.Version = &v
	}

	ev := history.NewEvent(history.EventVersionSwitch, "switch", history.ResultSuccess, res.Message)
	ev.Target = req.Version
	if res.Success {
		r.logger.Info("version switched", "version", req.Version)
		metrics.IncVersionSwitch(statusSuccess)
	} else {
		r.logger.Warn("version switch failed", "version", req.Version, "message", res.Message)
		metrics.IncVersionSwitch(statusError)
		ev.Result = history.ResultError
	}
	r.recordAsync(ev)
	writeJSON(c, http.StatusOK, out)
}
