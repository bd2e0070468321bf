package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/httpx"
	"github.com/JakeFAU/helios-gateway/internal/jobs"
)

const maxHistoryLimit = 1000

type jobsRoutes struct{}

func (jobsRoutes) ID() string { return JobsID }

func (jobsRoutes) Install(r chi.Router, deps Deps) {
	registry := deps.Runner.Registry()

	r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteList(w, registry.All())
	})

	r.Get("/jobs/history", func(w http.ResponseWriter, req *http.Request) {
		limit := deps.HistoryLimit
		if raw := req.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxHistoryLimit {
				httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "limit must be between 1 and 1000.")
				return
			}
			limit = n
		}
		if deps.History == nil {
			httpx.WriteList[jobs.Run](w, nil)
			return
		}
		runs, err := deps.History.Recent(req.Context(), limit)
		if err != nil {
			deps.logger().Error("read job history failed", zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "Failed to read job history.")
			return
		}
		httpx.WriteList(w, runs)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		snap, err := registry.Snapshot(chi.URLParam(req, "id"))
		if errors.Is(err, jobs.ErrJobNotFound) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "Job is not running.")
			return
		}
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, snap)
	})
}
