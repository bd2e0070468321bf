package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/engine"
	"github.com/JakeFAU/helios-gateway/internal/httpx"
	"github.com/JakeFAU/helios-gateway/internal/jobs"
)

const ndjsonContentType = "application/x-ndjson"

type processRoutes struct{}

func (processRoutes) ID() string { return ProcessID }

// Streaming reports that job responses last as long as the job.
func (processRoutes) Streaming() bool { return true }

func (processRoutes) Install(r chi.Router, deps Deps) {
	if deps.RunLimiter.Enabled() {
		r = r.With(deps.RunLimiter.Middleware)
	}
	r.Post("/process", func(w http.ResponseWriter, req *http.Request) {
		var def engine.Definition
		if err := json.NewDecoder(req.Body).Decode(&def); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "invalid JSON")
			return
		}
		runJob(w, req, deps, def)
	})

	r.Post("/templates/{id}/run", func(w http.ResponseWriter, req *http.Request) {
		t, err := deps.Templates.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeTemplateError(w, deps.logger(), err)
			return
		}
		runJob(w, req, deps, t.Definition())
	})
}

// runJob builds def and streams its records to w. Errors are reported as a
// JSON error body only while nothing has been streamed yet.
func runJob(w http.ResponseWriter, req *http.Request, deps Deps, def engine.Definition) {
	log := deps.logger()
	job, err := deps.Runner.Build(def)
	if err != nil {
		var berr *engine.BuildError
		if errors.As(err, &berr) || errors.Is(err, engine.ErrEmptyDefinition) {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeEngineBuild, err.Error())
			return
		}
		log.Error("build job failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "Failed to build job.")
		return
	}

	out := &ndjsonWriter{w: w}
	err = deps.Runner.Run(req.Context(), job, out)
	if err == nil {
		if !out.wrote {
			w.Header().Set("Content-Type", ndjsonContentType)
			w.WriteHeader(http.StatusOK)
		}
		return
	}

	var rerr *jobs.RunError
	if !errors.As(err, &rerr) {
		log.Error("run job failed", zap.String("job_id", job.ID()), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "Failed to run job.")
		return
	}
	if rerr.Streamed || out.wrote {
		return
	}
	switch rerr.Outcome {
	case jobs.OutcomeTimeout:
		httpx.WriteError(w, http.StatusGatewayTimeout, httpx.CodeJobTimeout, "Job exceeded its deadline.")
	case jobs.OutcomeEngineError:
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeEngineFailure, rerr.Err.Error())
	default:
		// The client is gone; there is nobody to answer.
	}
}

// ndjsonWriter commits the streaming headers on the first record.
type ndjsonWriter struct {
	w     http.ResponseWriter
	wrote bool
}

func (n *ndjsonWriter) Write(p []byte) (int, error) {
	if !n.wrote {
		n.wrote = true
		n.w.Header().Set("Content-Type", ndjsonContentType)
		n.w.Header().Set("X-Content-Type-Options", "nosniff")
		n.w.WriteHeader(http.StatusOK)
	}
	return n.w.Write(p)
}

func (n *ndjsonWriter) Flush() {
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
}
