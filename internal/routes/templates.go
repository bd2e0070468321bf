package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/engine"
	"github.com/JakeFAU/helios-gateway/internal/httpx"
	"github.com/JakeFAU/helios-gateway/internal/templates"
)

type templateRoutes struct{}

func (templateRoutes) ID() string { return TemplatesID }

type templateRequest struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Processes   []engine.ProcessDescriptor `json:"processes"`
}

func (templateRoutes) Install(r chi.Router, deps Deps) {
	store := deps.Templates
	log := deps.logger()

	r.Get("/templates", func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteList(w, store.All(req.Context()))
	})

	r.Post("/templates", func(w http.ResponseWriter, req *http.Request) {
		var body templateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "invalid JSON")
			return
		}
		created, err := store.Add(req.Context(), templates.Template{
			Name:        body.Name,
			Description: body.Description,
			Processes:   body.Processes,
		})
		if err != nil {
			writeTemplateError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": created.ID})
	})

	r.Get("/templates/{id}", func(w http.ResponseWriter, req *http.Request) {
		t, err := store.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeTemplateError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, t)
	})

	r.Put("/templates/{id}", func(w http.ResponseWriter, req *http.Request) {
		var body templateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "invalid JSON")
			return
		}
		if _, err := store.Update(req.Context(), chi.URLParam(req, "id"), body.Description, body.Processes); err != nil {
			writeTemplateError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/templates/{id}", func(w http.ResponseWriter, req *http.Request) {
		if err := store.Remove(req.Context(), chi.URLParam(req, "id")); err != nil {
			writeTemplateError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func writeTemplateError(w http.ResponseWriter, log *zap.Logger, err error) {
	var perr *templates.PersistenceError
	switch {
	case errors.Is(err, templates.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "Template not found.")
	case errors.Is(err, templates.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeTemplateInvalid, err.Error())
	case errors.As(err, &perr):
		log.Error("template persistence failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodePersistence, "Failed to persist templates.")
	default:
		log.Error("template operation failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, err.Error())
	}
}
