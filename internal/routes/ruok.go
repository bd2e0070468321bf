package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const ruokBody = "I'm still alive!"

type ruokRoutes struct{}

func (ruokRoutes) ID() string { return RuokID }

func (ruokRoutes) Install(r chi.Router, _ Deps) {
	r.Get("/ruok", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(ruokBody))
	})
}
