package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/formloop/formloop/app"
	"github.com/formloop/formloop/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer, middleware.RealIP)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	// Public surface: anonymous form fetch and submission. The
	// submission pipeline runs its own dedicated rate limiter.
	api.With(middlewares.RateLimit(app.APILimit)).
		Get("/forms/{id}", PublicGetFormById(app))
	api.Post("/submit-form", PublicSubmitForm(app))

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(app.TokenSecret))

		r.Post("/projects", CreateProject(app))
		r.Get("/projects", ListProjects(app))

		// CRUD forms
		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get("/forms/{id}", GetFormById(app))
		r.Put("/forms/{id}", UpdateForm(app))
		r.Delete("/forms/{id}", DeleteForm(app))

		r.Get("/forms/{id}/responses", GetFormResponses(app))
	})

	authLimited := api.With(middlewares.RateLimit(app.AuthLimit))
	authLimited.Post("/login", Login(app))
	authLimited.Post("/refresh", Refresh(app))

	return api
}
