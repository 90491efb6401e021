package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formloop/formloop/antispam"
	"github.com/formloop/formloop/app"
	"github.com/formloop/formloop/httpx"
	"github.com/formloop/formloop/log"
	"github.com/formloop/formloop/store"
	"github.com/formloop/formloop/submission"
)

// PublicGetFormById serves a form with its questions to anonymous
// visitors, together with the anti-spam artifacts the client must echo
// back on submission: a form load token and the honeypot field name.
func PublicGetFormById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		form, err := app.Store.FormByID(r.Context(), formId)
		if errors.Is(err, store.ErrNotFound) {
			httpx.LogNotFound(w, "get_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		form.Questions, err = app.Store.QuestionsByForm(r.Context(), formId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_form.questions", err)
			return
		}

		now := time.Now()
		render.JSON(w, r, map[string]any{
			"form":          form,
			"formLoadToken": antispam.CreateFormLoadToken(now),
			"honeypotField": antispam.HoneypotFieldName(form.ID, now),
		})
	}
}

// PublicSubmitForm runs an anonymous submission through the pipeline
// and translates its outcome to the wire contract. Panics anywhere
// below are caught by the router's Recoverer and turn into a bare 500.
func PublicSubmitForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submission.Request
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Debugf("request.parse_body: %s", err)
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]any{
				"error": "Invalid submission payload",
				"type":  submission.TypeInvalidRequest,
			})
			return
		}

		meta := submission.Meta{
			ClientIP:  httpx.ClientIP(r),
			UserAgent: r.Header.Get("User-Agent"),
			Referrer:  r.Header.Get("Referer"),
		}

		result, err := app.Pipeline.Submit(r.Context(), req, meta)
		if err != nil {
			writePipelineError(w, r, err)
			return
		}

		httpx.RateLimitHeaders(w, result.RateLimit)
		render.JSON(w, r, map[string]any{
			"success":    true,
			"responseId": result.ResponseID,
		})
	}
}

func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var typed *submission.TypedError
	var untyped *submission.UntypedError

	switch {
	case errors.As(err, &typed):
		if typed.RateLimit != nil {
			httpx.RateLimitHeaders(w, *typed.RateLimit)
		}
		render.Status(r, typed.Status)
		render.JSON(w, r, map[string]any{
			"error": typed.Message,
			"type":  typed.Type,
		})
	case errors.As(err, &untyped):
		render.Status(r, untyped.Status)
		render.JSON(w, r, map[string]any{
			"error": untyped.Message,
		})
	default:
		log.Errorf("submit_form: %s", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]any{
			"error": "Internal server error",
		})
	}
}
