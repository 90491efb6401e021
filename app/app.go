package app

import (
	"database/sql"

	"github.com/go-chi/oauth"

	"github.com/formloop/formloop/config"
	"github.com/formloop/formloop/ratelimit"
	"github.com/formloop/formloop/store"
	"github.com/formloop/formloop/submission"
)

type App struct {
	*sql.DB
	*oauth.BearerServer
	config.Config

	Store    store.Store
	Pipeline *submission.Pipeline

	// Limiters for the non-submission surfaces; the submission pipeline
	// carries its own.
	APILimit  *ratelimit.Limiter
	AuthLimit *ratelimit.Limiter
}
