package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/formloop/formloop/antispam"
	"github.com/formloop/formloop/app"
	"github.com/formloop/formloop/captcha"
	"github.com/formloop/formloop/config"
	"github.com/formloop/formloop/database"
	"github.com/formloop/formloop/httpx"
	"github.com/formloop/formloop/log"
	"github.com/formloop/formloop/ratelimit"
	"github.com/formloop/formloop/routes"
	"github.com/formloop/formloop/store"
	"github.com/formloop/formloop/submission"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.CaptchaSecret == "" {
		log.Warn("CAPTCHA_SECRET not set: challenged submissions will be rejected")
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	st := store.NewSQLite(db)

	spamConfig := antispam.DefaultConfig()
	spamConfig.SpamThreshold = cfg.SpamScoreThreshold

	pipeline := submission.New(submission.Options{
		Store: st,
		Limiter: ratelimit.New(
			ratelimit.Config{Requests: cfg.SubmitLimitRequests, Window: cfg.SubmitLimitWindow},
			cfg.IPHashSalt,
		),
		Captcha:          captcha.NewVerifier(cfg.CaptchaVerifyURL, cfg.CaptchaSecret, cfg.CaptchaTimeout),
		Spam:             spamConfig,
		CaptchaThreshold: cfg.CaptchaScoreThreshold,
		IPHashSalt:       cfg.IPHashSalt,
	})

	app := app.App{
		DB:           db,
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
		Store:        st,
		Pipeline:     pipeline,
		APILimit: ratelimit.New(
			ratelimit.Config{Requests: cfg.APILimitRequests, Window: cfg.APILimitWindow},
			cfg.IPHashSalt,
		),
		AuthLimit: ratelimit.New(
			ratelimit.Config{Requests: cfg.AuthLimitRequests, Window: cfg.AuthLimitWindow},
			cfg.IPHashSalt,
		),
	}

	handler := routes.Wire(app)

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
