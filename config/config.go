package config

import (
	"errors"
	"flag"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DBUrl       string
	TokenSecret string
	TokenTTL    time.Duration
	Debug       bool

	// Secrets read from the environment (or a .env file).
	CaptchaSecret string
	IPHashSalt    string

	// External CAPTCHA verification service.
	CaptchaVerifyURL string
	CaptchaTimeout   time.Duration

	// Spam scoring thresholds: at or above CaptchaScoreThreshold a
	// submission must pass a CAPTCHA challenge, at or above
	// SpamScoreThreshold it is rejected outright.
	CaptchaScoreThreshold int
	SpamScoreThreshold    int

	// Fixed-window rate limits per client IP.
	SubmitLimitRequests int
	SubmitLimitWindow   time.Duration
	APILimitRequests    int
	APILimitWindow      time.Duration
	AuthLimitRequests   int
	AuthLimitWindow     time.Duration
}

func ParseFlags() (cfg Config, err error) {
	// Load .env if present; in production env vars are set directly.
	_ = godotenv.Load()

	var host string
	flag.StringVar(&host, "host", "0.0.0.0", "listen host name (default 0.0.0.0)")
	var port uint
	flag.UintVar(&port, "port", 80, "listen port number (default 80)")
	flag.StringVar(&cfg.DBUrl, "db-url", "formloop.sqlite", "path to SQLite3 DB file (default formloop.sqlite)")
	flag.StringVar(&cfg.TokenSecret, "token-secret", "", "secret key for admin token encryption and decryption")
	var ttl uint
	flag.UintVar(&ttl, "token-ttl", 120, "token TTL in seconds (default 120)")
	flag.StringVar(&cfg.CaptchaVerifyURL, "captcha-verify-url",
		"https://challenges.cloudflare.com/turnstile/v0/siteverify",
		"CAPTCHA verification endpoint")
	flag.BoolVar(&cfg.Debug, "debug", false, "log at DEBUG level")
	flag.Parse()

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.TokenTTL = time.Duration(ttl) * time.Second
	cfg.CaptchaSecret = os.Getenv("CAPTCHA_SECRET")
	cfg.IPHashSalt = os.Getenv("IP_HASH_SALT")
	cfg.CaptchaTimeout = 8 * time.Second

	cfg.CaptchaScoreThreshold = 20
	cfg.SpamScoreThreshold = 50

	cfg.SubmitLimitRequests, cfg.SubmitLimitWindow = 10, 15*time.Minute
	cfg.APILimitRequests, cfg.APILimitWindow = 100, 10*time.Minute
	cfg.AuthLimitRequests, cfg.AuthLimitWindow = 5, 5*time.Minute

	switch {
	case cfg.TokenSecret == "":
		err = errors.New("missing parameter -token-secret")
	case cfg.IPHashSalt == "":
		// A missing CAPTCHA secret is reported per request, so a deployment
		// without CAPTCHA still boots. The IP salt has no such fallback:
		// an empty salt would silently weaken every stored hash.
		err = errors.New("missing environment variable IP_HASH_SALT")
	}

	return
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}
