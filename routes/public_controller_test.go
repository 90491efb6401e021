package routes_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/formloop/formloop/antispam"
	"github.com/formloop/formloop/app"
	"github.com/formloop/formloop/captcha"
	"github.com/formloop/formloop/config"
	"github.com/formloop/formloop/database"
	"github.com/formloop/formloop/httpx"
	"github.com/formloop/formloop/ratelimit"
	"github.com/formloop/formloop/routes"
	"github.com/formloop/formloop/store"
	"github.com/formloop/formloop/submission"
)

const browserAgent = "Mozilla/5.0 (X11; Linux x86_64) Firefox/125.0"

type testEnv struct {
	handler http.Handler
	db      *sql.DB
	app     app.App
}

// newTestEnv wires the full router against a throwaway database, the
// way main does, with a stub CAPTCHA endpoint.
func newTestEnv(t *testing.T, captchaVerifyURL string) testEnv {
	t.Helper()

	cfg := config.Config{
		DBUrl:                 filepath.Join(t.TempDir(), "test.db"),
		TokenSecret:           "test-token-secret",
		TokenTTL:              2 * time.Minute,
		CaptchaSecret:         "test-captcha-secret",
		IPHashSalt:            "test-salt",
		CaptchaVerifyURL:      captchaVerifyURL,
		CaptchaTimeout:        time.Second,
		CaptchaScoreThreshold: 20,
		SpamScoreThreshold:    50,
		SubmitLimitRequests:   10,
		SubmitLimitWindow:     15 * time.Minute,
		APILimitRequests:      100,
		APILimitWindow:        10 * time.Minute,
		AuthLimitRequests:     5,
		AuthLimitWindow:       5 * time.Minute,
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.NewSQLite(db)
	spam := antispam.DefaultConfig()
	spam.SpamThreshold = cfg.SpamScoreThreshold

	pipeline := submission.New(submission.Options{
		Store:            st,
		Limiter:          ratelimit.New(ratelimit.Config{Requests: cfg.SubmitLimitRequests, Window: cfg.SubmitLimitWindow}, cfg.IPHashSalt),
		Captcha:          captcha.NewVerifier(cfg.CaptchaVerifyURL, cfg.CaptchaSecret, cfg.CaptchaTimeout),
		Spam:             spam,
		CaptchaThreshold: cfg.CaptchaScoreThreshold,
		IPHashSalt:       cfg.IPHashSalt,
	})

	a := app.App{
		DB:           db,
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
		Store:        st,
		Pipeline:     pipeline,
		APILimit:     ratelimit.New(ratelimit.Config{Requests: cfg.APILimitRequests, Window: cfg.APILimitWindow}, cfg.IPHashSalt),
		AuthLimit:    ratelimit.New(ratelimit.Config{Requests: cfg.AuthLimitRequests, Window: cfg.AuthLimitWindow}, cfg.IPHashSalt),
	}

	return testEnv{handler: routes.Wire(a), db: db, app: a}
}

func (env testEnv) seedForm(t *testing.T, active bool) {
	t.Helper()

	statements := []string{
		`INSERT INTO project (id, account_id, name) VALUES ('project-1', 'account-1', 'Cafe')`,
		fmt.Sprintf(`INSERT INTO form (id, project_id, name, description, is_active, response_limit)
			VALUES ('form-1', 'project-1', 'Lunch feedback', 'Tell us about lunch', %d, 0)`, boolToInt(active)),
		`INSERT INTO question (id, form_id, type, label, required, position)
			VALUES ('q-rating', 'form-1', 'rating', 'How was it?', 1, 0)`,
		`INSERT INTO question (id, form_id, type, label, required, position)
			VALUES ('q-comment', 'form-1', 'text', 'Anything else?', 0, 1)`,
	}
	for _, stmt := range statements {
		if _, err := env.db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (env testEnv) responseCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := env.db.QueryRow(`SELECT COUNT(*) FROM response`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

type submitOptions struct {
	body      map[string]any
	clientIP  string
	userAgent string
}

func (env testEnv) submit(t *testing.T, opts submitOptions) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(opts.body)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/submit-form", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if opts.clientIP != "" {
		req.Header.Set("X-Forwarded-For", opts.clientIP)
	}
	if opts.userAgent != "" {
		req.Header.Set("User-Agent", opts.userAgent)
	}

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, recorder.Body.String())
	}
	return recorder, decoded
}

func validBody() map[string]any {
	return map[string]any{
		"formId": "form-1",
		"responses": map[string]any{
			"q-rating":  "5",
			"q-comment": "lovely",
		},
	}
}

func TestSubmitFormSuccess(t *testing.T) {
	env := newTestEnv(t, "http://captcha.invalid")
	env.seedForm(t, true)

	recorder, body := env.submit(t, submitOptions{
		body:      validBody(),
		clientIP:  "203.0.113.10",
		userAgent: browserAgent,
	})

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", recorder.Code, body)
	}
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	responseID, _ := body["responseId"].(string)
	if responseID == "" {
		t.Fatal("missing responseId")
	}

	if got := recorder.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9", got)
	}
	if recorder.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset header")
	}
	if after := recorder.Header().Get("X-RateLimit-Reset-After"); after == "" {
		t.Error("missing X-RateLimit-Reset-After header")
	} else if seconds, err := strconv.Atoi(after); err != nil || seconds < 0 {
		t.Errorf("X-RateLimit-Reset-After = %q", after)
	}

	var count int
	err := env.db.QueryRow(`SELECT COUNT(*) FROM response_item WHERE response_id = ?`, responseID).Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("stored %d items, want 2", count)
	}
}

func TestSubmitFormHoneypot(t *testing.T) {
	env := newTestEnv(t, "http://captcha.invalid")
	env.seedForm(t, true)

	body := validBody()
	body["honeypotValue"] = "x"

	recorder, decoded := env.submit(t, submitOptions{
		body:      body,
		clientIP:  "203.0.113.10",
		userAgent: browserAgent,
	})

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	if decoded["type"] != "SPAM_DETECTED" {
		t.Errorf("type = %v", decoded["type"])
	}
	if env.responseCount(t) != 0 {
		t.Error("spam submission was persisted")
	}
}

func TestSubmitFormRateLimited(t *testing.T) {
	env := newTestEnv(t, "http://captcha.invalid")
	env.seedForm(t, true)

	opts := submitOptions{body: validBody(), clientIP: "203.0.113.99", userAgent: browserAgent}
	for i := 0; i < 10; i++ {
		recorder, decoded := env.submit(t, opts)
		if recorder.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d, body = %v", i+1, recorder.Code, decoded)
		}
	}

	recorder, decoded := env.submit(t, opts)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", recorder.Code)
	}
	if decoded["type"] != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("type = %v", decoded["type"])
	}
	if got := recorder.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	// A different client address is unaffected.
	other := opts
	other.clientIP = "198.51.100.7"
	if recorder, _ := env.submit(t, other); recorder.Code != http.StatusOK {
		t.Fatalf("unrelated client got %d", recorder.Code)
	}
}

func TestSubmitFormCaptchaChallenge(t *testing.T) {
	captchaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer captchaServer.Close()

	env := newTestEnv(t, captchaServer.URL)
	env.seedForm(t, true)

	// A bare curl agent scores enough to demand a challenge but not
	// enough for rejection.
	opts := submitOptions{body: validBody(), clientIP: "203.0.113.10", userAgent: "curl/8.5"}

	recorder, decoded := env.submit(t, opts)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %v", recorder.Code, decoded)
	}
	if decoded["type"] != "CAPTCHA_REQUIRED" {
		t.Fatalf("type = %v", decoded["type"])
	}
	if env.responseCount(t) != 0 {
		t.Fatal("challenged submission was persisted")
	}

	// Retrying with a token verified by the CAPTCHA service goes through.
	opts.body = validBody()
	opts.body["captchaToken"] = "token-123"
	recorder, decoded = env.submit(t, opts)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", recorder.Code, decoded)
	}
	if env.responseCount(t) != 1 {
		t.Error("verified submission was not persisted")
	}
}

func TestSubmitFormValidationFailures(t *testing.T) {
	env := newTestEnv(t, "http://captcha.invalid")
	env.seedForm(t, true)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantType   string
	}{
		{
			"unknown question",
			map[string]any{"formId": "form-1", "responses": map[string]any{"q-imaginary": "hi"}},
			http.StatusBadRequest, "INVALID_QUESTION",
		},
		{
			"missing required question",
			map[string]any{"formId": "form-1", "responses": map[string]any{"q-comment": "fine"}},
			http.StatusBadRequest, "MISSING_REQUIRED_QUESTION",
		},
		{
			"blank required answer",
			map[string]any{"formId": "form-1", "responses": map[string]any{"q-rating": "   "}},
			http.StatusBadRequest, "MISSING_REQUIRED_QUESTION",
		},
		{
			"empty responses",
			map[string]any{"formId": "form-1", "responses": map[string]any{}},
			http.StatusBadRequest, "INVALID_REQUEST",
		},
		{
			"non-string answer",
			map[string]any{"formId": "form-1", "responses": map[string]any{"q-rating": 5}},
			http.StatusBadRequest, "INVALID_REQUEST",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, decoded := env.submit(t, submitOptions{
				body:      tt.body,
				clientIP:  fmt.Sprintf("192.0.2.%d", i+1),
				userAgent: browserAgent,
			})
			if recorder.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", recorder.Code, tt.wantStatus)
			}
			if decoded["type"] != tt.wantType {
				t.Errorf("type = %v, want %s", decoded["type"], tt.wantType)
			}
		})
	}

	if env.responseCount(t) != 0 {
		t.Error("a rejected submission was persisted")
	}
}

func TestSubmitFormFormState(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		env := newTestEnv(t, "http://captcha.invalid")
		env.seedForm(t, true)

		body := validBody()
		body["formId"] = "missing-form"
		recorder, decoded := env.submit(t, submitOptions{
			body: body, clientIP: "203.0.113.10", userAgent: browserAgent,
		})
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("status = %d", recorder.Code)
		}
		if decoded["error"] != "Form not found" {
			t.Errorf("error = %v", decoded["error"])
		}
		// Resource-state errors carry no type tag.
		if _, present := decoded["type"]; present {
			t.Errorf("unexpected type tag: %v", decoded["type"])
		}
	})

	t.Run("inactive", func(t *testing.T) {
		env := newTestEnv(t, "http://captcha.invalid")
		env.seedForm(t, false)

		recorder, decoded := env.submit(t, submitOptions{
			body: validBody(), clientIP: "203.0.113.10", userAgent: browserAgent,
		})
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", recorder.Code)
		}
		if decoded["error"] != "This form is no longer active" {
			t.Errorf("error = %v", decoded["error"])
		}
		if _, present := decoded["type"]; present {
			t.Errorf("unexpected type tag: %v", decoded["type"])
		}
	})
}

func TestSubmitFormMalformedJSON(t *testing.T) {
	env := newTestEnv(t, "http://captcha.invalid")
	env.seedForm(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/submit-form", bytes.NewReader([]byte(`{not json`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserAgent)

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != "INVALID_REQUEST" {
		t.Errorf("type = %v", decoded["type"])
	}
}

func TestPublicGetForm(t *testing.T) {
	env := newTestEnv(t, "http://captcha.invalid")
	env.seedForm(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/forms/form-1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("missing rate limit headers on public form fetch")
	}

	var decoded struct {
		Form struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Questions []struct {
				ID       string `json:"id"`
				Required bool   `json:"required"`
			} `json:"questions"`
		} `json:"form"`
		FormLoadToken string `json:"formLoadToken"`
		HoneypotField string `json:"honeypotField"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Form.ID != "form-1" || decoded.Form.Name != "Lunch feedback" {
		t.Errorf("unexpected form: %+v", decoded.Form)
	}
	if len(decoded.Form.Questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(decoded.Form.Questions))
	}
	if decoded.FormLoadToken == "" {
		t.Error("missing formLoadToken")
	}
	if decoded.HoneypotField == "" {
		t.Error("missing honeypotField")
	}

	// The issued artifacts must survive a round trip through a
	// submission without tripping the timing heuristics.
	body := validBody()
	body["formLoadToken"] = decoded.FormLoadToken
	recorderSubmit, decodedSubmit := env.submit(t, submitOptions{
		body: body, clientIP: "203.0.113.10", userAgent: browserAgent,
	})
	if recorderSubmit.Code != http.StatusBadRequest || decodedSubmit["type"] != "SPAM_DETECTED" {
		// Submitting within MinSubmissionTime of the fetch scores 60.
		t.Fatalf("status = %d, body = %v", recorderSubmit.Code, decodedSubmit)
	}
}

func TestPublicGetFormNotFound(t *testing.T) {
	env := newTestEnv(t, "http://captcha.invalid")

	req := httptest.NewRequest(http.MethodGet, "/api/forms/nope", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d", recorder.Code)
	}
}
