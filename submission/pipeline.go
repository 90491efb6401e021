// Package submission implements the public form submission pipeline:
// an ordered sequence of validation, rate limiting, spam scoring,
// CAPTCHA gating, referential checks and persistence. Every gate
// short-circuits; nothing is retried.
package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formloop/formloop/antispam"
	"github.com/formloop/formloop/captcha"
	"github.com/formloop/formloop/log"
	"github.com/formloop/formloop/model"
	"github.com/formloop/formloop/ratelimit"
	"github.com/formloop/formloop/store"
)

// Request is the wire payload of POST /api/submit-form. Responses maps
// question ids to either a string or a list of strings; anything else
// fails structural validation.
type Request struct {
	FormID        string         `json:"formId"`
	QRCodeID      string         `json:"qrCodeId"`
	LocationName  string         `json:"locationName"`
	Responses     map[string]any `json:"responses"`
	HoneypotValue string         `json:"honeypotValue"`
	FormLoadToken string         `json:"formLoadToken"`
	CaptchaToken  string         `json:"captchaToken"`
	UserAgent     string         `json:"userAgent"`
	Referrer      string         `json:"referrer"`
}

// Meta is the caller identity the transport layer derives from the
// request: the client IP (first x-forwarded-for entry, else x-real-ip,
// else x-client-ip, else "unknown") and header fallbacks for the
// anti-spam signals.
type Meta struct {
	ClientIP  string
	UserAgent string
	Referrer  string
}

type Result struct {
	ResponseID string
	RateLimit  ratelimit.Result
}

// CaptchaVerifier verifies a challenge token for a client IP.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

type Options struct {
	Store   store.Store
	Limiter *ratelimit.Limiter
	Captcha CaptchaVerifier
	Spam    antispam.Config
	// CaptchaThreshold is the spam score at or above which a CAPTCHA
	// challenge is demanded (below the outright rejection threshold).
	CaptchaThreshold int
	IPHashSalt       string
}

type Pipeline struct {
	store            store.Store
	limiter          *ratelimit.Limiter
	captcha          CaptchaVerifier
	spam             antispam.Config
	captchaThreshold int
	ipSalt           string
	now              func() time.Time
}

func New(opts Options) *Pipeline {
	return &Pipeline{
		store:            opts.Store,
		limiter:          opts.Limiter,
		captcha:          opts.Captcha,
		spam:             opts.Spam,
		captchaThreshold: opts.CaptchaThreshold,
		ipSalt:           opts.IPHashSalt,
		now:              time.Now,
	}
}

// Submit runs one submission through the full pipeline. On success the
// returned error is nil; otherwise it is a *TypedError or
// *UntypedError carrying the HTTP status and client-safe message.
func (p *Pipeline) Submit(ctx context.Context, req Request, meta Meta) (Result, error) {
	// 1. Structural validation.
	answers, err := normalize(req)
	if err != nil {
		return Result{}, err
	}

	// 2. Rate limiting.
	limit := p.limiter.Check(meta.ClientIP)
	if !limit.Allowed {
		return Result{}, &TypedError{
			Type:      TypeRateLimitExceeded,
			Message:   "Too many submissions. Please try again later.",
			Status:    http.StatusTooManyRequests,
			RateLimit: &limit,
		}
	}

	hashedIP := hashIP(meta.ClientIP, p.ipSalt)

	// 3. Spam scoring.
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = meta.UserAgent
	}
	referrer := req.Referrer
	if referrer == "" {
		referrer = meta.Referrer
	}

	input := antispam.Input{
		HoneypotValue:  req.HoneypotValue,
		UserAgent:      userAgent,
		Referrer:       referrer,
		SubmissionTime: p.now(),
	}
	if req.FormLoadToken != "" {
		if loadTime, ok := antispam.DecodeFormLoadToken(req.FormLoadToken); ok {
			input.FormLoadTime = loadTime
		}
	}
	for _, a := range answers {
		input.Responses = append(input.Responses, a.flatten())
	}

	spamCheck := antispam.CheckForSpam(input, p.spam)
	if spamCheck.IsSpam {
		log.WithFields(log.Fields{
			"ip":      hashedIP,
			"reasons": spamCheck.Reasons,
			"score":   spamCheck.Score,
		}).Warn("Spam submission detected")

		// No hint about which heuristic fired leaves the pipeline.
		return Result{}, &TypedError{
			Type:    TypeSpamDetected,
			Message: "Submission failed validation. Please try again.",
			Status:  http.StatusBadRequest,
		}
	}

	// 4. CAPTCHA gate for suspicious-but-not-spam submissions.
	if spamCheck.Score >= p.captchaThreshold {
		if req.CaptchaToken == "" {
			return Result{}, &TypedError{
				Type:    TypeCaptchaRequired,
				Message: "Please complete the CAPTCHA challenge.",
				Status:  http.StatusBadRequest,
			}
		}

		ok, err := p.captcha.Verify(ctx, req.CaptchaToken, meta.ClientIP)
		if errors.Is(err, captcha.ErrNotConfigured) {
			return Result{}, &TypedError{
				Type:    TypeCaptchaNotConfigured,
				Message: "CAPTCHA verification is not configured.",
				Status:  http.StatusInternalServerError,
			}
		}
		if err != nil {
			// Transport failure counts as a failed verification.
			log.Errorf("captcha.verify: %s", err)
			ok = false
		}
		if !ok {
			return Result{}, &TypedError{
				Type:    TypeCaptchaFailed,
				Message: "CAPTCHA verification failed. Please try again.",
				Status:  http.StatusBadRequest,
			}
		}
	}

	// 5. Form existence and state.
	form, err := p.store.FormByID(ctx, req.FormID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, &UntypedError{Message: "Form not found", Status: http.StatusNotFound}
	}
	if err != nil {
		log.Errorf("db.get_form: %s", err)
		return Result{}, &UntypedError{Message: "Failed to validate submission", Status: http.StatusInternalServerError}
	}
	if !form.IsActive {
		return Result{}, &UntypedError{Message: "This form is no longer active", Status: http.StatusBadRequest}
	}

	// 6. Every answered question must belong to the form.
	questions, err := p.store.QuestionsByForm(ctx, req.FormID)
	if err != nil {
		log.Errorf("db.get_questions: %s", err)
		return Result{}, &UntypedError{Message: "Failed to validate submission", Status: http.StatusInternalServerError}
	}

	questionIDs := make(map[string]bool, len(questions))
	for _, q := range questions {
		questionIDs[q.ID] = true
	}
	for questionID := range answers {
		if !questionIDs[questionID] {
			return Result{}, &TypedError{
				Type:    TypeInvalidQuestion,
				Message: "Submission references an unknown question",
				Status:  http.StatusBadRequest,
			}
		}
	}

	// 7. Required questions need a non-blank answer.
	for _, q := range questions {
		if !q.Required {
			continue
		}
		if a, ok := answers[q.ID]; !ok || !a.answered() {
			return Result{}, &TypedError{
				Type:    TypeMissingRequiredQuestion,
				Message: "Please answer all required questions",
				Status:  http.StatusBadRequest,
			}
		}
	}

	// 8. Plan quota.
	canAccept, err := p.store.CanAcceptResponse(ctx, req.FormID)
	if err != nil {
		log.Errorf("db.can_accept_response: %s", err)
		return Result{}, &UntypedError{Message: "Failed to validate submission", Status: http.StatusInternalServerError}
	}
	if !canAccept {
		return Result{}, &TypedError{
			Type:    TypeLimitExceeded,
			Message: "This form has reached its response limit",
			Status:  http.StatusBadRequest,
		}
	}

	// 9. Persist the response, then its items; compensate on failure.
	response := &model.Response{
		ID:           uuid.NewString(),
		FormID:       req.FormID,
		QRCodeID:     req.QRCodeID,
		IPHash:       hashedIP,
		LocationName: req.LocationName,
		SubmittedAt:  p.now(),
	}
	if userAgent != "" {
		response.UserAgentHash = hashUserAgent(userAgent)
	}

	if err := p.store.CreateResponse(ctx, response); err != nil {
		log.Errorf("db.insert_response: %s", err)
		return Result{}, &UntypedError{Message: "Failed to save response", Status: http.StatusInternalServerError}
	}

	items := make([]model.ResponseItem, 0, len(answers))
	for questionID, a := range answers {
		value, err := a.serialize()
		if err != nil {
			log.Errorf("db.insert_response.items.serialize: %s", err)
			return Result{}, p.compensate(ctx, response.ID)
		}
		items = append(items, model.ResponseItem{QuestionID: questionID, Value: value})
	}

	if err := p.store.CreateResponseItems(ctx, response.ID, items); err != nil {
		log.Errorf("db.insert_response.items: %s", err)
		return Result{}, p.compensate(ctx, response.ID)
	}

	log.WithFields(log.Fields{
		"formId":     req.FormID,
		"responseId": response.ID,
		"ip":         hashedIP,
		"spamScore":  spamCheck.Score,
	}).Info("Form submission successful")

	return Result{ResponseID: response.ID, RateLimit: limit}, nil
}

// compensate deletes a just-created response after its items failed to
// persist, so no metadata-only row is left behind. Best effort: if the
// delete itself fails we log and move on, the caller still gets a 500.
func (p *Pipeline) compensate(ctx context.Context, responseID string) error {
	if err := p.store.DeleteResponse(ctx, responseID); err != nil {
		log.Errorf("db.delete_response.compensate: %s", err)
	}
	return &UntypedError{Message: "Failed to save response details", Status: http.StatusInternalServerError}
}

type answer struct {
	list   bool
	scalar string
	values []string
}

func (a answer) flatten() string {
	if a.list {
		return strings.Join(a.values, " ")
	}
	return a.scalar
}

func (a answer) serialize() (string, error) {
	if a.list {
		value, err := json.Marshal(a.values)
		return string(value), err
	}
	return a.scalar, nil
}

func (a answer) answered() bool {
	if a.list {
		for _, v := range a.values {
			if strings.TrimSpace(v) != "" {
				return true
			}
		}
		return false
	}
	return strings.TrimSpace(a.scalar) != ""
}

func invalidRequest() *TypedError {
	return &TypedError{
		Type:    TypeInvalidRequest,
		Message: "Invalid submission payload",
		Status:  http.StatusBadRequest,
	}
}

func normalize(req Request) (map[string]answer, error) {
	if strings.TrimSpace(req.FormID) == "" {
		return nil, invalidRequest()
	}
	if len(req.Responses) == 0 {
		return nil, invalidRequest()
	}

	answers := make(map[string]answer, len(req.Responses))
	for questionID, value := range req.Responses {
		if questionID == "" {
			return nil, invalidRequest()
		}

		switch v := value.(type) {
		case string:
			answers[questionID] = answer{scalar: v}
		case []any:
			values := make([]string, len(v))
			for i, elem := range v {
				s, ok := elem.(string)
				if !ok {
					return nil, invalidRequest()
				}
				values[i] = s
			}
			answers[questionID] = answer{list: true, values: values}
		default:
			return nil, invalidRequest()
		}
	}
	return answers, nil
}

func hashIP(ip, salt string) string {
	sum := sha256.Sum256([]byte(ip + salt))
	return hex.EncodeToString(sum[:])
}

func hashUserAgent(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])
}
