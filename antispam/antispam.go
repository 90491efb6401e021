package antispam

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Config struct {
	HoneypotFieldName string
	// Minimum plausible time to fill a form; anything faster smells of
	// automation.
	MinSubmissionTime time.Duration
	// Maximum reasonable time before the form load token goes stale.
	MaxSubmissionTime    time.Duration
	SuspiciousUserAgents []string
	BlockedReferrers     []string
	// SpamThreshold is the score at or above which a submission is
	// rejected outright.
	SpamThreshold int
}

func DefaultConfig() Config {
	return Config{
		HoneypotFieldName: "email_confirm",
		MinSubmissionTime: 3 * time.Second,
		MaxSubmissionTime: 30 * time.Minute,
		SuspiciousUserAgents: []string{
			"bot",
			"crawler",
			"spider",
			"scraper",
			"automated",
			"headless",
			"phantom",
			"selenium",
		},
		BlockedReferrers: []string{
			"spam",
			"casino",
			"viagra",
			"porn",
		},
		SpamThreshold: 50,
	}
}

// Input carries everything CheckForSpam looks at. Zero times mean the
// corresponding timestamp is unknown. Responses must already be
// flattened to plain strings (list answers joined with spaces).
type Input struct {
	HoneypotValue  string
	UserAgent      string
	Referrer       string
	SubmissionTime time.Time
	FormLoadTime   time.Time
	Responses      []string
}

type Result struct {
	IsSpam  bool
	Reasons []string
	Score   int
}

// Ordered: for a given response value only the first matching pattern
// contributes to the score.
var contentPatterns = []func(value string) int{
	regexpCounter(`(?i)http[s]?://`),
	regexpCounter(`(?i)www\.`),
	regexpCounter(`(?i)\b(?:casino|viagra|cialis|porn|xxx|sex|gambling|loan|bitcoin|crypto)\b`),
	countRepeatedRuns,
	regexpCounter(`[A-Z]{10,}`),
}

func regexpCounter(pattern string) func(string) int {
	re := regexp.MustCompile(pattern)
	return func(value string) int {
		return len(re.FindAllStringIndex(value, -1))
	}
}

// countRepeatedRuns counts maximal runs of 11+ identical characters.
// (Stands in for the backreference pattern `(.)\1{10,}`, which RE2
// cannot express.)
func countRepeatedRuns(value string) (count int) {
	runes := []rune(value)
	runLength := 1
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) && runes[i] == runes[i-1] {
			runLength++
			continue
		}
		if runLength >= 11 {
			count++
		}
		runLength = 1
	}
	return
}

// CheckForSpam scores a submission's likely-spam probability. Pure and
// deterministic: no state, no I/O.
//
// Each heuristic contributes independently; within the user-agent,
// referrer and content checks only the first matching entry counts.
// The running score is clamped to [0,100] once, at the end.
func CheckForSpam(in Input, cfg Config) Result {
	var reasons []string
	score := 0

	if strings.TrimSpace(in.HoneypotValue) != "" {
		reasons = append(reasons, "Honeypot field filled")
		score += 90
	}

	if !in.FormLoadTime.IsZero() && !in.SubmissionTime.IsZero() {
		elapsed := in.SubmissionTime.Sub(in.FormLoadTime)

		if elapsed < cfg.MinSubmissionTime {
			reasons = append(reasons, "Form submitted too quickly")
			score += 60
		}
		// Not an else: a token with a bogus future timestamp can trip
		// both checks at once.
		if elapsed > cfg.MaxSubmissionTime {
			reasons = append(reasons, "Form submission timeout")
			score += 30
		}
	}

	if in.UserAgent != "" {
		userAgentLower := strings.ToLower(in.UserAgent)

		for _, suspicious := range cfg.SuspiciousUserAgents {
			if strings.Contains(userAgentLower, suspicious) {
				reasons = append(reasons, fmt.Sprintf("Suspicious user agent: %s", suspicious))
				score += 40
				break
			}
		}

		if len(in.UserAgent) < 10 {
			reasons = append(reasons, "Suspicious user agent length")
			score += 30
		}
	}

	if in.Referrer != "" {
		referrerLower := strings.ToLower(in.Referrer)

		for _, blocked := range cfg.BlockedReferrers {
			if strings.Contains(referrerLower, blocked) {
				reasons = append(reasons, fmt.Sprintf("Blocked referrer: %s", blocked))
				score += 70
				break
			}
		}
	}

	for _, value := range in.Responses {
		if value == "" {
			continue
		}

		for _, pattern := range contentPatterns {
			if matches := pattern(value); matches > 0 {
				reasons = append(reasons, "Spam content detected")
				score += 20 * matches
				break
			}
		}

		if len(value) > 1000 {
			reasons = append(reasons, "Excessive response length")
			score += 15
		}
	}

	if score > 100 {
		score = 100
	}

	return Result{
		IsSpam:  score >= cfg.SpamThreshold,
		Reasons: reasons,
		Score:   score,
	}
}
