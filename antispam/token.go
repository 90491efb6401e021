package antispam

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// CreateFormLoadToken mints an opaque token recording when a form was
// served. Clients echo it back on submission so the timing heuristics
// can run. Not tamper-proof: a forged timestamp only ever raises the
// spam score, never lowers another signal.
func CreateFormLoadToken(now time.Time) string {
	payload := fmt.Sprintf("%d:%s", now.UnixMilli(), strconv.FormatInt(rand.Int63(), 36))
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// DecodeFormLoadToken recovers the load timestamp from a token.
// Malformed tokens yield ok=false.
func DecodeFormLoadToken(token string) (loadTime time.Time, ok bool) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, false
	}

	millisPart, _, _ := strings.Cut(string(decoded), ":")
	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	return time.UnixMilli(millis), true
}

// HoneypotFieldName derives a per-form hidden field name that bots are
// likely to fill and humans never see.
func HoneypotFieldName(formID string, now time.Time) string {
	sum := md5.Sum([]byte(formID + strconv.FormatInt(now.UnixMilli(), 10)))
	return "email_" + hex.EncodeToString(sum[:])[:8]
}
