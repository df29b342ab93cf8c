package notifications

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const DefaultDedupeBucket = time.Minute

// DedupeKey derives the idempotency key for req. An explicit override wins;
// otherwise the key hashes order, event type, template, normalised recipient
// and either the caller nonce or the time bucket containing now.
func DedupeKey(req Request, now time.Time, bucket time.Duration) string {
	if override := strings.TrimSpace(req.DedupeKey); override != "" {
		return override
	}
	if bucket <= 0 {
		bucket = DefaultDedupeBucket
	}

	order := "-"
	if req.OrderID != nil {
		order = req.OrderID.String()
	}

	discriminator := "bucket:" + strconv.FormatInt(now.UTC().Truncate(bucket).Unix(), 10)
	if nonce := strings.TrimSpace(req.Nonce); nonce != "" {
		discriminator = "nonce:" + nonce
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{
		order,
		strings.TrimSpace(req.EventType),
		strings.TrimSpace(req.TemplateKey),
		strings.ToLower(strings.TrimSpace(req.Recipient)),
		discriminator,
	}, "|")))
	return hex.EncodeToString(sum[:])
}
