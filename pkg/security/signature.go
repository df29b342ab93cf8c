// Package security signs and verifies webhook payloads with HMAC-SHA256.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTolerance   = 5 * time.Minute
	signatureVersionV1 = "v1"
)

var (
	ErrSignatureMissing = errors.New("signature header missing")
	ErrSignatureInvalid = errors.New("signature mismatch")
	ErrSignatureExpired = errors.New("signature timestamp outside tolerance")
)

// Sign returns the header value for payload signed with secret at ts:
// "t=<unix>,v1=<hex hmac-sha256 of '<unix>.<payload>'>".
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,%s=%s", unix, signatureVersionV1, computeMAC(payload, secret, unix))
}

// VerifySignature checks header against payload and rejects timestamps more
// than tolerance away from now.
func VerifySignature(payload []byte, secret, header string, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(header) == "" || secret == "" {
		return ErrSignatureMissing
	}

	var unix string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			unix = value
		case signatureVersionV1:
			signatures = append(signatures, value)
		}
	}
	if unix == "" || len(signatures) == 0 {
		return ErrSignatureInvalid
	}

	seconds, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(seconds, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrSignatureExpired
		}
	}

	expected := computeMAC(payload, secret, unix)
	for _, candidate := range signatures {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

func computeMAC(payload []byte, secret, unix string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
