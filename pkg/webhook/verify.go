package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

var (
	ErrorInvalidSignature = errors.New("invalid signature")
	ErrorVerifyToken      = errors.New("verify token mismatch")
)

// VerifySignature checks an X-Hub-Signature-256 header against the HMAC-SHA256
// of the raw body keyed by the app secret.
func VerifySignature(appSecret string, body []byte, header string) error {
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrorInvalidSignature
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrorInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrorInvalidSignature
	}
	return nil
}

func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Challenge answers the subscription handshake, returning hub.challenge when
// the mode and verify token match.
func Challenge(query url.Values, verifyToken string) (string, error) {
	if query.Get("hub.mode") != "subscribe" {
		return "", ErrorVerifyToken
	}
	if !hmac.Equal([]byte(query.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", ErrorVerifyToken
	}
	return query.Get("hub.challenge"), nil
}
