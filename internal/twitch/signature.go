package twitch

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// EventSub request headers.
const (
	HeaderMessageID           = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp    = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature    = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType         = "Twitch-Eventsub-Message-Type"
	HeaderSubscriptionType    = "Twitch-Eventsub-Subscription-Type"
	HeaderSubscriptionVersion = "Twitch-Eventsub-Subscription-Version"
)

const signaturePrefix = "sha256="

// Sign returns the Twitch-Eventsub-Message-Signature value for a delivery:
// "sha256=" + hex(HMAC-SHA256(secret, messageID + timestamp + body)).
func Sign(secret []byte, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the signature of body. body must be the
// exact bytes received on the wire.
//
// The comparison always walks the full expected length, so neither the
// position of the first mismatch nor a length mismatch changes its duration.
func Verify(secret []byte, messageID, timestamp string, body []byte, provided string) bool {
	if len(secret) == 0 {
		return false
	}

	want := []byte(Sign(secret, messageID, timestamp, body))
	got := make([]byte, len(want))
	copy(got, provided)

	sameBytes := subtle.ConstantTimeCompare(want, got)
	sameLen := subtle.ConstantTimeEq(int32(len(provided)), int32(len(want)))
	return sameBytes&sameLen == 1
}

// SetSignatureHeaders populates h the way Twitch does for an outbound delivery.
func SetSignatureHeaders(h http.Header, secret []byte, messageID, timestamp, messageType, subscriptionType string, body []byte) {
	h.Set(HeaderMessageID, messageID)
	h.Set(HeaderMessageTimestamp, timestamp)
	h.Set(HeaderMessageSignature, Sign(secret, messageID, timestamp, body))
	h.Set(HeaderMessageType, messageType)
	if subscriptionType != "" {
		h.Set(HeaderSubscriptionType, subscriptionType)
		h.Set(HeaderSubscriptionVersion, "1")
	}
}
