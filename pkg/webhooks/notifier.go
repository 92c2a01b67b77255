package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"streampact/pkg/protocol"
)

const (
	SignatureHeader = "X-Signature"
	EventIDHeader   = "X-Event-Id"
	EventTypeHeader = "X-Event-Type"
	Scheme          = "generic-hmac-sha256/v1"
)

// Sign returns the hex HMAC-SHA256 of the raw body under the shared secret.
// Receivers verify with a constant-time compare over the same preimage.
func Sign(secret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

var ErrBadSignature = errors.New("webhook signature mismatch")

// Verify checks a received signature against the raw body. Use the exact
// bytes off the wire; re-serialized JSON will not match.
func Verify(secret string, rawBody []byte, signatureHex string) error {
	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrBadSignature
	}
	return nil
}

// Notifier posts every protocol notification to a single configured URL,
// signed with the shared secret. Delivery is best-effort: a failed post is
// logged and dropped, never retried into the protocol's call path.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	log    *slog.Logger
}

func NewNotifier(url, secret string, log *slog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (n *Notifier) Emit(e protocol.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		n.log.Error("webhook marshal failed", "err", err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Error("webhook request failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(n.secret, body))
	req.Header.Set(EventIDHeader, "evt_"+uuid.NewString())
	req.Header.Set(EventTypeHeader, string(e.Type))

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Error("webhook delivery failed", "url", n.url, "err", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Error("webhook delivery rejected", "url", n.url, "status", resp.StatusCode)
	}
}
