package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier posts signed JSON events to one endpoint, retrying failed
// deliveries with exponential backoff.
type Notifier struct {
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	Log         *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewNotifier(url, secret string, maxAttempts int, log *zap.Logger) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{URL: url, Secret: secret, HTTP: &http.Client{Timeout: 5 * time.Second}, MaxAttempts: maxAttempts, Log: log}
}

// Envelope is the body of every delivery.
type Envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TS   string `json:"ts"`
	Data any    `json:"data"`
}

// Notify delivers one event. It returns the last error once MaxAttempts
// deliveries failed or ctx ended.
func (n *Notifier) Notify(ctx context.Context, eventType string, data any) error {
	body, err := json.Marshal(Envelope{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		TS:   time.Now().UTC().Format(time.RFC3339),
		Data: data,
	})
	if err != nil {
		return err
	}
	sleep := n.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var lastErr error
	for attempt := 0; attempt < n.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, nextBackoff(attempt-1)); err != nil {
				return err
			}
		}
		start := time.Now()
		code, err := n.deliver(ctx, eventType, body)
		if err == nil {
			n.Log.Debug("webhook delivered", zap.String("type", eventType), zap.Int("status", code),
				zap.Int("attempt", attempt+1), zap.Duration("latency", time.Since(start)))
			return nil
		}
		lastErr = err
		n.Log.Warn("webhook delivery failed", zap.String("type", eventType), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("webhook %s: %d attempts: %w", eventType, n.MaxAttempts, lastErr)
}

func (n *Notifier) deliver(ctx context.Context, eventType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", eventType)
	if n.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(n.Secret, body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignHMAC returns lowercase hex of HMAC-SHA256 over body.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a signature produced by SignHMAC; receivers use it.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), b)
}
