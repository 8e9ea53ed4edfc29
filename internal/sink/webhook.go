package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WebhookSink POSTs (or otherwise sends) the payload as JSON to a URL, with
// a bounded number of retries separated by a fixed backoff.
type WebhookSink struct {
	url        string
	method     string
	headers    map[string]string
	timeout    time.Duration
	retryCount int
	client     *http.Client
	log        zerolog.Logger
}

// NewWebhookSink creates a webhook sink. method defaults to POST;
// timeoutSeconds defaults to 30 when zero.
func NewWebhookSink(url, method string, headers map[string]string, timeoutSeconds, retryCount int, log zerolog.Logger) *WebhookSink {
	if method == "" {
		method = http.MethodPost
	}
	if timeoutSeconds == 0 {
		timeoutSeconds = 30
	}
	expanded := make(map[string]string, len(headers))
	for k, v := range headers {
		expanded[k] = os.ExpandEnv(v)
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	return &WebhookSink{
		url: os.ExpandEnv(url), method: method, headers: expanded,
		timeout: timeout, retryCount: retryCount,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Send attempts delivery up to 1+retryCount times, sleeping one second
// between attempts. Failures are logged; Send never returns an error.
func (w *WebhookSink) Send(payload Payload) {
	body, err := json.Marshal(payload.ToMap())
	if err != nil {
		w.log.Error().Err(err).Msg("failed to marshal webhook payload")
		return
	}

	attempts := 1 + w.retryCount
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := w.attempt(body); err != nil {
			lastErr = err
			if attempt < attempts-1 {
				time.Sleep(time.Second)
			}
			continue
		}
		return
	}

	w.log.Error().Err(lastErr).Int("attempts", attempts).Str("url", w.url).Msg("webhook sink failed after all attempts")
}

func (w *WebhookSink) attempt(body []byte) error {
	req, err := http.NewRequest(w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
