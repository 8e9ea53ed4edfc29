package trigger

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"initrunner/internal/gateway/middleware"
)

// WebhookConfig describes one HTTP-bound trigger.
type WebhookConfig struct {
	Path           string `yaml:"path"`
	Port           int    `yaml:"port"`
	SharedSecret   string `yaml:"shared_secret"`
	RateLimitRPM   int    `yaml:"rate_limit_rpm"`
	PromptTemplate string `yaml:"prompt_template"` // rendered with {body}; falls back to the raw body when empty
}

// WebhookTrigger binds an HTTP server on Port and emits an event for each
// request to Path that carries a valid shared secret, rate limited via the
// same token-bucket limiter the HTTP gateway uses for inbound API traffic.
type WebhookTrigger struct {
	cfg     WebhookConfig
	cb      Callback
	log     zerolog.Logger
	limiter *middleware.RateLimiter
	server  *http.Server
	ln      net.Listener
}

// Addr returns the address the trigger is bound to. Only valid after a
// successful Start; useful in tests where Port is left as 0 for an
// OS-assigned port.
func (t *WebhookTrigger) Addr() string {
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

// NewWebhookTrigger builds a webhook trigger. The limiter is created here
// (not shared across triggers) since each webhook trigger binds its own
// port/path pair.
func NewWebhookTrigger(cfg WebhookConfig, cb Callback, log zerolog.Logger) *WebhookTrigger {
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: rpm,
		Burst:             rpm,
		Enabled:           true,
		CleanupInterval:   5 * time.Minute,
	})

	return &WebhookTrigger{cfg: cfg, cb: cb, log: log, limiter: limiter}
}

func (t *WebhookTrigger) checkSecret(r *http.Request) bool {
	if t.cfg.SharedSecret == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Secret")
	if got == "" {
		if q := r.URL.Query().Get("secret"); q != "" {
			got = q
		}
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(t.cfg.SharedSecret)) == 1
}

func (t *WebhookTrigger) handle(w http.ResponseWriter, r *http.Request) {
	if !t.checkSecret(r) {
		http.Error(w, "invalid or missing shared secret", http.StatusUnauthorized)
		return
	}

	allowed, _, resetTime := t.limiter.Allow(r.RemoteAddr)
	if !allowed {
		w.Header().Set("Retry-After", resetTime.UTC().Format(time.RFC1123))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	prompt := t.cfg.PromptTemplate
	if prompt == "" {
		prompt = string(body)
	}

	meta := map[string]string{"path": r.URL.Path}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		for k, v := range parsed {
			if s, ok := v.(string); ok {
				meta[k] = s
			}
		}
	}

	t.cb(Event{TriggerType: "webhook", Prompt: prompt, Metadata: meta})
	w.WriteHeader(http.StatusAccepted)
}

// Start binds the HTTP server and begins serving in the background. Binding
// happens synchronously so callers learn about port-in-use errors
// immediately rather than only via a background log line.
func (t *WebhookTrigger) Start() error {
	router := mux.NewRouter()
	router.HandleFunc(t.cfg.Path, t.handle).Methods(http.MethodPost)
	router.Use(middleware.Recovery(t.log), middleware.Logging(t.log))

	ln, err := net.Listen("tcp", portAddr(t.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind webhook trigger: %w", err)
	}
	t.ln = ln
	t.server = &http.Server{Handler: router}

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error().Err(err).Str("addr", t.Addr()).Msg("webhook trigger server stopped unexpectedly")
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully and stops the rate limiter's
// cleanup goroutine.
func (t *WebhookTrigger) Stop() {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(ctx)
	}
	t.limiter.Stop()
}

func portAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
