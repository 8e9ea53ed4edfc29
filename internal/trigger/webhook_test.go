package trigger

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWebhookTriggerFiresOnValidSecret(t *testing.T) {
	fired := make(chan Event, 1)
	trig := NewWebhookTrigger(WebhookConfig{
		Path:         "/hooks/demo",
		Port:         0,
		SharedSecret: "s3cr3t",
		RateLimitRPM: 120,
	}, func(ev Event) { fired <- ev }, zerolog.Nop())

	require.NoError(t, trig.Start())
	defer trig.Stop()

	url := "http://" + trig.Addr() + "/hooks/demo"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{"reason":"deploy"}`))
	require.NoError(t, err)
	req.Header.Set("X-Webhook-Secret", "s3cr3t")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	select {
	case ev := <-fired:
		require.Equal(t, "webhook", ev.TriggerType)
		require.Equal(t, "deploy", ev.Metadata["reason"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook trigger did not fire in time")
	}
}

func TestWebhookTriggerRejectsBadSecret(t *testing.T) {
	trig := NewWebhookTrigger(WebhookConfig{
		Path:         "/hooks/demo",
		Port:         0,
		SharedSecret: "s3cr3t",
	}, func(Event) {}, zerolog.Nop())

	require.NoError(t, trig.Start())
	defer trig.Stop()

	url := "http://" + trig.Addr() + "/hooks/demo"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	req.Header.Set("X-Webhook-Secret", "wrong")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
