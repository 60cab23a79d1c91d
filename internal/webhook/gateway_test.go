package webhook

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/metrics"
	"github.com/zulandar/orderbot/internal/platform"
	"github.com/zulandar/orderbot/internal/platform/messenger"
	"github.com/zulandar/orderbot/internal/platform/slack"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordingHandler records handled events. Events whose text is "slow"
// block until release is closed; "boom" panics; "fail" errors.
type recordingHandler struct {
	mu      sync.Mutex
	got     []string
	release chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{release: make(chan struct{})}
}

func (h *recordingHandler) Handle(ctx context.Context, tenantID, channel string, in platform.Inbound) error {
	text := ""
	switch ev := in.Event.(type) {
	case conversation.TextMessage:
		text = ev.Text
	case conversation.QuickReplyOrButton:
		text = ev.Payload
	}
	switch text {
	case "slow":
		select {
		case <-h.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	case "boom":
		panic("handler exploded")
	case "fail":
		return errors.New("downstream failed")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, tenantID+"/"+channel+"/"+in.SenderID+":"+text)
	return nil
}

func (h *recordingHandler) events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.got...)
}

const appSecret = "app-secret"

func newTestGateway(t *testing.T, h Handler, secret string, budget time.Duration) (*Gateway, *metrics.Metrics, http.Handler) {
	t.Helper()
	m := metrics.New()
	g, err := NewGateway(GatewayOpts{
		Providers: []platform.Provider{
			messenger.NewProvider(messenger.ProviderOpts{AppSecret: secret, VerifyToken: "verify-me"}),
			slack.NewProvider(slack.ProviderOpts{}),
		},
		Handler:   h,
		Metrics:   m,
		AckBudget: budget,
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.Close(ctx)
	})
	return g, m, g.Router()
}

func messengerBody(texts ...string) string {
	var b strings.Builder
	b.WriteString(`{"object":"page","entry":[{"id":"PAGE","time":1700000000000,"messaging":[`)
	for i, text := range texts {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"sender":{"id":"psid-1"},"recipient":{"id":"PAGE"},"timestamp":170000000000` + string(rune('0'+i)) +
			`,"message":{"mid":"m-` + string(rune('a'+i)) + `","text":"` + text + `"}}`)
	}
	b.WriteString(`]}]}`)
	return b.String()
}

func post(router http.Handler, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func signedHeader(secret, body string) http.Header {
	h := http.Header{}
	h.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(messenger.Sign([]byte(secret), []byte(body))))
	return h
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// ---------------------------------------------------------------------------
// Construction and routes
// ---------------------------------------------------------------------------

func TestNewGateway_Requirements(t *testing.T) {
	if _, err := NewGateway(GatewayOpts{Handler: newRecordingHandler()}); err == nil {
		t.Error("expected error without providers")
	}
	if _, err := NewGateway(GatewayOpts{Providers: []platform.Provider{slack.NewProvider(slack.ProviderOpts{})}}); err == nil {
		t.Error("expected error without handler")
	}
}

func TestHandshake(t *testing.T) {
	_, _, router := newTestGateway(t, newRecordingHandler(), appSecret, time.Second)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody string
	}{
		{"accepted", "/webhook/messenger/luigis?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", http.StatusOK, "42"},
		{"wrong token", "/webhook/messenger/luigis?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"unknown provider", "/webhook/telegram/luigis", http.StatusNotFound, ""},
		{"no handshake", "/webhook/slack/luigis", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(router, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, router := newTestGateway(t, newRecordingHandler(), appSecret, time.Second)
	if rec := get(router, "/healthz"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(router, "/metrics"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", rec.Code)
	}

	g, err := NewGateway(GatewayOpts{
		Providers: []platform.Provider{slack.NewProvider(slack.ProviderOpts{})},
		Handler:   newRecordingHandler(),
		Healthy:   func(context.Context) error { return errors.New("database unreachable") },
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec := get(g.Router(), "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy healthz = %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

func TestWebhook_ProcessesEventsInOrder(t *testing.T) {
	h := newRecordingHandler()
	_, m, router := newTestGateway(t, h, appSecret, time.Second)

	body := messengerBody("hi", "2", "3")
	rec := post(router, "/webhook/messenger/luigis", body, signedHeader(appSecret, body))
	if rec.Code != http.StatusOK || rec.Body.String() != "EVENT_RECEIVED" {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}

	want := []string{"luigis/messenger/psid-1:hi", "luigis/messenger/psid-1:2", "luigis/messenger/psid-1:3"}
	got := h.events()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %q, want %q", got, want)
	}
	if n := testutil.ToFloat64(m.Deliveries.WithLabelValues("messenger", OutcomeProcessed)); n != 3 {
		t.Errorf("processed = %v, want 3", n)
	}
}

func TestWebhook_BadSignatureIsAckedNotProcessed(t *testing.T) {
	h := newRecordingHandler()
	_, m, router := newTestGateway(t, h, appSecret, time.Second)

	body := messengerBody("hi")
	rec := post(router, "/webhook/messenger/luigis", body, signedHeader("forged", body))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
	if got := h.events(); len(got) != 0 {
		t.Errorf("processed %q", got)
	}
	if n := testutil.ToFloat64(m.Deliveries.WithLabelValues("messenger", OutcomeBadSignature)); n != 1 {
		t.Errorf("bad signatures = %v, want 1", n)
	}
}

func TestWebhook_NoSecretDegradedMode(t *testing.T) {
	h := newRecordingHandler()
	_, _, router := newTestGateway(t, h, "", time.Second)

	for i := 0; i < 2; i++ {
		if rec := post(router, "/webhook/messenger/luigis", messengerBody("hi"), nil); rec.Code != http.StatusOK {
			t.Fatalf("code = %d", rec.Code)
		}
	}
	if got := h.events(); len(got) != 2 {
		t.Errorf("events = %q, want both processed", got)
	}
}

func TestWebhook_MalformedBody(t *testing.T) {
	h := newRecordingHandler()
	_, m, router := newTestGateway(t, h, "", time.Second)

	if rec := post(router, "/webhook/messenger/luigis", "{not json", nil); rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
	if n := testutil.ToFloat64(m.Deliveries.WithLabelValues("messenger", OutcomeMalformed)); n != 1 {
		t.Errorf("malformed = %v, want 1", n)
	}
	if rec := post(router, "/webhook/whatsapp/luigis", "{}", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown provider code = %d", rec.Code)
	}
}

func TestWebhook_SlackChallengeIsEchoed(t *testing.T) {
	_, _, router := newTestGateway(t, newRecordingHandler(), appSecret, time.Second)
	body := `{"token":"x","challenge":"abc123","type":"url_verification"}`
	rec := post(router, "/webhook/slack/luigis", body, http.Header{"Content-Type": {"application/json"}})
	if rec.Code != http.StatusOK || rec.Body.String() != "abc123" {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestWebhook_AckBudget(t *testing.T) {
	h := newRecordingHandler()
	_, m, router := newTestGateway(t, h, "", 20*time.Millisecond)

	started := time.Now()
	rec := post(router, "/webhook/messenger/luigis", messengerBody("slow", "after"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("ack took %v", elapsed)
	}
	if n := testutil.ToFloat64(m.AckTimeouts); n != 1 {
		t.Errorf("ack timeouts = %v, want 1", n)
	}
	if got := h.events(); len(got) != 0 {
		t.Fatalf("events before release = %q", got)
	}

	close(h.release)
	deadline := time.Now().Add(2 * time.Second)
	for len(h.events()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.events(); len(got) != 2 || !strings.HasSuffix(got[1], ":after") {
		t.Errorf("events = %q, want slow then after", got)
	}
}

func TestWebhook_PanicAndErrorAreContained(t *testing.T) {
	h := newRecordingHandler()
	_, m, router := newTestGateway(t, h, "", time.Second)

	rec := post(router, "/webhook/messenger/luigis", messengerBody("boom", "fail", "ok"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if got := h.events(); len(got) != 1 || !strings.HasSuffix(got[0], ":ok") {
		t.Errorf("events = %q", got)
	}
	if n := testutil.ToFloat64(m.Deliveries.WithLabelValues("messenger", OutcomePanic)); n != 1 {
		t.Errorf("panics = %v, want 1", n)
	}
	if n := testutil.ToFloat64(m.Deliveries.WithLabelValues("messenger", OutcomeFailed)); n != 1 {
		t.Errorf("failures = %v, want 1", n)
	}
}

func TestWebhook_DroppedEventsCounted(t *testing.T) {
	h := newRecordingHandler()
	_, m, router := newTestGateway(t, h, "", time.Second)

	body := `{"object":"page","entry":[{"id":"PAGE","time":1,"messaging":[` +
		`{"sender":{"id":"PAGE"},"recipient":{"id":"psid-1"},"timestamp":1,"message":{"mid":"m-1","text":"Welcome","is_echo":true}}]}]}`
	if rec := post(router, "/webhook/messenger/luigis", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if n := testutil.ToFloat64(m.Deliveries.WithLabelValues("messenger", OutcomeDropped)); n != 1 {
		t.Errorf("dropped = %v, want 1", n)
	}
	if got := h.events(); len(got) != 0 {
		t.Errorf("events = %q", got)
	}
}

func TestClose_RejectsNewEvents(t *testing.T) {
	h := newRecordingHandler()
	g, _, router := newTestGateway(t, h, "", time.Second)
	if err := g.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rec := post(router, "/webhook/messenger/luigis", messengerBody("hi"), nil); rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
	if got := h.events(); len(got) != 0 {
		t.Errorf("events after close = %q", got)
	}
}
