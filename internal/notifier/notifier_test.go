package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"logx-detector/internal/alerts"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type recordingNotifier struct {
	alerts    int
	summaries int
	err       error
}

func (r *recordingNotifier) NotifyAlert(context.Context, *alerts.Alert) error {
	r.alerts++
	return r.err
}

func (r *recordingNotifier) NotifySummary(context.Context, alerts.Summary) error {
	r.summaries++
	return r.err
}

func TestKafka_NotifyAlert(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "alerts.notify"}

	a := &alerts.Alert{ID: "a1", TenantID: "t1", Level: "CRITICAL"}
	if err := k.NotifyAlert(context.Background(), a); err != nil {
		t.Fatalf("NotifyAlert() error = %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "t1" {
		t.Errorf("Key = %q, want t1", msg.Key)
	}

	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if env.Type != TypeAlert || env.Alert == nil || env.Alert.ID != "a1" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["type"] != TypeAlert || headers["schema_version"] != "1" {
		t.Errorf("unexpected headers: %v", headers)
	}
}

func TestKafka_NotifySummaryWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	k := &Kafka{writer: w, topic: "alerts.notify"}

	err := k.NotifySummary(context.Background(), alerts.Summary{TenantID: "t1", Total: 2})
	if err == nil || !strings.Contains(err.Error(), "leader not available") {
		t.Errorf("NotifySummary() error = %v, want wrapped write error", err)
	}
}

func TestNewKafka_Validation(t *testing.T) {
	if _, err := NewKafka("", "alerts.notify"); err == nil {
		t.Error("NewKafka() with empty brokers should fail")
	}
	if _, err := NewKafka("localhost:9092", ""); err == nil {
		t.Error("NewKafka() with empty topic should fail")
	}
}

func TestWebhook_PostsEnvelope(t *testing.T) {
	var got Envelope
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL)
	if err != nil {
		t.Fatalf("NewWebhook() error = %v", err)
	}
	s := alerts.Summary{TenantID: "t9", Total: 3, ByLevel: map[string]int{"WARNING": 3}}
	if err := wh.NotifySummary(context.Background(), s); err != nil {
		t.Fatalf("NotifySummary() error = %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got.Type != TypeSummary || got.Summary == nil || got.Summary.Total != 3 || got.TenantID != "t9" {
		t.Errorf("unexpected envelope: %+v", got)
	}
}

func TestWebhook_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wh, _ := NewWebhook(srv.URL)
	err := wh.NotifyAlert(context.Background(), &alerts.Alert{ID: "a1"})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("NotifyAlert() error = %v, want status 503", err)
	}
}

func TestNewWebhook_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "not a url", "http://"} {
		if _, err := NewWebhook(u); err == nil {
			t.Errorf("NewWebhook(%q) should fail", u)
		}
	}
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("down")}

	if err := (Multi{ok, bad}).NotifyAlert(context.Background(), &alerts.Alert{}); err != nil {
		t.Errorf("partial failure should not fail: %v", err)
	}
	if ok.alerts != 1 || bad.alerts != 1 {
		t.Errorf("every target should be called: ok=%d bad=%d", ok.alerts, bad.alerts)
	}

	if err := (Multi{bad, bad}).NotifySummary(context.Background(), alerts.Summary{}); err == nil {
		t.Error("all targets failing should fail")
	}

	if err := (Multi{}).NotifyAlert(context.Background(), &alerts.Alert{}); err != nil {
		t.Errorf("empty Multi should succeed: %v", err)
	}
}

func TestNoOp(t *testing.T) {
	var n Notifier = NoOp{}
	if err := n.NotifyAlert(context.Background(), &alerts.Alert{}); err != nil {
		t.Error(err)
	}
	if err := n.NotifySummary(context.Background(), alerts.Summary{}); err != nil {
		t.Error(err)
	}
}
