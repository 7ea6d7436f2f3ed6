package invalidate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookNotifierPayload(t *testing.T) {
	type received struct {
		msg  Message
		auth string
	}
	ch := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ch <- received{msg: msg, auth: r.Header.Get("Authorization")}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "s3cret")
	if err := n.Invalidate(context.Background(), "/estacion/station-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	select {
	case got := <-ch:
		if got.msg.Path != "/estacion/station-1" {
			t.Fatalf("unexpected path %q", got.msg.Path)
		}
		if got.msg.At.IsZero() {
			t.Fatalf("expected timestamp")
		}
		if got.auth != "Bearer s3cret" {
			t.Fatalf("unexpected auth header %q", got.auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not called")
	}
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := NewWebhookNotifier(server.URL, "").Invalidate(context.Background(), "/"); err == nil {
		t.Fatalf("expected error for 502")
	}
	if err := NewWebhookNotifier("", "").Invalidate(context.Background(), "/"); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	var calls []string
	m := Multi{
		Func(func(_ context.Context, path string) error {
			calls = append(calls, "a:"+path)
			return errA
		}),
		nil,
		LogNotifier{},
		Func(func(_ context.Context, path string) error {
			calls = append(calls, "b:"+path)
			return nil
		}),
	}

	err := m.Invalidate(context.Background(), "/admin")
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "a:/admin" || calls[1] != "b:/admin" {
		t.Fatalf("unexpected calls %v", calls)
	}
	if err := (Multi{LogNotifier{}}).Invalidate(context.Background(), "/"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestTopic(t *testing.T) {
	cases := map[string]string{
		"":              "invalidate",
		"stationstore":  "stationstore/invalidate",
		"stationstore/": "stationstore/invalidate",
	}
	for prefix, want := range cases {
		if got := Topic(prefix); got != want {
			t.Fatalf("Topic(%q) = %q, want %q", prefix, got, want)
		}
	}
}
