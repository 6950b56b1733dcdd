package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pricescout/pricescout/internal/train"
)

func TestFromBatchReport(t *testing.T) {
	n := FromBatchReport(&train.BatchReport{
		Total: 5, Successful: 3, Failed: 1, Skipped: 1,
		Errors: []string{"item 4 (sku-D): diverged"},
	})
	if !strings.Contains(n.Title, "1 failures") {
		t.Fatalf("title = %q", n.Title)
	}
	if n.Body != "3 trained, 1 failed, 1 skipped of 5 eligible items" {
		t.Fatalf("body = %q", n.Body)
	}

	clean := FromBatchReport(&train.BatchReport{Total: 2, Successful: 2})
	if clean.Title != "Training pass complete" {
		t.Fatalf("clean title = %q", clean.Title)
	}
}

type stubNotifier struct {
	name string
	err  error
	sent int
}

func (s *stubNotifier) Name() string { return s.name }
func (s *stubNotifier) Send(ctx context.Context, n *Notification) error {
	s.sent++
	return s.err
}

func TestManagerBroadcast(t *testing.T) {
	good := &stubNotifier{name: "good"}
	bad := &stubNotifier{name: "bad", err: errors.New("timeout")}
	m := NewManager([]Notifier{good, bad})

	if !m.HasNotifiers() {
		t.Fatal("expected notifiers")
	}

	err := m.Broadcast(context.Background(), &Notification{Title: "t"})
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Fatalf("error does not name the failing notifier: %v", err)
	}
	if good.sent != 1 || bad.sent != 1 {
		t.Fatalf("one failure must not stop the rest: good=%d bad=%d", good.sent, bad.sent)
	}

	empty := NewManager(nil)
	if empty.HasNotifiers() {
		t.Fatal("empty manager claims notifiers")
	}
	if err := empty.Broadcast(context.Background(), &Notification{}); err != nil {
		t.Fatalf("empty broadcast: %v", err)
	}
}

func TestWebhookSend_SignsPayload(t *testing.T) {
	const secret = "s3cret"
	var gotSig string
	var gotBody []byte

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wh := NewWebhook(ts.URL, secret)
	n := &Notification{Title: "Training pass complete", Successful: 2, Total: 2}
	if err := wh.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}

	var decoded Notification
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded.Title != n.Title || decoded.Successful != 2 {
		t.Fatalf("payload round trip: %+v", decoded)
	}
}

func TestWebhookSend_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	wh := NewWebhook(ts.URL, "")
	err := wh.Send(context.Background(), &Notification{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}
