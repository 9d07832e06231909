package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "ArcadeAgent/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

type telegramStub struct {
	chatID int64
	text   string
}

func (s *telegramStub) SendText(_ context.Context, chatID int64, text string) error {
	s.chatID = chatID
	s.text = text
	return nil
}

func TestFanoutDispatchesToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: ChannelLog}
	b := &recordingNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	d := NewFanout(a, nil, b)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeSubmissionRejected})
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected joined webhook error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("every notifier should receive the event")
	}
}

func TestEventFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeConfirmationTimeout, "", xerrors.WithMetadata("signature", "abc"))
	event := EventFromError(err, "42", "round-1", "sign_claim")
	if event.Code != xerrors.CodeConfirmationTimeout {
		t.Fatalf("unexpected code %s", event.Code)
	}
	if event.Metadata["signature"] != "abc" || event.Stage != "sign_claim" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeProtocolViolation, UserID: "7", Stage: "claim"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["code"] != string(xerrors.CodeProtocolViolation) || got["user_id"] != "7" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestTelegramNotifier(t *testing.T) {
	stub := &telegramStub{}
	n := &TelegramNotifier{Sender: stub, ChatID: -100}
	event := Event{Code: xerrors.CodeSubmissionRejected, Severity: xerrors.SeverityCritical, Metadata: map[string]string{"b": "2", "a": "1"}}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if stub.chatID != -100 {
		t.Fatalf("unexpected chat id %d", stub.chatID)
	}
	if !strings.Contains(stub.text, "SUBMISSION_REJECTED") || strings.Index(stub.text, "- a: 1") > strings.Index(stub.text, "- b: 2") {
		t.Fatalf("unexpected text %q", stub.text)
	}

	var unconfigured *TelegramNotifier
	if err := unconfigured.Notify(context.Background(), event); err != nil {
		t.Fatalf("unconfigured notifier should skip silently: %v", err)
	}
}
