package game

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	xerrors "ArcadeAgent/internal/errors"
)

func TestHTTPClientRequestMove(t *testing.T) {
	var gotPath, gotQuery, gotType string
	var gotBody FollowRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"transaction":"AAA=","links":{"next":{"href":"/api/actions/outcome"}}}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.RequestMove(context.Background(), "backend", MoveRequest{Account: "Acc1", Choice: Paper, Wager: tenth})
	if err != nil {
		t.Fatalf("request move: %v", err)
	}
	if gotPath != "/api/actions/backend" || gotQuery != "amount=0.1&choice=paper" {
		t.Fatalf("unexpected target %s?%s", gotPath, gotQuery)
	}
	if gotType != "application/json" || gotBody.Account != "Acc1" || gotBody.Signature != "" {
		t.Fatalf("unexpected request %q %+v", gotType, gotBody)
	}
	if resp.Transaction != "AAA=" || resp.NextLink().String() != "/api/actions/outcome" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHTTPClientFollowResolvesAgainstBase(t *testing.T) {
	var gotURI string
	var gotBody FollowRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"title":"You lost this round"}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL + "/")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	for _, href := range []string{"/api/actions/outcome?id=9", srv.URL + "/api/actions/outcome?id=9"} {
		resp, err := client.Follow(context.Background(), Continuation{href: href}, FollowRequest{Account: "Acc1", Signature: "sig"})
		if err != nil {
			t.Fatalf("follow %s: %v", href, err)
		}
		if gotURI != "/api/actions/outcome?id=9" || gotBody.Signature != "sig" {
			t.Fatalf("unexpected request %s %+v", gotURI, gotBody)
		}
		if resp.Title != "You lost this round" {
			t.Fatalf("unexpected title %q", resp.Title)
		}
	}
}

func TestHTTPClientRefusesForeignContinuations(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for _, href := range []string{"", "https://evil.example/api/actions/claim", "//evil.example/claim", "ftp://" + srv.Listener.Addr().String() + "/x"} {
		_, err := client.Follow(context.Background(), Continuation{href: href}, FollowRequest{Account: "Acc1"})
		if !xerrors.HasCode(err, xerrors.CodeProtocolViolation) {
			t.Fatalf("href %q: expected protocol violation, got %v", href, err)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("refused continuations must not reach the network")
	}
}

func TestHTTPClientErrorStatusesAndBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad-status":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"insufficient funds"}`))
		case "/bad-json":
			_, _ = w.Write([]byte(`<html>`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Follow(context.Background(), Continuation{href: "/bad-status"}, FollowRequest{})
	e, ok := xerrors.From(err)
	if !ok || e.Code() != xerrors.CodeProtocolViolation || e.Metadata()["remote_message"] != "insufficient funds" {
		t.Fatalf("unexpected error %v", err)
	}

	_, err = client.Follow(context.Background(), Continuation{href: "/bad-json"}, FollowRequest{})
	if !xerrors.HasCode(err, xerrors.CodeProtocolViolation) {
		t.Fatalf("expected protocol violation for invalid json, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Follow(ctx, Continuation{href: "/slow"}, FollowRequest{})
	if !xerrors.HasCode(err, xerrors.CodeTimeout) {
		t.Fatalf("expected timeout when the context is cancelled, got %v", err)
	}
}

func TestHTTPClientJoinsBasePath(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.RequestURI())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL + "/rps/")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.RequestMove(context.Background(), "bot", MoveRequest{Account: "Acc1", Choice: Rock, Wager: tenth}); err != nil {
		t.Fatalf("request move: %v", err)
	}
	for _, href := range []string{"/api/actions/outcome?id=1", srv.URL + "/rps/api/actions/outcome?id=1"} {
		if _, err := client.Follow(context.Background(), Continuation{href: href}, FollowRequest{Account: "Acc1"}); err != nil {
			t.Fatalf("follow %s: %v", href, err)
		}
	}
	want := []string{
		"/rps/api/actions/bot?amount=0.1&choice=rock",
		"/rps/api/actions/outcome?id=1",
		"/rps/api/actions/outcome?id=1",
	}
	if len(gotPaths) != len(want) {
		t.Fatalf("unexpected requests %v", gotPaths)
	}
	for i := range want {
		if gotPaths[i] != want[i] {
			t.Fatalf("request %d: expected %s, got %s", i, want[i], gotPaths[i])
		}
	}

	for _, href := range []string{"/../api/actions/outcome", srv.URL + "/api/actions/outcome"} {
		_, err := client.Follow(context.Background(), Continuation{href: href}, FollowRequest{Account: "Acc1"})
		if !xerrors.HasCode(err, xerrors.CodeProtocolViolation) {
			t.Fatalf("href %q escaping the base path: expected protocol violation, got %v", href, err)
		}
	}
	if len(gotPaths) != len(want) {
		t.Fatalf("escaping continuations must not reach the network")
	}
}

func TestHTTPClientResolveNormalisesSpellings(t *testing.T) {
	client, err := NewHTTPClient(DefaultBaseURL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	want := DefaultBaseURL + "/api/actions/outcome?id=1"
	for _, href := range []string{
		"/api/actions/outcome?id=1",
		"api/actions/outcome?id=1",
		"/api/actions/claim/../outcome?id=1",
		"/api//actions/./outcome?id=1",
		want,
	} {
		got, err := client.Resolve(Continuation{href: href})
		if err != nil {
			t.Fatalf("resolve %s: %v", href, err)
		}
		if got != want {
			t.Fatalf("resolve %s: expected %s, got %s", href, want, got)
		}
	}
}

func TestNewHTTPClientValidation(t *testing.T) {
	if _, err := NewHTTPClient("not a url"); err == nil {
		t.Fatalf("expected error for relative base url")
	}
	client, err := NewHTTPClient("")
	if err != nil {
		t.Fatalf("default base url: %v", err)
	}
	if client.base.String() != DefaultBaseURL {
		t.Fatalf("unexpected default base %s", client.base)
	}
	if _, err := NewHTTPClient(DefaultBaseURL + "?env=prod"); err == nil {
		t.Fatalf("expected error for base url with query")
	}
}
