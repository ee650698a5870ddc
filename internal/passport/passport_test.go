package passport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/danmuck/msnctl/internal/backoff"
	"github.com/danmuck/msnctl/internal/templates"
	"github.com/danmuck/msnctl/internal/testutil/testlog"
)

type scriptedReply struct {
	body string
	err  error
}

// scriptedPoster replays replies in order and repeats the last one.
type scriptedPoster struct {
	replies []scriptedReply
	calls   []Request
}

func (p *scriptedPoster) Post(_ context.Context, req Request) (string, error) {
	p.calls = append(p.calls, req)
	i := len(p.calls) - 1
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	}
	return p.replies[i].body, p.replies[i].err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = backoff.Config{}
	return cfg
}

func redirectBody(target string) string {
	return "<S:Fault><faultcode>psf:Redirect</faultcode><psf:redirectUrl>" + target + "</psf:redirectUrl></S:Fault>"
}

func ticketBody(raw string) string {
	return `<wsse:BinarySecurityToken Id="PPToken1">` + raw + `</wsse:BinarySecurityToken>`
}

func TestNegotiateSuccess(t *testing.T) {
	testlog.Start(t)
	poster := &scriptedPoster{replies: []scriptedReply{{body: ticketBody("t=abc&amp;p=xyz")}}}
	n := NewNegotiator(testConfig(), poster, templates.Builtin())

	ticket, err := n.Negotiate(context.Background(), "me@example.com", "p@ss word", "lc=1033,id=507")
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if ticket.Raw != "t=abc&p=xyz" || ticket.T != "abc" || ticket.P != "xyz" {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	if len(poster.calls) != 1 {
		t.Fatalf("expected 1 post, got %d", len(poster.calls))
	}
	req := poster.calls[0]
	if req.Host != "loginnet.passport.com" || req.Path != "/RST.srf" {
		t.Fatalf("unexpected endpoint: %s%s", req.Host, req.Path)
	}
	if !strings.Contains(req.Body, "<wsse:Username>me@example.com</wsse:Username>") {
		t.Fatalf("account not substituted")
	}
	if !strings.Contains(req.Body, "<wsse:Password>p%40ss%20word</wsse:Password>") {
		t.Fatalf("password not url-escaped")
	}
	if !strings.Contains(req.Body, `URI="?lc=1033&amp;id=507"`) {
		t.Fatalf("nonce not escaped")
	}
	for _, h := range []string{"Content-Type", "User-Agent", "Host", "Content-Length", "Connection", "Cache-Control"} {
		if req.Header.Get(h) == "" {
			t.Fatalf("missing header %s", h)
		}
	}
	if req.Header.Get("Content-Length") != fmt.Sprint(len(req.Body)) {
		t.Fatalf("content-length mismatch")
	}
}

func TestNegotiateFollowsRedirect(t *testing.T) {
	testlog.Start(t)
	poster := &scriptedPoster{replies: []scriptedReply{
		{body: redirectBody("https://msnia.login.live.com/pp550/RST.srf")},
		{body: ticketBody("t=1&amp;p=2")},
	}}
	n := NewNegotiator(testConfig(), poster, nil)
	if _, err := n.Negotiate(context.Background(), "a", "b", "c"); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if len(poster.calls) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(poster.calls))
	}
	if poster.calls[1].Host != "msnia.login.live.com" || poster.calls[1].Path != "/pp550/RST.srf" {
		t.Fatalf("redirect not followed: %+v", poster.calls[1])
	}
	if poster.calls[1].Header.Get("Host") != "msnia.login.live.com" {
		t.Fatalf("host header not updated")
	}
}

func TestNegotiateTooManyRedirections(t *testing.T) {
	testlog.Start(t)
	poster := &scriptedPoster{replies: []scriptedReply{{body: redirectBody("https://loop.example.com/RST.srf")}}}
	n := NewNegotiator(testConfig(), poster, nil)

	_, err := n.Negotiate(context.Background(), "a", "b", "c")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Reason != "too many redirections" || !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(poster.calls) != 5 {
		t.Fatalf("expected 5 outer attempts, got %d", len(poster.calls))
	}
}

func TestNegotiateConnectFailureStopsAfterThreeAttempts(t *testing.T) {
	testlog.Start(t)
	poster := &scriptedPoster{replies: []scriptedReply{{err: errors.New("connection refused")}}}
	n := NewNegotiator(testConfig(), poster, nil)

	_, err := n.Negotiate(context.Background(), "a", "b", "c")
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("reason should describe connection error: %q", err.Error())
	}
	if len(poster.calls) != 3 {
		t.Fatalf("expected 3 inner attempts, got %d", len(poster.calls))
	}
}

func TestNegotiateRecoversWithinInnerAttempts(t *testing.T) {
	testlog.Start(t)
	poster := &scriptedPoster{replies: []scriptedReply{
		{err: errors.New("reset")},
		{err: errors.New("reset")},
		{body: ticketBody("t=x&amp;p=y")},
	}}
	n := NewNegotiator(testConfig(), poster, nil)
	if _, err := n.Negotiate(context.Background(), "a", "b", "c"); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if len(poster.calls) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(poster.calls))
	}
}

func TestNegotiateFaults(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		body   string
		reason string
		target error
	}{
		{"faultstring", "<faultstring>Profile accrual is required</faultstring>", "Profile accrual is required", ErrFault},
		{"no token", "<html>nothing</html>", "ticket not found in response", ErrInvalidTicket},
		{"bad redirect", "<faultcode>psf:Redirect</faultcode>", "invalid redirect", ErrInvalidRedirect},
		{"bad ticket", ticketBody("garbage"), "incorrect passport id", ErrInvalidTicket},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			poster := &scriptedPoster{replies: []scriptedReply{{body: tc.body}}}
			_, err := NewNegotiator(testConfig(), poster, nil).Negotiate(context.Background(), "a", "b", "c")
			if err == nil || err.Error() != tc.reason {
				t.Fatalf("got err=%v want reason %q", err, tc.reason)
			}
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestBetween(t *testing.T) {
	testlog.Start(t)
	if v, ok := Between("a<x>1</x><x>2</x>", "<x>", "</x>"); !ok || v != "1" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
	if _, ok := Between("a<x>1", "<x>", "</x>"); ok {
		t.Fatalf("expected missing stop")
	}
	if _, ok := Between("abc", "<x>", "</x>"); ok {
		t.Fatalf("expected missing start")
	}
}

func TestHTTPPosterSendsHeadersOverTLS(t *testing.T) {
	testlog.Start(t)
	var gotBody, gotCache, gotType string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotCache = r.Header.Get("Cache-Control")
		gotType = r.Header.Get("Content-Type")
		if r.Method != http.MethodPost || r.URL.Path != "/RST.srf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "<faultstring>bad password</faultstring>")
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	poster := &HTTPPoster{Client: srv.Client(), Scheme: "https"}
	cfg := testConfig()
	cfg.Host = u.Host
	n := NewNegotiator(cfg, poster, nil)

	_, err = n.Negotiate(context.Background(), "a@b.c", "pw", "n")
	if err == nil || err.Error() != "bad password" {
		t.Fatalf("expected fault from server, got %v", err)
	}
	if !strings.Contains(gotBody, "<wsse:Username>a@b.c</wsse:Username>") {
		t.Fatalf("server did not receive body")
	}
	if gotCache != "no-cache" || !strings.HasPrefix(gotType, "text/xml") {
		t.Fatalf("unexpected headers cache=%q type=%q", gotCache, gotType)
	}
}

func TestEscapePassword(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"plain":       "plain",
		"p@ss word":   "p%40ss%20word",
		"a/b_c.d-e":   "a/b_c.d-e",
		"x&y<z>":      "x%26y%3Cz%3E",
		"tilde~plus+": "tilde%7Eplus%2B",
		"caf\xc3\xa9": "caf%C3%A9",
	}
	for in, want := range cases {
		if got := escapePassword(in); got != want {
			t.Fatalf("escapePassword(%q)=%q want=%q", in, got, want)
		}
	}
}
