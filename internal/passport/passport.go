// Package passport obtains the login ticket from the external identity
// service. One Negotiate call walks at most MaxRedirects endpoints and makes
// at most MaxAttempts POSTs per endpoint.
package passport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/msnctl/internal/backoff"
	"github.com/danmuck/msnctl/internal/observability"
	"github.com/danmuck/msnctl/internal/templates"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnect          = errors.New("passport: connect failed")
	ErrTooManyRedirects = errors.New("passport: too many redirections")
	ErrInvalidRedirect  = errors.New("passport: invalid redirect")
	ErrFault            = errors.New("passport: service fault")
	ErrInvalidTicket    = errors.New("passport: invalid ticket")
	ErrTemplate         = errors.New("passport: template unavailable")
)

// AuthError carries the human readable reason shown to the user.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Config defines the ticket service endpoint and retry bounds.
type Config struct {
	Host         string
	Path         string
	UserAgent    string
	MaxRedirects int
	MaxAttempts  int
	Backoff      backoff.Config
}

func DefaultConfig() Config {
	return Config{
		Host:         "loginnet.passport.com",
		Path:         "/RST.srf",
		UserAgent:    "Mozilla/4.0 (compatible; MSIE 6.0; Windows NT 5.1)",
		MaxRedirects: 5,
		MaxAttempts:  3,
		Backoff:      backoff.Default(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Host) == "" {
		c.Host = def.Host
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = def.Path
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = def.UserAgent
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = def.MaxRedirects
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// Request is one POST to the ticket service.
type Request struct {
	Host   string
	Path   string
	Header http.Header
	Body   string
}

// Poster performs the HTTPS exchange and returns the response body.
type Poster interface {
	Post(ctx context.Context, req Request) (string, error)
}

// Ticket is the token presented with the second USR command.
// Raw has the form "t=<T>&p=<P>".
type Ticket struct {
	Raw string
	T   string
	P   string
}

type Negotiator struct {
	cfg       Config
	poster    Poster
	templates templates.Provider
	rng       *rand.Rand
}

func NewNegotiator(cfg Config, poster Poster, tpl templates.Provider) *Negotiator {
	if tpl == nil {
		tpl = templates.Builtin()
	}
	return &Negotiator{
		cfg:       cfg.WithDefaults(),
		poster:    poster,
		templates: tpl,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Negotiate exchanges credentials and the server nonce for a ticket.
// Every failure is an *AuthError.
func (n *Negotiator) Negotiate(ctx context.Context, account, password, nonce string) (Ticket, error) {
	tpl, err := n.templates.Get(templates.Passport)
	if err != nil {
		return Ticket{}, &AuthError{Reason: "passport template unavailable", Err: fmt.Errorf("%w: %v", ErrTemplate, err)}
	}
	body := fmt.Sprintf(tpl, account, escapePassword(password), escapeNonce(nonce))

	host, path := n.cfg.Host, n.cfg.Path
	for round := 1; round <= n.cfg.MaxRedirects; round++ {
		resp, err := n.post(ctx, host, path, body)
		if err != nil {
			return Ticket{}, &AuthError{
				Reason: "can't connect to HTTPS server: " + err.Error(),
				Err:    fmt.Errorf("%w: %v", ErrConnect, err),
			}
		}

		out := classify(resp)
		switch out.kind {
		case outcomeRedirect:
			log.Info().Msgf("passport.Negotiator.Negotiate redirect round=%d host=%q path=%q", round, out.host, out.path)
			host, path = out.host, out.path
		case outcomeTicket:
			return parseTicket(out.ticket)
		default:
			return Ticket{}, &AuthError{Reason: out.reason, Err: out.err}
		}
	}
	return Ticket{}, &AuthError{Reason: "too many redirections", Err: ErrTooManyRedirects}
}

func (n *Negotiator) post(ctx context.Context, host, path, body string) (string, error) {
	req := Request{
		Host:   host,
		Path:   path,
		Header: n.headers(host, body),
		Body:   body,
	}
	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		resp, err := n.poster.Post(ctx, req)
		observability.RecordPassportRequest(err == nil, time.Since(start))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		log.Warn().Msgf("passport.Negotiator.post attempt=%d host=%q err=%v", attempt, host, err)
		if attempt == n.cfg.MaxAttempts {
			break
		}
		if err := backoff.Sleep(ctx, n.cfg.Backoff, attempt, n.rng); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (n *Negotiator) headers(host, body string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "text/*")
	h.Set("Content-Type", "text/xml; charset=utf-8")
	h.Set("User-Agent", n.cfg.UserAgent)
	h.Set("Host", host)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Connection", "Keep-Alive")
	h.Set("Cache-Control", "no-cache")
	return h
}

// escapePassword percent-encodes every byte except ASCII letters, digits
// and "_.-/". Ampersands and angle brackets never reach the XML body raw.
func escapePassword(password string) string {
	var b strings.Builder
	for i := 0; i < len(password); i++ {
		c := password[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			b.WriteByte(c)
		case c == '_' || c == '.' || c == '-' || c == '/':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// The nonce arrives as comma separated query pairs; the template embeds it
// in an XML attribute, so separators become escaped ampersands.
func escapeNonce(nonce string) string {
	nonce = strings.ReplaceAll(nonce, "&", "&amp;")
	return strings.ReplaceAll(nonce, ",", "&amp;")
}
