package passport

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	redirectMarker = "<faultcode>psf:Redirect</faultcode>"
	redirectOpen   = "<psf:redirectUrl>"
	redirectClose  = "</psf:redirectUrl>"
	tokenOpen      = `<wsse:BinarySecurityToken Id="PPToken1">`
	tokenClose     = "</wsse:BinarySecurityToken>"
	faultOpen      = "<faultstring>"
	faultClose     = "</faultstring>"
	ticketSplit    = "&p="
)

type outcomeKind int

const (
	outcomeFailure outcomeKind = iota
	outcomeRedirect
	outcomeTicket
)

// outcome is the classification of one service response.
type outcome struct {
	kind   outcomeKind
	ticket string
	host   string
	path   string
	reason string
	err    error
}

func classify(body string) outcome {
	if strings.Contains(body, redirectMarker) {
		raw, ok := Between(body, redirectOpen, redirectClose)
		if !ok {
			return outcome{kind: outcomeFailure, reason: "invalid redirect", err: ErrInvalidRedirect}
		}
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Host == "" {
			return outcome{kind: outcomeFailure, reason: "invalid redirect", err: fmt.Errorf("%w: %q", ErrInvalidRedirect, raw)}
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		return outcome{kind: outcomeRedirect, host: u.Host, path: path}
	}

	if token, ok := Between(body, tokenOpen, tokenClose); ok {
		return outcome{kind: outcomeTicket, ticket: strings.ReplaceAll(token, "&amp;", "&")}
	}
	if fault, ok := Between(body, faultOpen, faultClose); ok {
		return outcome{kind: outcomeFailure, reason: fault, err: fmt.Errorf("%w: %s", ErrFault, fault)}
	}
	return outcome{kind: outcomeFailure, reason: "ticket not found in response", err: ErrInvalidTicket}
}

func parseTicket(raw string) (Ticket, error) {
	head, tail, ok := strings.Cut(raw, ticketSplit)
	if !ok || !strings.HasPrefix(head, "t=") {
		return Ticket{}, &AuthError{Reason: "incorrect passport id", Err: fmt.Errorf("%w: %q", ErrInvalidTicket, raw)}
	}
	return Ticket{Raw: raw, T: strings.TrimPrefix(head, "t="), P: tail}, nil
}

// Between returns the text after the first start and before the next stop.
func Between(s, start, stop string) (string, bool) {
	_, rest, ok := strings.Cut(s, start)
	if !ok {
		return "", false
	}
	value, _, ok := strings.Cut(rest, stop)
	if !ok {
		return "", false
	}
	return value, true
}
