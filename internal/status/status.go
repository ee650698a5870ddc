// Package status maps presence values to their three-letter wire codes.
package status

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownCode = errors.New("status: unknown code")

// Status is a contact or account presence value.
type Status int

const (
	Online Status = iota
	Offline
	Busy
	Away
	Idle
)

var (
	codes = map[Status]string{
		Online:  "NLN",
		Offline: "HDN",
		Busy:    "BSY",
		Away:    "AWY",
		Idle:    "IDL",
	}
	byCode = func() map[string]Status {
		out := make(map[string]Status, len(codes))
		for s, c := range codes {
			out[c] = s
		}
		return out
	}()
	names = map[Status]string{
		Online:  "online",
		Offline: "offline",
		Busy:    "busy",
		Away:    "away",
		Idle:    "idle",
	}
)

// All returns every status in declaration order.
func All() []Status {
	return []Status{Online, Offline, Busy, Away, Idle}
}

// Code returns the wire code, or "" for values outside the table.
func (s Status) Code() string {
	return codes[s]
}

func (s Status) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) Valid() bool {
	_, ok := codes[s]
	return ok
}

// FromCode resolves a wire code such as "NLN".
func FromCode(code string) (Status, error) {
	s, ok := byCode[strings.TrimSpace(code)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCode, code)
	}
	return s, nil
}

// Parse accepts either a status name ("away") or a wire code ("AWY").
func Parse(raw string) (Status, error) {
	v := strings.TrimSpace(raw)
	for s, name := range names {
		if strings.EqualFold(name, v) {
			return s, nil
		}
	}
	return FromCode(strings.ToUpper(v))
}
