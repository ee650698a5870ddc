package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Verb is the three character command token that opens every line.
type Verb string

const (
	VerbVersion         Verb = "VER"
	VerbClientVersion   Verb = "CVR"
	VerbTransfer        Verb = "XFR"
	VerbUser            Verb = "USR"
	VerbSBS             Verb = "SBS"
	VerbMessage         Verb = "MSG"
	VerbInitialPresence Verb = "ILN"
	VerbPersonalInfo    Verb = "UBX"
	VerbChallenge       Verb = "CHL"
	VerbQuery           Verb = "QRY"
	VerbOnline          Verb = "NLN"
	VerbOffline         Verb = "FLN"
	VerbRing            Verb = "RNG"
	VerbAddList         Verb = "ADL"
	VerbRemoveList      Verb = "RML"
	VerbNotification    Verb = "NOT"
	VerbSignOut         Verb = "OUT"
	VerbPing            Verb = "PNG"
	VerbPong            Verb = "QNG"
	VerbChangeStatus    Verb = "CHG"
	VerbProperty        Verb = "PRP"
	VerbPersonalUpdate  Verb = "UUX"
	VerbPrivacy         Verb = "BLP"
)

// Verbs that may carry a trailing payload length on inbound lines.
var payloadVerbs = map[Verb]struct{}{
	VerbMessage:        {},
	VerbPersonalInfo:   {},
	VerbNotification:   {},
	VerbAddList:        {},
	VerbRemoveList:     {},
	VerbPersonalUpdate: {},
	"GCF":              {},
	"IPG":              {},
	"UBN":              {},
}

// Verbs written without a correlation id.
var noTIDVerbs = map[Verb]struct{}{
	VerbPing:    {},
	VerbSignOut: {},
}

// InboundMessage is one parsed server line plus its optional payload.
// TID holds the second token verbatim; several verbs put an account,
// status code or reason there instead of a numeric id.
type InboundMessage struct {
	Command Verb
	TID     string
	Params  []string
	Payload []byte
}

// Param returns params[i] when present.
func (m InboundMessage) Param(i int) (string, bool) {
	if i < 0 || i >= len(m.Params) {
		return "", false
	}
	return m.Params[i], true
}

func (m InboundMessage) ParamIs(i int, want string) bool {
	v, ok := m.Param(i)
	return ok && v == want
}

// NumericTID parses TID as a correlation id.
func (m InboundMessage) NumericTID() (uint32, error) {
	n, err := strconv.ParseUint(m.TID, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric tid %q", ErrMalformed, m.TID)
	}
	return uint32(n), nil
}

// IsError reports whether the verb is a numeric server error code.
func (m InboundMessage) IsError() bool {
	_, err := strconv.Atoi(string(m.Command))
	return err == nil
}

func (m InboundMessage) String() string {
	parts := []string{string(m.Command)}
	if m.TID != "" {
		parts = append(parts, m.TID)
	}
	parts = append(parts, m.Params...)
	out := strings.Join(parts, " ")
	if len(m.Payload) > 0 {
		out += fmt.Sprintf(" [payload %d bytes]", len(m.Payload))
	}
	return out
}

// OutboundCommand is one client line; the transport assigns the correlation id.
// A non-nil Payload is sent length-prefixed, including an empty one.
type OutboundCommand struct {
	Command Verb
	Params  []string
	Payload []byte
}

func NewCommand(cmd Verb, params ...string) OutboundCommand {
	return OutboundCommand{Command: cmd, Params: params}
}

func (c OutboundCommand) WithPayload(payload []byte) OutboundCommand {
	if payload == nil {
		payload = []byte{}
	}
	c.Payload = payload
	return c
}

// Validate checks the verb and that no parameter would split the line.
func (c OutboundCommand) Validate() error {
	if len(c.Command) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidVerb, c.Command)
	}
	for i, p := range c.Params {
		if p == "" || strings.ContainsAny(p, " \r\n") {
			return fmt.Errorf("%w: param[%d]=%q", ErrMalformed, i, p)
		}
	}
	return nil
}
