package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/msnctl/internal/passport"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/protocol/challenge"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/danmuck/msnctl/internal/status"
	"github.com/rs/zerolog/log"
)

// Literal "\0Music\01\0" marker heading a music CurrentMedia value.
const musicHead = `\0Music\01\0`

const mediaSeparator = `\0`

var (
	xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")
	xmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
)

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

func decodeNick(raw string) string {
	nick, err := url.PathUnescape(raw)
	if err != nil {
		nick = raw
	}
	return strings.ToValidUTF8(nick, "�")
}

// onInitialPresence applies "ILN tid status account nick [x msnobj]". The
// directory was just populated, so no event is emitted.
func (e *Engine) onInitialPresence(_ context.Context, msg protocol.InboundMessage) error {
	if len(msg.Params) < 3 {
		return fmt.Errorf("%w: ILN params=%d", protocol.ErrMalformed, len(msg.Params))
	}
	st, err := status.FromCode(msg.Params[0])
	if err != nil {
		return err
	}
	account := strings.ToLower(msg.Params[1])
	nick := decodeNick(msg.Params[2])
	msnobj := ""
	if len(msg.Params) == 5 {
		msnobj, _ = url.PathUnescape(msg.Params[4])
	}
	e.sess.Contacts().Update(account, func(c *session.Contact) {
		c.Status = st
		c.Nick = nick
		if c.Attrs == nil {
			c.Attrs = make(map[string]string)
		}
		c.Attrs["msnobj"] = msnobj
	})
	return nil
}

// onOnline applies "NLN status account nick [cid msnobj]".
func (e *Engine) onOnline(_ context.Context, msg protocol.InboundMessage) error {
	st, err := status.FromCode(msg.TID)
	if err != nil {
		return err
	}
	if len(msg.Params) < 2 {
		return fmt.Errorf("%w: NLN params=%d", protocol.ErrMalformed, len(msg.Params))
	}
	account := strings.ToLower(msg.Params[0])
	nick := decodeNick(msg.Params[1])
	known := e.sess.Contacts().Update(account, func(c *session.Contact) {
		c.Status = st
		c.Nick = nick
		if len(msg.Params) == 4 {
			if c.Attrs == nil {
				c.Attrs = make(map[string]string)
			}
			c.Attrs["CID"] = msg.Params[2]
			if obj, err := url.PathUnescape(msg.Params[3]); err == nil {
				c.Attrs["msnobj"] = obj
			}
		}
	})
	if known {
		e.sess.AddEvent(session.EventContactAttrChanged, account)
	}
	return nil
}

// onOffline applies "FLN account".
func (e *Engine) onOffline(_ context.Context, msg protocol.InboundMessage) error {
	account := strings.ToLower(msg.TID)
	known := e.sess.Contacts().Update(account, func(c *session.Contact) {
		c.Status = status.Offline
	})
	if known {
		e.sess.AddEvent(session.EventContactAttrChanged, account)
	}
	return nil
}

// onPersonalInfo applies "UBX account len" with a <Data> payload carrying
// the personal message and current media.
func (e *Engine) onPersonalInfo(_ context.Context, msg protocol.InboundMessage) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	account := strings.ToLower(msg.TID)
	payload := string(msg.Payload)
	psm, _ := passport.Between(payload, "<PSM>", "</PSM>")
	media, hasMedia := passport.Between(payload, "<CurrentMedia>", "</CurrentMedia>")

	known := e.sess.Contacts().Update(account, func(c *session.Contact) {
		c.Message = unescapeXML(psm)
		switch {
		case !hasMedia || media == "":
			c.Media = ""
		default:
			if rendered, ok := ParseMedia(media); ok {
				c.Media = rendered
			}
		}
	})
	if known {
		e.sess.AddEvent(session.EventContactAttrChanged, account)
	}
	return nil
}

// ParseMedia renders a packed music CurrentMedia value such as
// `\0Music\01\0{0} - {1}\0Title\0Artist` into "Title - Artist".
func ParseMedia(raw string) (string, bool) {
	idx := strings.Index(raw, musicHead)
	if idx < 0 {
		return "", false
	}
	parts := strings.Split(raw[idx+len(musicHead):], mediaSeparator)
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out = strings.ReplaceAll(out, fmt.Sprintf("{%d}", i-1), parts[i])
	}
	return unescapeXML(out), true
}

func (e *Engine) onChallenge(_ context.Context, msg protocol.InboundMessage) error {
	nonce, ok := msg.Param(0)
	if !ok || nonce == "" {
		return fmt.Errorf("%w: CHL without nonce", protocol.ErrMalformed)
	}
	response := challenge.Respond(nonce)
	_, err := e.send(protocol.NewCommand(protocol.VerbQuery, challenge.ProductID).WithPayload([]byte(response)))
	return err
}

func (e *Engine) onPong(_ context.Context, msg protocol.InboundMessage) error {
	e.lastPong.Store(time.Now().UnixNano())
	log.Debug().Msgf("engine.Engine.onPong id=%s next_in=%q", e.id, msg.TID)
	return nil
}

func (e *Engine) onRosterNotice(_ context.Context, msg protocol.InboundMessage) error {
	log.Info().Msgf("engine.Engine.onRosterNotice id=%s msg=%q", e.id, msg.String())
	return nil
}

func (e *Engine) onServerMessage(_ context.Context, msg protocol.InboundMessage) error {
	log.Info().Msgf("engine.Engine.onServerMessage id=%s from=%q bytes=%d", e.id, msg.TID, len(msg.Payload))
	return nil
}

func (e *Engine) onNotification(_ context.Context, msg protocol.InboundMessage) error {
	log.Info().Msgf("engine.Engine.onNotification id=%s bytes=%d", e.id, len(msg.Payload))
	return nil
}

// onSignOut handles "OUT reason".
func (e *Engine) onSignOut(_ context.Context, msg protocol.InboundMessage) error {
	log.Warn().Msgf("engine.Engine.onSignOut id=%s reason=%q", e.id, msg.TID)
	e.signOut(msg.TID)
	return nil
}

// onStatusAck handles "CHG tid code ...".
func (e *Engine) onStatusAck(_ context.Context, msg protocol.InboundMessage) error {
	code, _ := msg.Param(0)
	st, err := status.FromCode(code)
	if err != nil {
		return err
	}
	e.sess.SetStatus(st)
	e.sess.AddEvent(session.EventStatusChangeSucceed, st)
	return nil
}

// onPropertyAck handles "PRP tid MFN nick".
func (e *Engine) onPropertyAck(_ context.Context, msg protocol.InboundMessage) error {
	if !msg.ParamIs(0, "MFN") {
		return nil
	}
	raw, _ := msg.Param(1)
	e.sess.AddEvent(session.EventNickChangeSucceed, decodeNick(raw))
	return nil
}

func (e *Engine) onPersonalUpdateAck(_ context.Context, _ protocol.InboundMessage) error {
	e.sess.AddEvent(session.EventMessageChangeSucceed)
	return nil
}
