// Package roster pushes the local contact directory to the notification
// server once the session is signed in.
package roster

import (
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/rs/zerolog/log"
)

var ErrNilSink = errors.New("roster: nil sink")

// Forward list membership bit in ADL entries.
const listForward = 1

// Sink accepts outbound commands for the connection engine to send.
type Sink interface {
	Enqueue(cmd protocol.OutboundCommand) error
}

type Sync struct {
	sess    *session.Session
	sink    Sink
	initial bool

	once sync.Once
	done chan struct{}
	err  error
}

func New(sess *session.Session, sink Sink, initial bool) *Sync {
	return &Sync{
		sess:    sess,
		sink:    sink,
		initial: initial,
		done:    make(chan struct{}),
	}
}

// Start launches the sync in its own goroutine. Later calls are no-ops.
func (s *Sync) Start() {
	s.once.Do(func() {
		go func() {
			defer close(s.done)
			s.err = s.run()
			if s.err != nil {
				log.Error().Msgf("roster.Sync.run err=%v", s.err)
				s.sess.AddEvent(session.EventError, fmt.Sprintf("roster sync failed: %v", s.err))
			}
		}()
	})
}

// Done is closed when the sync goroutine has finished.
func (s *Sync) Done() <-chan struct{} {
	return s.done
}

// Err is valid after Done is closed.
func (s *Sync) Err() error {
	<-s.done
	return s.err
}

func (s *Sync) run() error {
	if s.sink == nil {
		return ErrNilSink
	}
	contacts := s.sess.Contacts().List()
	if s.initial {
		if err := s.sink.Enqueue(protocol.NewCommand(protocol.VerbPrivacy, "AL")); err != nil {
			return err
		}
	}
	if len(contacts) > 0 {
		payload, err := BuildADL(contacts)
		if err != nil {
			return err
		}
		if err := s.sink.Enqueue(protocol.NewCommand(protocol.VerbAddList).WithPayload(payload)); err != nil {
			return err
		}
	}
	log.Info().Msgf("roster.Sync.run contacts=%d initial=%t", len(contacts), s.initial)
	s.sess.AddEvent(session.EventUserListReady, len(contacts))
	return nil
}

type adlList struct {
	XMLName xml.Name    `xml:"ml"`
	L       int         `xml:"l,attr"`
	Domains []adlDomain `xml:"d"`
}

type adlDomain struct {
	Name     string       `xml:"n,attr"`
	Contacts []adlContact `xml:"c"`
}

type adlContact struct {
	Name string `xml:"n,attr"`
	List int    `xml:"l,attr"`
	Type int    `xml:"t,attr"`
}

// BuildADL renders the ADL payload grouping contacts by domain.
func BuildADL(contacts []session.Contact) ([]byte, error) {
	byDomain := make(map[string][]adlContact)
	for _, c := range contacts {
		user, domain, ok := strings.Cut(c.Account, "@")
		if !ok || user == "" || domain == "" {
			return nil, fmt.Errorf("roster: invalid account %q", c.Account)
		}
		byDomain[domain] = append(byDomain[domain], adlContact{Name: user, List: listForward, Type: 1})
	}
	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	doc := adlList{L: 1}
	for _, d := range domains {
		entries := byDomain[d]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		doc.Domains = append(doc.Domains, adlDomain{Name: d, Contacts: entries})
	}
	return xml.Marshal(doc)
}
