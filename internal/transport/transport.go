// Package transport is the notification-server socket: it dials, reads
// framed protocol messages on a background goroutine, assigns correlation
// ids to outgoing commands and survives server-directed reconnects.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/msnctl/internal/backoff"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("transport: address required")
	ErrClosed          = errors.New("transport: closed")
)

type Config struct {
	Address            string
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            backoff.Config
	Limits             protocol.Limits
	InboundBuffer      int
}

func DefaultConfig() Config {
	return Config{
		Address:            "messenger.hotmail.com:1863",
		ConnectTimeout:     10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxConnectAttempts: 3,
		Backoff:            backoff.Default(),
		Limits:             protocol.DefaultLimits(),
		InboundBuffer:      128,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Limits.MaxLineBytes <= 0 {
		c.Limits.MaxLineBytes = def.Limits.MaxLineBytes
	}
	if c.Limits.MaxPayloadBytes <= 0 {
		c.Limits.MaxPayloadBytes = def.Limits.MaxPayloadBytes
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = def.InboundBuffer
	}
	return c
}

type Conn struct {
	cfg Config
	rng *rand.Rand

	mu   sync.Mutex
	conn net.Conn
	addr string
	gen  uint64

	nextTID atomic.Uint32
	inbound chan protocol.InboundMessage
	closed  chan struct{}
	once    sync.Once
	readers sync.WaitGroup
}

// Dial connects to cfg.Address and starts the reader.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	c := &Conn{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		inbound: make(chan protocol.InboundMessage, cfg.InboundBuffer),
		closed:  make(chan struct{}),
	}
	conn, err := c.connect(ctx, cfg.Address)
	if err != nil {
		return nil, err
	}
	c.attach(conn, cfg.Address)
	go func() {
		<-c.closed
		c.readers.Wait()
		close(c.inbound)
	}()
	return c, nil
}

func (c *Conn) Inbound() <-chan protocol.InboundMessage {
	return c.inbound
}

func (c *Conn) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Send writes cmd with the next correlation id and returns that id.
func (c *Conn) Send(cmd protocol.OutboundCommand) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() || c.conn == nil {
		return 0, ErrClosed
	}
	tid := c.nextTID.Add(1)
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := protocol.WriteCommand(c.conn, tid, cmd); err != nil {
		return 0, fmt.Errorf("transport: send %s: %w", cmd.Command, err)
	}
	log.Debug().Msgf("transport.Conn.Send tid=%d cmd=%s params=%q payload_bytes=%d", tid, cmd.Command, cmd.Params, len(cmd.Payload))
	return tid, nil
}

// Reconnect replaces the socket with one to host:port. Correlation ids
// keep counting and Inbound stays the same channel.
func (c *Conn) Reconnect(ctx context.Context, host string, port int) error {
	if c.isClosed() {
		return ErrClosed
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := c.connect(ctx, addr)
	if err != nil {
		return err
	}
	log.Info().Msgf("transport.Conn.Reconnect from=%q to=%q", c.Addr(), addr)
	if !c.attach(conn, addr) {
		return ErrClosed
	}
	return nil
}

// Close stops the readers; Inbound is closed once they have exited.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.closed)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) connect(ctx context.Context, addr string) (net.Conn, error) {
	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		log.Warn().Msgf("transport.Conn dial attempt=%d addr=%q err=%v", attempt, addr, err)
		if attempt >= c.cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		if err := backoff.Sleep(ctx, c.cfg.Backoff, attempt, c.rng); err != nil {
			return nil, err
		}
	}
}

// attach swaps in conn and starts its reader. It refuses once closed so the
// reader count never grows after Close.
func (c *Conn) attach(conn net.Conn, addr string) bool {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	old := c.conn
	c.conn = conn
	c.addr = addr
	c.gen++
	gen := c.gen
	c.readers.Add(1)
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	go c.readLoop(conn, gen)
	return true
}

func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Conn) readLoop(conn net.Conn, gen uint64) {
	defer c.readers.Done()
	reader := bufio.NewReader(conn)
	for {
		msg, err := protocol.ReadMessage(reader, c.cfg.Limits)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrInvalidVerb) {
				log.Warn().Msgf("transport.Conn.readLoop skip malformed err=%v", err)
				continue
			}
			if !c.current(gen) || c.isClosed() {
				return
			}
			log.Error().Msgf("transport.Conn.readLoop addr=%q err=%v", conn.RemoteAddr(), err)
			_ = c.Close()
			return
		}
		log.Debug().Msgf("transport.Conn.readLoop recv=%q", msg.String())
		select {
		case c.inbound <- msg:
		case <-c.closed:
			return
		}
	}
}
