package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/sirupsen/logrus"
)

// Служебные события жизненного цикла, которые клиент рассылает обработчикам сам.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

const writeTimeout = 10 * time.Second

var (
	errServerClosed     = errors.New("socketio: server closed the connection")
	errServerDisconnect = errors.New("socketio: server disconnected the namespace")
)

// Handler получает аргументы события (без имени).
type Handler func(args []json.RawMessage)

// AckFunc получает аргументы подтверждения от сервера.
type AckFunc func(args []json.RawMessage)

type Option func(*Client)

func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithReconnect задаёт границы экспоненциальной задержки переподключения.
func WithReconnect(min, max time.Duration) Option {
	return func(c *Client) { c.minBackoff, c.maxBackoff = min, max }
}

// Client — клиент Socket.IO поверх websocket-транспорта Engine.IO v4.
// Держит одно соединение, переподключается с задержкой, обработчики вызываются
// в порядке прихода событий из одной горутины чтения.
type Client struct {
	endpoint   string
	dialer     *websocket.Dialer
	header     http.Header
	log        *logrus.Entry
	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	handlers  map[string][]Handler
	acks      map[int]AckFunc
	nextAckID int
	conn      *websocket.Conn
	connected bool
	started   bool

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New создаёт клиента для базового адреса бэкенда (http(s):// или ws(s)://).
func New(baseURL string, opts ...Option) (*Client, error) {
	endpoint, err := Endpoint(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:   endpoint,
		dialer:     websocket.DefaultDialer,
		log:        logrus.NewEntry(logrus.StandardLogger()),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		handlers:   make(map[string][]Handler),
		acks:       make(map[int]AckFunc),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "socketio")
	return c, nil
}

// Endpoint строит адрес websocket-транспорта: /socket.io/?EIO=4&transport=websocket.
func Endpoint(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("socketio: parse url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("socketio: empty host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// On регистрирует обработчик события. Регистрировать нужно до Connect.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Connect запускает фоновое подключение с переподключениями. Ошибки подключения
// приходят обработчикам connect_error; повторный вызов ничего не делает.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return errs.ErrSessionClosed
	default:
	}
	if c.started {
		return nil
	}
	c.started = true
	c.wg.Add(1)
	go c.loop(ctx)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit отправляет событие с одним аргументом payload (nil: без аргументов).
// Если ack не nil, сервер попросят подтвердить доставку.
func (c *Client) Emit(event string, payload any, ack AckFunc) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.connected {
		c.mu.Unlock()
		return errs.ErrNotConnected
	}
	ackID := -1
	if ack != nil {
		ackID = c.nextAckID
		c.nextAckID++
		c.acks[ackID] = ack
	}
	c.mu.Unlock()

	p, err := NewEvent(event, ackID, payload)
	if err == nil {
		err = c.write(conn, string(engineMessage)+p.Encode())
	}
	if err != nil && ackID >= 0 {
		c.mu.Lock()
		delete(c.acks, ackID)
		c.mu.Unlock()
	}
	return err
}

// Close рвёт соединение и останавливает переподключения.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
	})
	c.wg.Wait()
	return nil
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) loop(ctx context.Context) {
	defer c.wg.Done()
	backoff := c.minBackoff
	for {
		established, err := c.session(ctx)
		if c.closed() || ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.WithError(err).Warn("connection lost")
		}
		if established {
			backoff = c.minBackoff
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-c.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// session держит одно соединение до его разрыва. established: удалось ли подключиться к namespace.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, c.header)
	if err != nil {
		c.dispatch(EventConnectError, errorArgs(err))
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		_ = conn.Close()
		return false, nil
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		_ = conn.Close()
		c.mu.Lock()
		wasConnected := c.connected
		c.conn = nil
		c.connected = false
		c.acks = make(map[int]AckFunc)
		c.mu.Unlock()
		if wasConnected {
			c.dispatch(EventDisconnect, nil)
		}
	}()

	open, err := c.handshake(conn)
	if err != nil {
		c.dispatch(EventConnectError, errorArgs(err))
		return false, err
	}
	readTimeout := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond

	for {
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return established, err
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case enginePing:
			if err := c.write(conn, string(enginePong)); err != nil {
				return established, err
			}
		case engineClose:
			return established, errServerClosed
		case engineMessage:
			ok, err := c.handlePacket(conn, string(data[1:]))
			if ok {
				established = true
			}
			if err != nil {
				return established, err
			}
		case enginePong, engineNoop, engineOpen, engineUpgrade:
		default:
			c.log.WithField("frame", string(data)).Debug("unknown engine.io frame")
		}
	}
}

type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

func (c *Client) handshake(conn *websocket.Conn) (openPayload, error) {
	var open openPayload
	_ = conn.SetReadDeadline(time.Now().Add(writeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return open, fmt.Errorf("read open packet: %w", err)
	}
	if len(data) == 0 || data[0] != engineOpen {
		return open, fmt.Errorf("unexpected first frame %q", data)
	}
	if err := json.Unmarshal(data[1:], &open); err != nil {
		return open, fmt.Errorf("decode open packet: %w", err)
	}
	c.log.WithField("sid", open.SID).Debug("engine.io open")
	connect := Packet{Type: PacketConnect}
	if err := c.write(conn, string(engineMessage)+connect.Encode()); err != nil {
		return open, fmt.Errorf("send connect: %w", err)
	}
	return open, nil
}

// handlePacket обрабатывает пакет Socket.IO. connected=true, если это подтверждение подключения.
func (c *Client) handlePacket(conn *websocket.Conn, raw string) (connected bool, err error) {
	p, err := DecodePacket(raw)
	if err != nil {
		c.log.WithError(err).Debug("skip packet")
		return false, nil
	}
	if p.Namespace != "" && p.Namespace != "/" {
		return false, nil
	}

	switch p.Type {
	case PacketConnect:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.dispatch(EventConnect, nil)
		return true, nil
	case PacketConnectError:
		c.dispatch(EventConnectError, []json.RawMessage{p.Data})
		return false, errors.New("socketio: connect rejected by server")
	case PacketDisconnect:
		return false, errServerDisconnect
	case PacketEvent:
		name, args, err := p.Event()
		if err != nil {
			c.log.WithError(err).Debug("skip event")
			return false, nil
		}
		c.dispatch(name, args)
		if p.HasID {
			ack := Packet{Type: PacketAck, ID: p.ID, HasID: true, Data: json.RawMessage("[]")}
			if err := c.write(conn, string(engineMessage)+ack.Encode()); err != nil {
				return false, err
			}
		}
	case PacketAck:
		if !p.HasID {
			return false, nil
		}
		c.mu.Lock()
		ack := c.acks[p.ID]
		delete(c.acks, p.ID)
		c.mu.Unlock()
		if ack != nil {
			args, _ := p.Args()
			ack(args)
		}
	case PacketBinaryEvent, PacketBinaryAck:
	}
	return false, nil
}

func (c *Client) dispatch(event string, args []json.RawMessage) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(args)
	}
}

func (c *Client) write(conn *websocket.Conn, frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func errorArgs(err error) []json.RawMessage {
	data, _ := json.Marshal(map[string]string{"message": err.Error()})
	return []json.RawMessage{data}
}
