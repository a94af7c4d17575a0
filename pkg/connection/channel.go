package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tablekit/roomsync/internal/rand"
	"github.com/tablekit/roomsync/pkg/constants"
)

// LifecycleEventType classifies connection-lifecycle notifications.
type LifecycleEventType string

const (
	LifecycleConnected    LifecycleEventType = "connect"
	LifecycleConnectError LifecycleEventType = "connect-error"
	LifecycleReconnecting LifecycleEventType = "reconnecting"
)

// LifecycleEvent is raised so higher layers can re-initialize after a
// disconnect, e.g. reload room state.
type LifecycleEvent struct {
	Type LifecycleEventType
	Err  error
}

// Channel is the request/response multiplexer over one persistent WebSocket
// connection. One Channel per session; construct it at session start, pass it
// to consumers explicitly and Close it at session end.
//
// Two correlation schemes coexist, mirroring the two paths of the protocol:
// Send correlates by event name (the touch protocol), Query by a generated
// request id (store reads and snapshot management). Send assumes at most one
// in-flight exchange per event name; a second concurrent Send on the same
// event name clobbers the previous listener, which then never resolves. That
// is a documented caller error, not something this layer fixes.
type Channel struct {
	info   ConnectInfo
	logger zerolog.Logger

	conn     *gorilla.Conn
	connLock sync.Mutex // serializes writes and conn swaps

	mu            sync.Mutex
	eventChannels map[string]chan Message
	queryChannels map[string]chan Message

	// subsMu lets Unsubscribe close a push channel only once no delivery
	// is in flight on it.
	subsMu        sync.RWMutex
	subscriptions map[string]chan Push

	lifecycle chan LifecycleEvent

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewChannel builds an unconnected Channel from a connection descriptor.
func NewChannel(info ConnectInfo, logger zerolog.Logger) *Channel {
	return &Channel{
		info:          info,
		logger:        logger.With().Str("component", "channel").Logger(),
		eventChannels: make(map[string]chan Message),
		queryChannels: make(map[string]chan Message),
		subscriptions: make(map[string]chan Push),
		lifecycle:     make(chan LifecycleEvent, 16),
		closeChan:     make(chan struct{}),
	}
}

func (c *Channel) dialer() *gorilla.Dialer {
	return &gorilla.Dialer{
		Proxy:             gorilla.DefaultDialer.Proxy,
		HandshakeTimeout:  c.info.SocketTimeout(),
		EnableCompression: true,
	}
}

// Connect establishes the connection and starts the read loop. A dial
// timeout is logged and returned; it does not raise a lifecycle signal.
func (c *Channel) Connect(ctx context.Context) error {
	conn, resp, err := c.dialer().DialContext(ctx, c.info.Server, nil)
	if err != nil {
		c.logger.Error().Err(err).Str("server", c.info.Server).Msg("dial failed")
		return err
	}
	defer resp.Body.Close()

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	c.emitLifecycle(LifecycleEvent{Type: LifecycleConnected})
	go c.readLoop(conn)
	return nil
}

// Lifecycle exposes connection-lifecycle notifications. Events are dropped
// when nobody drains the channel.
func (c *Channel) Lifecycle() <-chan LifecycleEvent {
	return c.lifecycle
}

func (c *Channel) emitLifecycle(ev LifecycleEvent) {
	select {
	case c.lifecycle <- ev:
	default:
		c.logger.Warn().Str("type", string(ev.Type)).Msg("lifecycle event dropped")
	}
}

// Close closes the connection and stops the read loop. The context bounds the
// close-message write; the underlying connection is closed regardless.
func (c *Channel) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.closeChan) })

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.conn == nil {
		return nil
	}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- c.conn.WriteMessage(
			gorilla.CloseMessage,
			gorilla.FormatCloseMessage(constants.CloseMessageCode, ""),
		)
	}()
	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to write close message")
		}
	case <-ctx.Done():
	}

	return c.conn.Close()
}

func (c *Channel) closed() bool {
	select {
	case <-c.closeChan:
		return true
	default:
		return false
	}
}

func (c *Channel) write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.conn == nil {
		return constants.ErrNotConnected
	}
	return c.conn.WriteMessage(gorilla.TextMessage, data)
}

// Send emits the event with the payload and resolves on the matching
// "result-"+event reply. A server rejection comes back as *ServerError.
// There is no timeout at this layer: a reply that never arrives leaves the
// caller pending until ctx is canceled or the channel is closed.
func (c *Channel) Send(ctx context.Context, dest any, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ch := make(chan Message, 1)
	c.mu.Lock()
	if _, ok := c.eventChannels[event]; ok {
		// Known constraint: the previous caller's listener is clobbered
		// and that caller never resolves.
		c.logger.Warn().Str("event", event).Msg("concurrent send on one event name")
	}
	c.eventChannels[event] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.eventChannels[event] == ch {
			delete(c.eventChannels, event)
		}
		c.mu.Unlock()
	}()

	requestsTotal.WithLabelValues(event).Inc()
	if err := c.write(&Message{Event: event, Data: data}); err != nil {
		requestErrors.WithLabelValues(event).Inc()
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeChan:
		return constants.ErrClosed
	case res := <-ch:
		return c.resolve(event, res, dest)
	}
}

// Query is the id-correlated request path used by store reads and snapshot
// management. Unlike Send, any number of queries may be in flight at once.
func (c *Channel) Query(ctx context.Context, dest any, method string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	id := rand.RequestID(constants.RequestIDLength)
	ch := make(chan Message, 1)
	c.mu.Lock()
	c.queryChannels[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.queryChannels, id)
		c.mu.Unlock()
	}()

	requestsTotal.WithLabelValues(method).Inc()
	if err := c.write(&Message{Event: method, ID: id, Data: data}); err != nil {
		requestErrors.WithLabelValues(method).Inc()
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeChan:
		return constants.ErrClosed
	case res := <-ch:
		return c.resolve(method, res, dest)
	}
}

func (c *Channel) resolve(event string, res Message, dest any) error {
	if res.Error != nil {
		requestErrors.WithLabelValues(event).Inc()
		return &ServerError{Event: event, Message: *res.Error}
	}
	if dest == nil || res.Result == nil {
		return nil
	}
	return json.Unmarshal(res.Result, dest)
}

// Subscribe registers a push route for a subscription id allocated by the
// caller. The returned channel delivers pushes in server emission order.
func (c *Channel) Subscribe(id string) (<-chan Push, error) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subscriptions[id]; ok {
		return nil, constants.ErrSubscriptionInUse
	}
	ch := make(chan Push, 16)
	c.subscriptions[id] = ch
	return ch, nil
}

// Unsubscribe drops the push route and closes its channel.
func (c *Channel) Unsubscribe(id string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if ch, ok := c.subscriptions[id]; ok {
		delete(c.subscriptions, id)
		close(ch)
	}
}

func (c *Channel) readLoop(conn *gorilla.Conn) {
	for {
		select {
		case <-c.closeChan:
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if c.closed() || errors.Is(err, net.ErrClosed) {
					return
				}
				c.emitLifecycle(LifecycleEvent{Type: LifecycleConnectError, Err: err})
				go c.reconnectLoop()
				return
			}
			c.handleMessage(data)
		}
	}
}

// reconnectLoop redials at the configured interval until the connection is
// re-established or the channel is closed. In-flight requests stay pending;
// the lifecycle consumer decides what to re-issue.
func (c *Channel) reconnectLoop() {
	interval := c.info.ReconnectInterval()
	for {
		select {
		case <-c.closeChan:
			return
		case <-time.After(interval):
		}

		c.emitLifecycle(LifecycleEvent{Type: LifecycleReconnecting})
		ctx, cancel := context.WithTimeout(context.Background(), c.info.SocketTimeout())
		conn, resp, err := c.dialer().DialContext(ctx, c.info.Server, nil)
		cancel()
		if err != nil {
			c.logger.Error().Err(err).Msg("reconnect attempt failed")
			continue
		}
		resp.Body.Close()

		c.connLock.Lock()
		c.conn = conn
		c.connLock.Unlock()

		c.emitLifecycle(LifecycleEvent{Type: LifecycleConnected})
		go c.readLoop(conn)
		return
	}
}

func (c *Channel) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error().Err(err).Msg("unreadable frame")
		return
	}

	if msg.Subscription != "" {
		c.routePush(msg)
		return
	}

	if msg.ID != "" {
		c.mu.Lock()
		ch, ok := c.queryChannels[msg.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug().Str("id", msg.ID).Msg("reply for a departed query")
			return
		}
		ch <- msg
		return
	}

	if name, ok := isResultEvent(msg.Event); ok {
		c.mu.Lock()
		ch, present := c.eventChannels[name]
		if present {
			delete(c.eventChannels, name)
		}
		c.mu.Unlock()
		if !present {
			c.logger.Warn().Str("event", name).Msg("reply with no listener")
			return
		}
		ch <- msg
		return
	}

	c.logger.Warn().Str("event", msg.Event).Msg("unroutable frame")
}

// routePush delivers server-pushed diffs in arrival order. Delivery blocks
// the read loop so that a single subscription never observes reordering.
func (c *Channel) routePush(msg Message) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	ch, ok := c.subscriptions[msg.Subscription]
	if !ok {
		pushesDropped.Inc()
		c.logger.Debug().Str("subscription", msg.Subscription).Msg("push with no subscriber")
		return
	}

	pushesTotal.Inc()
	select {
	case ch <- Push{Subscription: msg.Subscription, Changes: msg.Changes, Snapshot: msg.Snapshot}:
	case <-c.closeChan:
	}
}
