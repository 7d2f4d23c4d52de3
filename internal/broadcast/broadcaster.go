package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/pscheid92/redeemcast/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second  // Actor command timeout
	stopTimeout    = 10 * time.Second // Graceful shutdown timeout
	// A client that has not answered this many consecutive pings is dropped
	// on the next liveness tick.
	maxMissedPings = 2
	shutdownReason = "server shutting down"
)

// broadcasterCmd is the command interface for the Broadcaster actor.
type broadcasterCmd interface{ isBroadcasterCmd() }

type baseBroadcasterCmd struct{}

func (baseBroadcasterCmd) isBroadcasterCmd() {}

type registerCmd struct {
	baseBroadcasterCmd
	connection *websocket.Conn
	reply      chan registerReply
}

type registerReply struct {
	id  uuid.UUID
	err error
}

type unregisterCmd struct {
	baseBroadcasterCmd
	id uuid.UUID
}

type broadcastCmd struct {
	baseBroadcasterCmd
	data  []byte
	reply chan int
}

type pongCmd struct {
	baseBroadcasterCmd
	id uuid.UUID
}

type getClientCountCmd struct {
	baseBroadcasterCmd
	replyChannel chan int
}

type stopCmd struct {
	baseBroadcasterCmd
}

// client is one overlay connection. missedPings is owned by the actor.
type client struct {
	writer      *clientWriter
	missedPings int
}

// Broadcaster owns the set of live overlay connections and fans play events
// out to them. All state lives in a single goroutine; callers talk to it
// through a command channel.
type Broadcaster struct {
	cmdCh        chan broadcasterCmd
	clock        clockwork.Clock
	clients      map[uuid.UUID]*client
	done         chan struct{}
	stopTimeout  time.Duration
	maxClients   int
	pingInterval time.Duration
}

// NewBroadcaster creates a new broadcaster and starts its actor goroutine.
// maxClients caps concurrent overlay connections. Every pingInterval each
// client is pinged; clients that miss two pings in a row are dropped.
func NewBroadcaster(clock clockwork.Clock, maxClients int, pingInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		cmdCh:        make(chan broadcasterCmd, 256),
		clock:        clock,
		clients:      make(map[uuid.UUID]*client),
		done:         make(chan struct{}),
		stopTimeout:  stopTimeout,
		maxClients:   maxClients,
		pingInterval: pingInterval,
	}
	go b.run()
	return b
}

// send enqueues cmd unless the actor has exited.
func (b *Broadcaster) send(cmd broadcasterCmd) error {
	select {
	case b.cmdCh <- cmd:
		return nil
	case <-b.done:
		return domain.ErrBroadcasterStopped
	}
}

// Register adds an upgraded connection to the live set and returns its id.
// Returns domain.ErrTooManyClients when the cap is reached; the client is sent
// a try-again-later close frame and the connection is closed in that case.
func (b *Broadcaster) Register(conn *websocket.Conn) (uuid.UUID, error) {
	reply := make(chan registerReply, 1)
	if err := b.send(registerCmd{connection: conn, reply: reply}); err != nil {
		_ = conn.Close()
		return uuid.Nil, err
	}

	// Use timeout to prevent blocking forever if broadcaster is stuck
	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r.id, r.err
	case <-b.done:
		return uuid.Nil, domain.ErrBroadcasterStopped
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a client. Unknown ids are ignored.
func (b *Broadcaster) Unregister(id uuid.UUID) {
	_ = b.send(unregisterCmd{id: id})
}

// Pong records a pong from the client, resetting its missed-ping count.
func (b *Broadcaster) Pong(id uuid.UUID) {
	_ = b.send(pongCmd{id: id})
}

// Broadcast queues event to every connected client and returns how many
// clients it was queued to. It never waits on a socket write.
func (b *Broadcaster) Broadcast(ctx context.Context, event domain.PlayEvent) (int, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal play event: %w", err)
	}

	reply := make(chan int, 1)
	if err := b.send(broadcastCmd{data: data, reply: reply}); err != nil {
		return 0, err
	}

	select {
	case n := <-reply:
		return n, nil
	case <-b.done:
		return 0, domain.ErrBroadcasterStopped
	case <-ctx.Done():
		return 0, fmt.Errorf("broadcast: %w", ctx.Err())
	}
}

// ClientCount returns the number of connected clients.
// Returns -1 if the command times out.
func (b *Broadcaster) ClientCount() int {
	replyCh := make(chan int, 1)
	if err := b.send(getClientCountCmd{replyChannel: replyCh}); err != nil {
		return 0
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-b.done:
		return 0
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every client with a close frame and stops the actor.
// Blocks until the actor has exited or the stop timeout is reached.
// Safe to call more than once.
func (b *Broadcaster) Stop() {
	if err := b.send(stopCmd{}); err != nil {
		return
	}

	timeout := b.clock.NewTimer(b.stopTimeout)
	defer timeout.Stop()

	select {
	case <-b.done:
		slog.Info("Broadcaster stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Broadcaster stop timeout exceeded", "timeout", b.stopTimeout)
		metrics.BroadcasterStopTimeoutsTotal.Inc()
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
			metrics.BroadcasterPanicsTotal.Inc()
			b.closeAllClients("broadcaster panic")
		}
	}()

	pingTicker := b.clock.NewTicker(b.pingInterval)
	defer pingTicker.Stop()

	// Track command channel depth every second
	depthTicker := b.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(b.cmdCh)
			metrics.BroadcasterCommandChannelDepth.Set(float64(depth))
			if depth > 200 { // 80% of 256
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(b.cmdCh))
			}

		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				b.handleRegister(c)
			case unregisterCmd:
				b.removeClient(c.id)
			case broadcastCmd:
				c.reply <- b.handleBroadcast(c.data)
			case pongCmd:
				if cl, ok := b.clients[c.id]; ok {
					cl.missedPings = 0
				}
			case getClientCountCmd:
				c.replyChannel <- len(b.clients)
			case stopCmd:
				b.handleStop()
				return
			default:
				slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}

		case <-pingTicker.Chan():
			b.handleLivenessTick()
		}
	}
}

func (b *Broadcaster) handleRegister(c registerCmd) {
	if len(b.clients) >= b.maxClients {
		slog.Warn("Rejecting overlay client: max clients reached", "max_clients", b.maxClients)
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many overlay clients")
		_ = c.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = c.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = c.connection.Close()
		c.reply <- registerReply{err: domain.ErrTooManyClients}
		return
	}

	id := uuid.New()
	cw := newClientWriter(c.connection, b.clock, func() { b.Unregister(id) }, func() { b.Pong(id) })
	b.clients[id] = &client{writer: cw}

	metrics.BroadcasterConnectedClients.Set(float64(len(b.clients)))
	metrics.WebSocketConnectionsTotal.WithLabelValues("accepted").Inc()
	slog.Debug("Overlay client registered", "client_id", id.String(), "total_clients", len(b.clients))
	c.reply <- registerReply{id: id}
}

func (b *Broadcaster) removeClient(id uuid.UUID) {
	cl, ok := b.clients[id]
	if !ok {
		return
	}
	cl.writer.stop()
	delete(b.clients, id)

	metrics.BroadcasterConnectedClients.Set(float64(len(b.clients)))
	slog.Debug("Overlay client unregistered", "client_id", id.String(), "remaining_clients", len(b.clients))
}

// handleBroadcast enqueues data on every writer. A writer whose buffer is
// full is evicted rather than waited on.
func (b *Broadcaster) handleBroadcast(data []byte) int {
	delivered := 0
	var slow []uuid.UUID
	for id, cl := range b.clients {
		select {
		case cl.writer.sendChannel <- data:
			delivered++
		default:
			slow = append(slow, id)
		}
	}

	for _, id := range slow {
		slog.Warn("Disconnecting slow overlay client", "client_id", id.String())
		metrics.BroadcasterSlowClientsEvicted.Inc()
		b.removeClient(id)
	}

	metrics.BroadcasterDeliveriesTotal.Add(float64(delivered))
	return delivered
}

// handleLivenessTick drops clients that missed too many pings and pings the rest.
func (b *Broadcaster) handleLivenessTick() {
	for id, cl := range b.clients {
		if cl.missedPings >= maxMissedPings {
			slog.Info("Dropping unresponsive overlay client", "client_id", id.String(), "missed_pings", cl.missedPings)
			metrics.BroadcasterDeadClientsPruned.Inc()
			b.removeClient(id)
			continue
		}
		cl.missedPings++
		cl.writer.ping()
	}
}

func (b *Broadcaster) handleStop() {
	total := len(b.clients)
	slog.Info("Broadcaster shutting down", "total_clients", total)
	b.closeAllClients(shutdownReason)
	slog.Info("Broadcaster shutdown complete", "disconnected_clients", total)
}

// closeAllClients closes all client connections with the given reason.
// Used during panic recovery and graceful shutdown.
func (b *Broadcaster) closeAllClients(reason string) {
	for id, cl := range b.clients {
		cl.writer.stopGraceful(reason)
		delete(b.clients, id)
	}
	metrics.BroadcasterConnectedClients.Set(0)
}
