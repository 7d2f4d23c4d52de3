package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/redeemcast/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 16
)

// clientWriter is the only goroutine that writes to its connection;
// gorilla/websocket supports one concurrent writer.
type clientWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	pingChannel chan struct{}
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	onDead      func()
}

// newClientWriter starts the writer goroutine. onDead runs once, on its own
// goroutine, when a write fails. onPong runs on the connection's reader
// goroutine for every pong frame.
func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, onDead, onPong func()) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		pingChannel: make(chan struct{}, 1),
		doneChannel: make(chan struct{}),
		onDead:      onDead,
	}
	connection.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return nil
	})
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.die()
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-cw.pingChannel:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketPingFailures.Inc()
				cw.die()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// ping queues a ping frame. A ping already pending is not duplicated.
func (cw *clientWriter) ping() {
	select {
	case cw.pingChannel <- struct{}{}:
	default:
	}
}

func (cw *clientWriter) die() {
	if cw.onDead != nil {
		go cw.onDead()
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a WebSocket close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		// Signal the run goroutine to exit first
		close(cw.doneChannel)

		// Wait for run goroutine to exit before writing close frame
		// This prevents concurrent writes to the WebSocket connection
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)

		_ = cw.connection.Close()
	})
}

// Socket deadlines are wall-clock; the injected clock only drives scheduling.
func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
}
