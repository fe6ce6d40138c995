package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsehq/pulse/internal/slogging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period; must be less than pongWait
	pingPeriod = 30 * time.Second
)

// Client glues one websocket connection to the registry and the dispatcher:
// one read pump, one write pump, sequential dispatch so the sender's command
// order is preserved.
type Client struct {
	hub        *Hub
	conn       *Conn
	ws         *websocket.Conn
	dispatcher *Dispatcher
	signer     *Signer

	maxMessageSize int64
}

// NewClient wires a freshly upgraded websocket to a registered connection
func NewClient(hub *Hub, conn *Conn, ws *websocket.Conn, dispatcher *Dispatcher, signer *Signer, maxMessageSize int64) *Client {
	if maxMessageSize <= 0 {
		maxMessageSize = 64 * 1024
	}
	return &Client{
		hub:            hub,
		conn:           conn,
		ws:             ws,
		dispatcher:     dispatcher,
		signer:         signer,
		maxMessageSize: maxMessageSize,
	}
}

// Start launches the read and write pumps
func (c *Client) Start(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}

// readPump pumps frames from the websocket into the dispatcher. Frames are
// handled one at a time, which keeps per-connection command ordering.
func (c *Client) readPump(ctx context.Context) {
	logger := slogging.Get()
	defer func() {
		c.hub.Unregister(c.conn.ID)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.Touch(c.conn.ID)
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("Websocket read error conn_id=%s: %v", c.conn.ID, err)
			}
			return
		}

		c.hub.Touch(c.conn.ID)
		c.handleFrame(ctx, message)
	}
}

// handleFrame unwraps one inbound frame (secured or plain), dispatches it and
// sends back the result. Per-frame failures answer with an error frame and
// leave the connection open.
func (c *Client) handleFrame(ctx context.Context, message []byte) {
	cmdBytes := message

	// Secured traffic arrives as a signed envelope with the command as its
	// payload.
	if isEnvelope(message) {
		var envelope Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			c.sendResult(failureResult(Command{}, CodeMalformed, "invalid envelope"))
			return
		}
		if err := c.signer.Verify(ctx, &envelope); err != nil {
			c.sendResult(securityResult(err))
			return
		}
		cmdBytes = envelope.Payload
	}

	var cmd Command
	if err := json.Unmarshal(cmdBytes, &cmd); err != nil {
		c.sendResult(failureResult(Command{}, CodeMalformed, "invalid command frame"))
		return
	}

	if cmd.Type == CmdBatch {
		req, err := decode[BatchRequest](cmd.Data)
		if err != nil {
			c.sendResult(errorResult(cmd, err))
			return
		}
		results := c.dispatcher.ExecuteBatch(ctx, c.conn, req)
		batchResult := successResult(cmd, results)
		for _, r := range results {
			if !r.Success {
				batchResult.Success = false
				break
			}
		}
		c.sendResult(batchResult)
		return
	}

	c.sendResult(c.dispatcher.Dispatch(ctx, c.conn, cmd))
}

func (c *Client) sendResult(result CommandResult) {
	frame, err := json.Marshal(result)
	if err != nil {
		slogging.Get().Error("Failed to marshal command result: %v", err)
		return
	}
	c.hub.Send(c.conn.ID, frame)
}

// securityResult maps an authentication failure to an error frame
func securityResult(err error) CommandResult {
	code := CodeSecurity
	switch {
	case errors.Is(err, ErrMessageExpired), errors.Is(err, ErrReplayAttack), errors.Is(err, ErrInvalidSignature):
	default:
		code = CodeInternal
	}
	return failureResult(Command{}, code, err.Error())
}

// isEnvelope sniffs whether the frame carries an envelope rather than a bare
// command.
func isEnvelope(message []byte) bool {
	var probe struct {
		EnvelopeID string `json:"envelope_id"`
		Signature  string `json:"signature"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		return false
	}
	return probe.EnvelopeID != "" && probe.Signature != ""
}

// writePump pumps frames from the send channel to the websocket and keeps
// the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.conn.Send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
