package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/devmatch/chatsync/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give the server to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	defaultEmitTimeout = time.Second
)

var ErrDial = errors.New("unable to connect")

// Channel owns the single push connection, bound to at most one room at a
// time. Binding a new room tears down any existing connection first.
// Transport failures flip the state to closed and clear the active room;
// they are observed through State and Err, rebinding is up to the caller.
type Channel struct {
	mx     *sync.Mutex
	dialer *websocket.Dialer
	logger zerolog.Logger

	baseURL string
	token   string

	state   model.ConnState
	roomID  int64
	conn    *websocket.Conn
	cancel  context.CancelFunc
	tx      chan model.Frame
	lastErr error

	// rx outlives individual connections so consumers keep one channel
	// across rebinds
	rx chan model.Event
}

type Config struct {
	Logger *zerolog.Logger
	// BaseURL is the websocket scheme base, e.g. ws://host:port.
	BaseURL string
	Token   string
	Dialer  *websocket.Dialer
}

func New(cfg Config) *Channel {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
		}
	}
	return &Channel{
		mx:      &sync.Mutex{},
		dialer:  dialer,
		logger:  cfg.Logger.With().Str("component", "realtime-channel").Logger(),
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		state:   model.StateDisconnected,
		rx:      make(chan model.Event, 64),
	}
}

// Events delivers decoded inbound frames in arrival order.
func (ch *Channel) Events() <-chan model.Event {
	return ch.rx
}

func (ch *Channel) State() model.ConnState {
	ch.mx.Lock()
	defer ch.mx.Unlock()
	return ch.state
}

func (ch *Channel) Room() int64 {
	ch.mx.Lock()
	defer ch.mx.Unlock()
	return ch.roomID
}

func (ch *Channel) Err() error {
	ch.mx.Lock()
	defer ch.mx.Unlock()
	return ch.lastErr
}

// Bind connects the channel to the given room. Rebinding to the room the
// channel is already open or connecting for is a no-op; any other existing
// connection is force-closed first.
func (ch *Channel) Bind(ctx context.Context, roomID int64) error {
	ch.mx.Lock()
	if ch.roomID == roomID && (ch.state == model.StateOpen || ch.state == model.StateConnecting) {
		ch.mx.Unlock()
		ch.logger.Debug().Int64("roomID", roomID).Msg("already bound")
		return nil
	}
	ch.closeLocked()
	ch.state = model.StateConnecting
	ch.roomID = roomID
	ch.mx.Unlock()

	addr := fmt.Sprintf("%s/ws/chat/%d?token=%s", ch.baseURL, roomID, url.QueryEscape(ch.token))
	conn, _, err := ch.dialer.DialContext(ctx, addr, nil) //nolint:bodyclose // no body on handshake success
	if err != nil {
		ch.mx.Lock()
		if ch.state == model.StateConnecting && ch.roomID == roomID {
			ch.state = model.StateClosed
			ch.roomID = 0
			ch.lastErr = err
		}
		ch.mx.Unlock()
		ch.logger.Error().Err(err).Int64("roomID", roomID).Msg("websocket dial failed")
		return errors.Join(ErrDial, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	tx := make(chan model.Frame, 16)

	ch.mx.Lock()
	if ch.state != model.StateConnecting || ch.roomID != roomID {
		// unbound while dialing
		ch.mx.Unlock()
		cancel()
		webSocketCloser(conn, &ch.logger)
		return nil
	}
	ch.conn = conn
	ch.cancel = cancel
	ch.tx = tx
	ch.state = model.StateOpen
	ch.lastErr = nil
	ch.mx.Unlock()

	ch.logger.Debug().Int64("roomID", roomID).Msg("channel open")
	go ch.runPumps(pumpCtx, cancel, conn, roomID, tx)
	return nil
}

// Unbind closes the transport and clears the active room reference.
func (ch *Channel) Unbind() {
	ch.mx.Lock()
	defer ch.mx.Unlock()
	ch.closeLocked()
}

// closeLocked tears down any existing connection and leaves the channel
// disconnected. Must be called with mx held.
func (ch *Channel) closeLocked() {
	if ch.cancel != nil {
		ch.cancel()
	}
	if ch.conn != nil {
		// raw close, not the graceful closer: the sender pump may still
		// hold the write side. This unblocks a receiver stuck in
		// ReadMessage; the pumps then notice they were superseded and
		// skip their own close.
		if err := ch.conn.Close(); err != nil {
			ch.logger.Debug().Err(err).Msg("failed to close websocket connection")
		}
	}
	ch.conn = nil
	ch.cancel = nil
	ch.tx = nil
	ch.state = model.StateDisconnected
	ch.roomID = 0
	ch.lastErr = nil
}

// Emit queues an outbound frame if the channel is open, and silently drops
// it otherwise. This is the best-effort mirroring path, nothing is ever
// queued for later delivery.
func (ch *Channel) Emit(frame model.Frame) {
	ch.mx.Lock()
	tx := ch.tx
	open := ch.state == model.StateOpen
	ch.mx.Unlock()

	if !open || tx == nil {
		ch.logger.Debug().Str("type", frame.Type).Msg("channel not open, outbound frame dropped")
		return
	}

	tCh := time.NewTimer(defaultEmitTimeout)
	select {
	case tx <- frame:
	case <-tCh.C:
		ch.logger.Error().Str("type", frame.Type).Msg("dead channel, outbound frame dropped")
	}
	tCh.Stop()
}

func (ch *Channel) runPumps(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	roomID int64,
	tx <-chan model.Frame,
) {
	wg := &sync.WaitGroup{}

	logger := ch.logger.With().Int64("roomID", roomID).Logger()

	wg.Add(2)
	go func() {
		ch.receiver(ctx, wg, conn, roomID, &logger)
		cancel()
	}()
	go func() {
		sender(ctx, wg, conn, tx, &logger)
		cancel()
	}()

	wg.Wait()

	ch.mx.Lock()
	owned := ch.conn == conn
	if owned {
		ch.conn = nil
		ch.cancel = nil
		ch.tx = nil
		ch.state = model.StateClosed
		ch.roomID = 0
	}
	ch.mx.Unlock()

	if owned {
		webSocketCloser(conn, &logger)
		logger.Warn().Msg("channel closed")
	}
}

func (ch *Channel) receiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	roomID int64,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	if err := readDeadLineFunc(defaultPongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, raw, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
					ch.setErr(conn, wsErr)
				}
				break RecvLoop
			}

			ev, decErr := decodeFrame(raw, roomID)
			if decErr != nil {
				// malformed frames never take the channel down
				logger.Error().Err(decErr).Msg("failed to decode incoming frame, dropped")
				continue
			}
			if ev == nil {
				logger.Trace().Msg("unrecognized frame type, ignored")
				continue
			}

			select {
			case ch.rx <- *ev:
			case <-ctx.Done():
				break RecvLoop
			}
		}
	}
}

func sender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Frame,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case frame, ok := <-tx:
			if !ok {
				break SendLoop
			}

			b, wsErr := json.Marshal(&frame)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to marshall outgoing frame")
				break SendLoop
			}

			wsErr = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.TextMessage, b)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing frame")
				break SendLoop
			}
			logger.Trace().Str("type", frame.Type).Msg("frame sent")
		}
	}
}

// decodeFrame turns a raw inbound frame into an event. Unrecognized
// discriminants yield (nil, nil) and are ignored by the receiver.
func decodeFrame(raw []byte, roomID int64) (*model.Event, error) {
	var frame model.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	switch frame.Type {
	case model.FrameTypeMessage:
		var msg model.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return nil, err
		}
		return &model.Event{Type: frame.Type, RoomID: roomID, Message: &msg}, nil
	case model.FrameTypeTyping:
		return &model.Event{
			Type:     frame.Type,
			RoomID:   roomID,
			UserID:   frame.UserID,
			IsTyping: frame.IsTyping,
		}, nil
	case model.FrameTypeRead:
		return &model.Event{Type: frame.Type, RoomID: roomID, MessageIDs: frame.MessageIDs}, nil
	default:
		return nil, nil
	}
}

// setErr records a transport error unless the connection was already
// superseded by a rebind or an explicit unbind, whose deliberate close
// surfaces as a receive error too.
func (ch *Channel) setErr(conn *websocket.Conn, err error) {
	ch.mx.Lock()
	if ch.conn == conn {
		ch.lastErr = err
	}
	ch.mx.Unlock()
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Debug().Err(wsErr).Msg("failed to send websocket close message")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}
