package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devmatch/chatsync/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsServer struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	urls     chan string
}

func newWSServer() *wsServer {
	return &wsServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(chan *websocket.Conn, 4),
		urls:  make(chan string, 4),
	}
}

func (s *wsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.urls <- r.URL.String()
	s.conns <- conn
}

func (s *wsServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func newTestChannel(t *testing.T) (*Channel, *wsServer) {
	t.Helper()
	srv := newWSServer()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	logger := zerolog.Nop()
	ch := New(Config{
		Logger:  &logger,
		BaseURL: "ws" + strings.TrimPrefix(ts.URL, "http"),
		Token:   "tok-123",
	})
	t.Cleanup(ch.Unbind)
	return ch, srv
}

func nextEvent(t *testing.T, ch *Channel) model.Event {
	t.Helper()
	select {
	case ev := <-ch.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event arrived")
		return model.Event{}
	}
}

func TestChannel_Bind(t *testing.T) {
	ch, srv := newTestChannel(t)
	require.Equal(t, model.StateDisconnected, ch.State())

	require.NoError(t, ch.Bind(context.Background(), 7))
	assert.Equal(t, model.StateOpen, ch.State())
	assert.Equal(t, int64(7), ch.Room())
	assert.Equal(t, "/ws/chat/7?token=tok-123", <-srv.urls)
}

func TestChannel_RebindSameRoomIsNoop(t *testing.T) {
	ch, srv := newTestChannel(t)

	require.NoError(t, ch.Bind(context.Background(), 7))
	require.NoError(t, ch.Bind(context.Background(), 7))

	assert.Equal(t, model.StateOpen, ch.State())
	assert.Equal(t, int64(7), ch.Room())
	<-srv.urls
	select {
	case <-srv.urls:
		t.Fatal("rebind to the same room dialed a second connection")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannel_RebindOtherRoomReconnects(t *testing.T) {
	ch, srv := newTestChannel(t)

	require.NoError(t, ch.Bind(context.Background(), 7))
	require.NoError(t, ch.Bind(context.Background(), 8))

	assert.Equal(t, model.StateOpen, ch.State())
	assert.Equal(t, int64(8), ch.Room())
	assert.Equal(t, "/ws/chat/7?token=tok-123", <-srv.urls)
	assert.Equal(t, "/ws/chat/8?token=tok-123", <-srv.urls)
}

func TestChannel_Unbind(t *testing.T) {
	ch, _ := newTestChannel(t)

	require.NoError(t, ch.Bind(context.Background(), 7))
	ch.Unbind()

	assert.Equal(t, model.StateDisconnected, ch.State())
	assert.Zero(t, ch.Room())
	assert.NoError(t, ch.Err())
}

func TestChannel_DialFailure(t *testing.T) {
	logger := zerolog.Nop()
	ch := New(Config{
		Logger:  &logger,
		BaseURL: "ws://127.0.0.1:1",
		Token:   "tok-123",
	})

	err := ch.Bind(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDial)
	assert.Equal(t, model.StateClosed, ch.State())
	assert.Zero(t, ch.Room(), "failed bind must clear the room so a retry rebinds cleanly")
	assert.Error(t, ch.Err())
}

func TestChannel_TransportErrorCloses(t *testing.T) {
	ch, srv := newTestChannel(t)

	require.NoError(t, ch.Bind(context.Background(), 7))
	_ = srv.conn(t).Close() // abrupt server-side close, no close frame

	require.Eventually(t, func() bool {
		return ch.State() == model.StateClosed
	}, time.Second, time.Millisecond)
	assert.Zero(t, ch.Room())
}

func TestChannel_InboundFrames(t *testing.T) {
	ch, srv := newTestChannel(t)
	require.NoError(t, ch.Bind(context.Background(), 7))
	conn := srv.conn(t)

	frames := []string{
		`{"type":"message","data":{"id":101,"room_id":7,"sender_id":2,"sender_name":"ann","content":"hello","message_type":"text","is_read":false,"created_at":null}}`,
		`this is not json`,
		`{"type":"presence","user_id":2}`,
		`{"type":"typing","user_id":2,"is_typing":true}`,
		`{"type":"read","message_ids":[101,102]}`,
	}
	for _, frame := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	// the malformed and unrecognized frames are dropped without stalling
	// the ones behind them
	ev := nextEvent(t, ch)
	require.Equal(t, model.FrameTypeMessage, ev.Type)
	assert.Equal(t, int64(7), ev.RoomID)
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(101), ev.Message.ID)
	assert.Equal(t, "hello", ev.Message.Content)

	ev = nextEvent(t, ch)
	require.Equal(t, model.FrameTypeTyping, ev.Type)
	assert.Equal(t, int64(2), ev.UserID)
	assert.True(t, ev.IsTyping)

	ev = nextEvent(t, ch)
	require.Equal(t, model.FrameTypeRead, ev.Type)
	assert.Equal(t, []int64{101, 102}, ev.MessageIDs)

	assert.Equal(t, model.StateOpen, ch.State(), "bad frames must not affect channel health")
}

func TestChannel_Emit(t *testing.T) {
	ch, srv := newTestChannel(t)
	require.NoError(t, ch.Bind(context.Background(), 7))
	conn := srv.conn(t)

	ch.Emit(model.Frame{Type: model.FrameTypeTyping, IsTyping: true})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"typing","is_typing":true}`, string(raw))
}

func TestChannel_EmitWhenNotOpenIsNoop(t *testing.T) {
	ch, _ := newTestChannel(t)

	// never queued for later delivery
	ch.Emit(model.Frame{Type: model.FrameTypeTyping, IsTyping: true})

	require.NoError(t, ch.Bind(context.Background(), 7))
	assert.Equal(t, model.StateOpen, ch.State())
}
