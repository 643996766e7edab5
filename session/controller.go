// Package session holds the chat session controller: the single owner of
// the active room, the realtime channel binding and the message store. It
// merges data arriving from the history API and the push channel into one
// coherent view and keeps the room directory up to date as a side effect of
// message and read events.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/devmatch/chatsync/api"
	"github.com/devmatch/chatsync/directory"
	"github.com/devmatch/chatsync/model"
	"github.com/devmatch/chatsync/store"
	"github.com/devmatch/chatsync/typing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultHistoryLimit = 50

var (
	ErrSend     = errors.New("unable to send message")
	ErrUpload   = errors.New("unable to upload file")
	ErrMarkRead = errors.New("unable to mark room as read")
)

type (
	API interface {
		SendMessage(ctx context.Context, roomID int64, req api.SendMessageRequest) (*model.Message, error)
		MarkRead(ctx context.Context, roomID int64) error
		UploadFile(ctx context.Context, name string, r io.Reader) (*model.FileRef, error)
	}

	Channel interface {
		Bind(ctx context.Context, roomID int64) error
		Unbind()
		Emit(frame model.Frame)
		State() model.ConnState
		Err() error
		Events() <-chan model.Event
	}

	// Snapshots is the local persistence port. The controller keeps the
	// room directory there so a restart begins stale-but-available.
	Snapshots interface {
		Get(name string) ([]byte, bool)
		Set(name string, data []byte)
		Clear(name string)
	}

	Controller struct {
		mx      *sync.Mutex
		logger  zerolog.Logger
		api     API
		dir     *directory.Directory
		store   *store.Store
		ch      Channel
		typists *typing.Coordinator
		snaps   Snapshots

		userID  int64
		current int64
		limit   int
		gen     uint64 // bumped on reset/shutdown, stale async results check it
		resetC  <-chan struct{}

		onMessage func(model.Message)
		onTyping  func(userID int64, isTyping bool)
	}

	Config struct {
		Logger    *zerolog.Logger
		API       API
		Directory *directory.Directory
		Store     *store.Store
		Channel   Channel
		Typing    *typing.Coordinator
		Snapshots Snapshots

		UserID       int64
		HistoryLimit int
		// ResetSignal ends the session from outside (logout); the
		// controller tears everything down when it fires.
		ResetSignal <-chan struct{}

		// Optional view hooks, invoked without locks held.
		OnMessage func(model.Message)
		OnTyping  func(userID int64, isTyping bool)
	}
)

func NewController(cfg Config) *Controller {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	c := &Controller{
		mx: &sync.Mutex{},
		logger: cfg.Logger.With().
			Str("component", "chat-session").
			Str("sessionID", uuid.NewString()).
			Logger(),
		api:       cfg.API,
		dir:       cfg.Directory,
		store:     cfg.Store,
		ch:        cfg.Channel,
		typists:   cfg.Typing,
		snaps:     cfg.Snapshots,
		userID:    cfg.UserID,
		limit:     limit,
		resetC:    cfg.ResetSignal,
		onMessage: cfg.OnMessage,
		onTyping:  cfg.OnTyping,
	}
	c.restoreDirectorySnapshot()
	return c
}

// Run consumes channel events until the context ends, then tears the
// session down. Call it in its own goroutine.
func (c *Controller) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		c.logger.Debug().Msg("session stopped")
		wg.Done()
	}()
	c.logger.Debug().Msg("session started")

EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-c.resetC:
			c.Reset()
		case ev := <-c.ch.Events():
			c.handleEvent(ev)
		}
	}
	c.mx.Lock()
	c.gen++
	c.mx.Unlock()
	c.ch.Unbind()
	c.typists.Clear()
}

// OpenRoom runs the room switch sequence: unbind the channel (dropping any
// stale typists), make the room current, load its history, bind the channel
// and acknowledge the room as read. Failures along the way are absorbed and
// observable through the connection state; a slow load only delays display.
func (c *Controller) OpenRoom(ctx context.Context, roomID int64) {
	c.mx.Lock()
	c.ch.Unbind()
	c.typists.Clear()
	c.current = roomID
	c.mx.Unlock()

	c.logger.Debug().Int64("roomID", roomID).Msg("opening room")

	if err := c.store.Load(ctx, roomID, c.limit); err != nil {
		c.logger.Error().Err(err).Int64("roomID", roomID).Msg("history load failed")
	}

	c.mx.Lock()
	stale := c.current != roomID
	c.mx.Unlock()
	if stale {
		// switched again while loading
		c.logger.Debug().Int64("roomID", roomID).Msg("room changed during open, aborting")
		return
	}

	if err := c.ch.Bind(ctx, roomID); err != nil {
		c.logger.Error().Err(err).Int64("roomID", roomID).Msg("channel bind failed")
	}
	if err := c.MarkAsRead(ctx, roomID); err != nil {
		c.logger.Error().Err(err).Int64("roomID", roomID).Msg("read acknowledgement failed")
	}
}

// SendMessage performs the synchronous create call, optimistically appends
// the answer to the message store, best-effort mirrors it on the channel
// and refreshes the room directory. On failure nothing is appended and the
// error goes back to the caller.
func (c *Controller) SendMessage(ctx context.Context, roomID int64, content string) (*model.Message, error) {
	return c.send(ctx, roomID, api.SendMessageRequest{
		Content:     content,
		MessageType: model.MessageTypeText,
	})
}

// SendFile uploads the file and sends a file message referencing it.
func (c *Controller) SendFile(ctx context.Context, roomID int64, name string, r io.Reader) (*model.Message, error) {
	ref, err := c.api.UploadFile(ctx, name, r)
	if err != nil {
		return nil, errors.Join(ErrUpload, err)
	}
	return c.send(ctx, roomID, api.SendMessageRequest{
		MessageType: model.MessageTypeFile,
		FileURL:     ref.URL,
		FileName:    ref.Name,
		FileSize:    ref.Size,
	})
}

func (c *Controller) send(ctx context.Context, roomID int64, req api.SendMessageRequest) (*model.Message, error) {
	msg, err := c.api.SendMessage(ctx, roomID, req)
	if err != nil {
		return nil, errors.Join(ErrSend, err)
	}

	c.mx.Lock()
	mirror := roomID == c.current
	if mirror {
		c.store.AppendFromSend(*msg)
	}
	c.mx.Unlock()

	if mirror {
		// best-effort echo towards the peer; the server may echo it
		// back at us too, id dedup handles both
		if data, mErr := json.Marshal(msg); mErr == nil {
			c.ch.Emit(model.Frame{Type: model.FrameTypeMessage, Data: data})
		}
	}
	go c.refreshDirectory()
	return msg, nil
}

// MarkAsRead acknowledges the room server-side, zeroes its unread count
// locally and best-effort mirrors a read frame with the current message ids
// so the peer flips its flags without polling.
func (c *Controller) MarkAsRead(ctx context.Context, roomID int64) error {
	if err := c.api.MarkRead(ctx, roomID); err != nil {
		return errors.Join(ErrMarkRead, err)
	}
	c.dir.MarkRoomRead(roomID)
	c.saveDirectorySnapshot()

	c.mx.Lock()
	mirror := roomID == c.current
	c.mx.Unlock()
	if mirror {
		c.ch.Emit(model.Frame{Type: model.FrameTypeRead, MessageIDs: c.store.IDs()})
	}
	return nil
}

// SendTyping broadcasts the local typing flag. A true call opens (or keeps
// open) the activity window and emits only on the idle-to-typing edge; the
// window expires on its own after a pause and emits false once. A false
// call closes the window early.
func (c *Controller) SendTyping(isTyping bool) {
	if c.ch.State() != model.StateOpen {
		return
	}
	if isTyping {
		if c.typists.Touch() {
			c.ch.Emit(typingFrame(true))
		}
		return
	}
	if c.typists.Release() {
		c.ch.Emit(typingFrame(false))
	}
}

// Reset is the session-ended teardown: unbind, drop messages, directory,
// typists and the persisted snapshot.
func (c *Controller) Reset() {
	c.mx.Lock()
	c.gen++
	c.ch.Unbind()
	c.typists.Clear()
	c.store.Clear()
	c.dir.Clear()
	c.current = 0
	if c.snaps != nil {
		c.snaps.Clear(c.snapshotKey())
	}
	c.mx.Unlock()
	c.logger.Debug().Msg("session reset")
}

// RefreshRooms re-queries the room directory. Failures are absorbed.
func (c *Controller) RefreshRooms(ctx context.Context) {
	c.dir.Refresh(ctx)
	c.saveDirectorySnapshot()
}

func (c *Controller) CurrentRoom() int64 {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.current
}

func (c *Controller) Rooms() []model.Room { return c.dir.Rooms() }

func (c *Controller) UnreadTotal() int { return c.dir.UnreadTotal() }

func (c *Controller) Messages() []model.Message { return c.store.Messages() }

func (c *Controller) Typists() []int64 { return c.typists.Typists() }

func (c *Controller) ConnState() model.ConnState { return c.ch.State() }

func (c *Controller) ConnErr() error { return c.ch.Err() }

// handleEvent merges one decoded inbound frame. Application is gated on
// the event's room still being the current one, so late frames from a
// previous binding never leak into the new room's state.
func (c *Controller) handleEvent(ev model.Event) {
	c.mx.Lock()
	if ev.RoomID == 0 || ev.RoomID != c.current {
		c.mx.Unlock()
		c.logger.Debug().
			Int64("roomID", ev.RoomID).
			Str("type", ev.Type).
			Msg("frame for non-current room dropped")
		return
	}

	var (
		applied    *model.Message
		typistsSet bool
	)
	switch ev.Type {
	case model.FrameTypeMessage:
		if c.store.ApplyInbound(*ev.Message) {
			applied = ev.Message
		}
	case model.FrameTypeTyping:
		if ev.UserID != c.userID {
			c.typists.SetRemote(ev.UserID, ev.IsTyping)
			typistsSet = true
		}
	case model.FrameTypeRead:
		c.store.MarkManyRead(ev.MessageIDs)
	}
	c.mx.Unlock()

	if applied != nil {
		if c.onMessage != nil {
			c.onMessage(*applied)
		}
		go c.refreshDirectory()
	}
	if typistsSet && c.onTyping != nil {
		c.onTyping(ev.UserID, ev.IsTyping)
	}
}

// refreshDirectory re-queries the room list off the event path. Applying
// the answer is gated on the session generation, so a response arriving
// after a reset or shutdown cannot repopulate state the teardown cleared.
func (c *Controller) refreshDirectory() {
	c.mx.Lock()
	gen := c.gen
	c.mx.Unlock()

	rooms, err := c.dir.Fetch(context.Background())
	if err != nil {
		c.logger.Error().Err(err).Msg("room list refresh failed, keeping previous state")
		return
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	if gen != c.gen {
		c.logger.Debug().Msg("stale room list response discarded")
		return
	}
	c.dir.Replace(rooms)
	c.saveDirectorySnapshot()
}

func (c *Controller) snapshotKey() string {
	return fmt.Sprintf("rooms:%d", c.userID)
}

func (c *Controller) saveDirectorySnapshot() {
	if c.snaps == nil {
		return
	}
	data, err := json.Marshal(c.dir.Rooms())
	if err != nil {
		return
	}
	c.snaps.Set(c.snapshotKey(), data)
}

func (c *Controller) restoreDirectorySnapshot() {
	if c.snaps == nil {
		return
	}
	data, ok := c.snaps.Get(c.snapshotKey())
	if !ok {
		return
	}
	var rooms []model.Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		c.logger.Error().Err(err).Msg("unreadable room snapshot, ignored")
		return
	}
	c.dir.Replace(rooms)
	c.logger.Debug().Int("rooms", len(rooms)).Msg("room snapshot restored")
}

func typingFrame(isTyping bool) model.Frame {
	return model.Frame{Type: model.FrameTypeTyping, IsTyping: isTyping}
}
