package store

import (
	"context"
	"errors"
	"sync"

	"github.com/devmatch/chatsync/model"
	"github.com/rs/zerolog"
)

var ErrLoad = errors.New("unable to load message history")

type HistoryAPI interface {
	Messages(ctx context.Context, roomID int64, limit int) ([]model.Message, error)
}

// Store is the ordered, deduplicated message sequence of the active room.
// The same message can arrive both through the synchronous send answer and
// through the push echo; identifiers decide, every id is stored exactly once.
type Store struct {
	mx       *sync.Mutex
	api      HistoryAPI
	logger   zerolog.Logger
	roomID   int64
	messages []model.Message
	present  map[int64]struct{}
	loading  int64 // room id of an in-flight history load, 0 when idle
}

type Config struct {
	Logger *zerolog.Logger
	API    HistoryAPI
}

func New(cfg Config) *Store {
	return &Store{
		mx:      &sync.Mutex{},
		api:     cfg.API,
		logger:  cfg.Logger.With().Str("component", "message-store").Logger(),
		present: make(map[int64]struct{}),
	}
}

// Load replaces the store contents with up to limit most-recent messages of
// the room, in chronological order. A load already in flight for the same
// room makes this call a silent no-op; a load for a different room proceeds.
// When the fetch fails the new room still takes ownership of the store,
// starting empty; only a failed reload of the same room keeps the previous
// list.
func (s *Store) Load(ctx context.Context, roomID int64, limit int) error {
	s.mx.Lock()
	if s.loading == roomID {
		s.mx.Unlock()
		s.logger.Debug().Int64("roomID", roomID).Msg("history load already in flight, skipped")
		return nil
	}
	s.loading = roomID
	s.mx.Unlock()

	msgs, err := s.api.Messages(ctx, roomID, limit)

	s.mx.Lock()
	defer s.mx.Unlock()
	if s.loading != roomID {
		// a load for another room took over while this one was in
		// flight; its late response must not clobber the newer state
		s.logger.Debug().Int64("roomID", roomID).Msg("stale history response discarded")
		return nil
	}
	s.loading = 0
	if err != nil {
		if s.roomID != roomID {
			// the previous room's history must not stay on display
			// under a room it does not belong to; the new room owns
			// the store now, starting empty
			s.roomID = roomID
			s.messages = nil
			s.present = make(map[int64]struct{})
		}
		return errors.Join(ErrLoad, err)
	}

	s.roomID = roomID
	s.messages = msgs
	s.present = make(map[int64]struct{}, len(msgs))
	for _, msg := range msgs {
		s.present[msg.ID] = struct{}{}
	}
	s.logger.Debug().Int64("roomID", roomID).Int("count", len(msgs)).Msg("history loaded")
	return nil
}

// AppendFromSend appends a message returned by the synchronous send call.
// The identifier is authoritative, no lookup needed beyond registering it.
func (s *Store) AppendFromSend(msg model.Message) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.messages = append(s.messages, msg)
	s.present[msg.ID] = struct{}{}
}

// ApplyInbound appends a message arriving from the push channel unless an
// entry with the same identifier is already stored. Reports whether the
// message was appended.
func (s *Store) ApplyInbound(msg model.Message) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, ok := s.present[msg.ID]; ok {
		s.logger.Trace().Int64("messageID", msg.ID).Msg("duplicate inbound message dropped")
		return false
	}
	s.messages = append(s.messages, msg)
	s.present[msg.ID] = struct{}{}
	return true
}

// MarkManyRead flips the read flag on all matching messages.
// Ids not present are ignored.
func (s *Store) MarkManyRead(ids []int64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range s.messages {
		if _, ok := want[s.messages[i].ID]; ok {
			s.messages[i].IsRead = true
		}
	}
}

func (s *Store) Messages() []model.Message {
	s.mx.Lock()
	defer s.mx.Unlock()
	msgs := make([]model.Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// IDs returns the stored message identifiers in insertion order.
func (s *Store) IDs() []int64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	ids := make([]int64, 0, len(s.messages))
	for _, msg := range s.messages {
		ids = append(ids, msg.ID)
	}
	return ids
}

func (s *Store) RoomID() int64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.roomID
}

func (s *Store) Clear() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.roomID = 0
	s.messages = nil
	s.present = make(map[int64]struct{})
}
