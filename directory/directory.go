package directory

import (
	"context"
	"sync"

	"github.com/devmatch/chatsync/model"
	"github.com/rs/zerolog"
)

type RoomsAPI interface {
	Rooms(ctx context.Context) ([]model.Room, error)
}

// Directory holds the authenticated user's room list together with the
// aggregate unread count. A failed refresh keeps the previous state, so
// consumers always see the last known good list.
type Directory struct {
	mx     *sync.Mutex
	api    RoomsAPI
	logger zerolog.Logger
	rooms  []model.Room
	unread int
}

type Config struct {
	Logger *zerolog.Logger
	API    RoomsAPI
}

func New(cfg Config) *Directory {
	return &Directory{
		mx:     &sync.Mutex{},
		api:    cfg.API,
		logger: cfg.Logger.With().Str("component", "room-directory").Logger(),
	}
}

// Refresh replaces the room collection with the backend's answer and
// recomputes the aggregate unread count. Failures are absorbed.
func (d *Directory) Refresh(ctx context.Context) {
	rooms, err := d.api.Rooms(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("room list refresh failed, keeping previous state")
		return
	}
	d.Replace(rooms)
	d.logger.Debug().Int("rooms", len(rooms)).Msg("room list refreshed")
}

// Fetch queries the backend room list without applying it, for callers
// that need to decide after the call whether the answer is still wanted.
func (d *Directory) Fetch(ctx context.Context) ([]model.Room, error) {
	return d.api.Rooms(ctx)
}

// Replace swaps in a full room collection, also used to restore a snapshot.
func (d *Directory) Replace(rooms []model.Room) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.rooms = rooms
	d.unread = 0
	for _, room := range rooms {
		d.unread += room.UnreadCount
	}
}

// MarkRoomRead zeroes the given room's unread count and recomputes the
// aggregate. Other rooms are untouched; unknown ids are a no-op.
func (d *Directory) MarkRoomRead(roomID int64) {
	d.mx.Lock()
	defer d.mx.Unlock()
	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			d.unread -= d.rooms[i].UnreadCount
			d.rooms[i].UnreadCount = 0
			return
		}
	}
}

func (d *Directory) Rooms() []model.Room {
	d.mx.Lock()
	defer d.mx.Unlock()
	rooms := make([]model.Room, len(d.rooms))
	copy(rooms, d.rooms)
	return rooms
}

func (d *Directory) Room(roomID int64) (model.Room, bool) {
	d.mx.Lock()
	defer d.mx.Unlock()
	for _, room := range d.rooms {
		if room.ID == roomID {
			return room, true
		}
	}
	return model.Room{}, false
}

func (d *Directory) UnreadTotal() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.unread
}

func (d *Directory) Clear() {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.rooms = nil
	d.unread = 0
}
