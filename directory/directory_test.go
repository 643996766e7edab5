package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/devmatch/chatsync/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRooms struct {
	rooms []model.Room
	err   error
}

func (f *fakeRooms) Rooms(context.Context) ([]model.Room, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rooms, nil
}

func newTestDirectory(api RoomsAPI) *Directory {
	logger := zerolog.Nop()
	return New(Config{Logger: &logger, API: api})
}

func TestDirectory_RefreshAggregates(t *testing.T) {
	d := newTestDirectory(&fakeRooms{rooms: []model.Room{
		{ID: 1, UnreadCount: 3},
		{ID: 2, UnreadCount: 0},
	}})

	d.Refresh(context.Background())
	assert.Equal(t, 3, d.UnreadTotal())

	d.MarkRoomRead(1)
	assert.Equal(t, 0, d.UnreadTotal())

	room, ok := d.Room(1)
	require.True(t, ok)
	assert.Zero(t, room.UnreadCount)
}

func TestDirectory_MarkRoomReadLeavesOthers(t *testing.T) {
	d := newTestDirectory(&fakeRooms{rooms: []model.Room{
		{ID: 1, UnreadCount: 3},
		{ID: 2, UnreadCount: 5},
	}})
	d.Refresh(context.Background())

	d.MarkRoomRead(1)
	assert.Equal(t, 5, d.UnreadTotal())

	room, ok := d.Room(2)
	require.True(t, ok)
	assert.Equal(t, 5, room.UnreadCount)

	// unknown room is a no-op
	d.MarkRoomRead(42)
	assert.Equal(t, 5, d.UnreadTotal())
}

func TestDirectory_RefreshFailureKeepsState(t *testing.T) {
	api := &fakeRooms{rooms: []model.Room{{ID: 1, UnreadCount: 2}}}
	d := newTestDirectory(api)
	d.Refresh(context.Background())

	api.err = errors.New("backend down")
	d.Refresh(context.Background())

	assert.Len(t, d.Rooms(), 1)
	assert.Equal(t, 2, d.UnreadTotal())
}

func TestDirectory_Clear(t *testing.T) {
	d := newTestDirectory(&fakeRooms{rooms: []model.Room{{ID: 1, UnreadCount: 2}}})
	d.Refresh(context.Background())

	d.Clear()
	assert.Empty(t, d.Rooms())
	assert.Zero(t, d.UnreadTotal())
}
