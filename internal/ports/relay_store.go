package ports

import (
	"context"

	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
)

type UpdateStore interface {
	AppendUpdate(ctx context.Context, room domain.RoomID, update crdt.Update) error
	LoadUpdates(ctx context.Context, room domain.RoomID) ([]crdt.Update, error)
}

type RoomStore interface {
	AddRoomMessage(ctx context.Context, msg domain.RoomMessage) error
	ListRooms(ctx context.Context, page domain.PageRequest) (domain.RoomPage, error)
}

type TaskStore interface {
	SaveTask(ctx context.Context, task domain.Task) error
	GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error)
}

type RelayStore interface {
	UpdateStore
	RoomStore
	TaskStore
}
