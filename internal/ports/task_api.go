package ports

import (
	"context"

	"github.com/bnema/cocode-cli/internal/domain"
)

type TaskAPI interface {
	SubmitTask(ctx context.Context, req domain.TaskRequest) (domain.TaskID, error)
	GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error)
}

type RoomAPI interface {
	ListRooms(ctx context.Context, page domain.PageRequest) (domain.RoomPage, error)
}
