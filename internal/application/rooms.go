package application

import (
	"context"
	"fmt"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
)

type RoomHistory struct {
	api ports.RoomAPI
}

func NewRoomHistory(api ports.RoomAPI) *RoomHistory {
	return &RoomHistory{api: api}
}

// Page fetches one page of rooms. Unset page fields take the client
// defaults and out-of-range values are rejected before any request.
func (h *RoomHistory) Page(ctx context.Context, req domain.PageRequest) (domain.RoomPage, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return domain.RoomPage{}, err
	}

	page, err := h.api.ListRooms(ctx, req)
	if err != nil {
		return domain.RoomPage{}, fmt.Errorf("list rooms: %w", err)
	}
	if page.TotalPages == 0 {
		page.TotalPages = domain.TotalPages(page.Total, req.PageSize)
	}
	if page.Items == nil {
		page.Items = []domain.RoomSummary{}
	}
	return page, nil
}
