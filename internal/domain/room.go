package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100

	// FirstMessageRunes bounds RoomSummary.FirstMessage.
	FirstMessageRunes = 100
)

type RoomID string

func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}

func (r RoomID) Validate() error {
	if strings.TrimSpace(string(r)) == "" {
		return fmt.Errorf("room id is required")
	}
	if strings.ContainsAny(string(r), "/?#") {
		return fmt.Errorf("room id %q contains reserved characters", string(r))
	}
	return nil
}

type RoomSummary struct {
	RoomID                RoomID    `json:"roomId"`
	FirstMessage          string    `json:"firstMessage"`
	FirstMessageTimestamp time.Time `json:"firstMessageTimestamp"`
	MessageCount          int       `json:"messageCount"`
}

// RoomMessage is one prompt recorded against a room.
type RoomMessage struct {
	RoomID    RoomID
	Prompt    string
	AgentName AgentName
	Timestamp time.Time
}

type PageRequest struct {
	Page     int
	PageSize int
}

// WithDefaults fills unset fields with the client defaults.
func (p PageRequest) WithDefaults() PageRequest {
	if p.Page <= 0 {
		p.Page = DefaultPage
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	return p
}

func (p PageRequest) Validate() error {
	if p.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1", ErrValidation)
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return fmt.Errorf("%w: pageSize must be between 1 and %d", ErrValidation, MaxPageSize)
	}
	return nil
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

type RoomPage struct {
	Items      []RoomSummary `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}

func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
