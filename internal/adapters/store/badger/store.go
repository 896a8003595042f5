// Package badger persists relay state: room document updates, room
// summaries and tasks.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bnema/cocode-cli/internal/codec"
	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/dgraph-io/badger/v4"
	"pkt.systems/pslog"
)

const (
	updatePrefix = "u/"
	roomPrefix   = "r/"
	taskPrefix   = "t/"
	seqKey       = "seq/updates"
)

type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     pslog.Logger
}

func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ ports.RelayStore = (*Store)(nil)

type badgerLogger struct {
	log pslog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open update sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

func (s *Store) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

func (s *Store) AppendUpdate(ctx context.Context, room domain.RoomID, update crdt.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if update.Empty() {
		return nil
	}

	data, err := codec.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next update sequence: %w", err)
	}

	key := updateKey(room, n)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("append update for room %s: %w", room, err)
	}
	return nil
}

// LoadUpdates returns the updates of room in the order they were appended.
func (s *Store) LoadUpdates(ctx context.Context, room domain.RoomID) ([]crdt.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var updates []crdt.Update
	prefix := []byte(updatePrefix + string(room) + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var update crdt.Update
			if err := it.Item().Value(func(val []byte) error {
				return codec.Unmarshal(val, &update)
			}); err != nil {
				return fmt.Errorf("decode update %s: %w", it.Item().Key(), err)
			}
			updates = append(updates, update)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load updates for room %s: %w", room, err)
	}
	return updates, nil
}

type roomRecord struct {
	FirstMessage string `cbor:"first"`
	FirstAt      int64  `cbor:"at"`
	Count        int    `cbor:"count"`
}

// AddRoomMessage counts a prompt against its room. The first message of a
// room is kept as its summary.
func (s *Store) AddRoomMessage(ctx context.Context, msg domain.RoomMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := []byte(roomPrefix + string(msg.RoomID))
	err := s.db.Update(func(txn *badger.Txn) error {
		var rec roomRecord
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			rec = roomRecord{
				FirstMessage: msg.Prompt,
				FirstAt:      msg.Timestamp.UnixNano(),
			}
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				return codec.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
		}
		rec.Count++

		data, err := codec.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("record message for room %s: %w", msg.RoomID, err)
	}
	return nil
}

// ListRooms pages rooms by first message time, newest first.
func (s *Store) ListRooms(ctx context.Context, page domain.PageRequest) (domain.RoomPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoomPage{}, err
	}
	if err := page.Validate(); err != nil {
		return domain.RoomPage{}, err
	}

	var rooms []domain.RoomSummary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(roomPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec roomRecord
			if err := it.Item().Value(func(val []byte) error {
				return codec.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode room %s: %w", it.Item().Key(), err)
			}
			room := domain.RoomID(it.Item().Key()[len(roomPrefix):])
			rooms = append(rooms, domain.RoomSummary{
				RoomID:                room,
				FirstMessage:          domain.TruncateRunes(rec.FirstMessage, domain.FirstMessageRunes),
				FirstMessageTimestamp: time.Unix(0, rec.FirstAt).UTC(),
				MessageCount:          rec.Count,
			})
		}
		return nil
	})
	if err != nil {
		return domain.RoomPage{}, fmt.Errorf("list rooms: %w", err)
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		if !rooms[i].FirstMessageTimestamp.Equal(rooms[j].FirstMessageTimestamp) {
			return rooms[i].FirstMessageTimestamp.After(rooms[j].FirstMessageTimestamp)
		}
		return rooms[i].RoomID < rooms[j].RoomID
	})

	total := len(rooms)
	start := min(page.Offset(), total)
	end := min(start+page.PageSize, total)
	return domain.RoomPage{
		Items:      append([]domain.RoomSummary{}, rooms[start:end]...),
		Total:      total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: domain.TotalPages(total, page.PageSize),
	}, nil
}

type taskRecord struct {
	ID        string `cbor:"id"`
	RoomID    string `cbor:"room"`
	Status    string `cbor:"status"`
	Prompt    string `cbor:"prompt"`
	AgentName string `cbor:"agent"`
	Result    string `cbor:"result,omitempty"`
	Error     string `cbor:"error,omitempty"`
	CreatedAt int64  `cbor:"created"`
	UpdatedAt int64  `cbor:"updated"`
}

func (s *Store) SaveTask(ctx context.Context, task domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := codec.Marshal(taskRecord{
		ID:        string(task.ID),
		RoomID:    string(task.RoomID),
		Status:    string(task.Status),
		Prompt:    task.Prompt,
		AgentName: string(task.AgentName),
		Result:    task.Result,
		Error:     task.Error,
		CreatedAt: task.CreatedAt.UnixNano(),
		UpdatedAt: task.UpdatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(taskPrefix+string(task.ID)), data)
	}); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}

	var rec taskRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(taskPrefix + string(id)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return codec.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}

	return domain.Task{
		ID:        domain.TaskID(rec.ID),
		RoomID:    domain.RoomID(rec.RoomID),
		Status:    domain.TaskStatus(rec.Status),
		Prompt:    rec.Prompt,
		AgentName: domain.AgentName(rec.AgentName),
		Result:    rec.Result,
		Error:     rec.Error,
		CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, rec.UpdatedAt).UTC(),
	}, nil
}

func updateKey(room domain.RoomID, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", updatePrefix, room, n))
}
