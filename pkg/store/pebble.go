package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"chatloom/pkg/logger"
	"chatloom/pkg/models"
)

// ErrNotFound is returned for point lookups that match no row.
var ErrNotFound = errors.New("not found")

var (
	db     *pebble.DB
	dbPath string
)

// seq reduces key collisions when multiple messages share the same
// nanosecond timestamp.
var seq uint64

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Log.Info("opening_pebble_db", zap.String("path", path))
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return err
	}
	dbPath = path
	logger.Log.Info("pebble_opened", zap.String("path", path))
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Log.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// Key layout:
//   thread:<id>:meta                              -> Thread JSON
//   thread:<tid>:msg:<%020d created_ts>-<%06d n>  -> Message JSON (no parts)
//   msgidx:<mid>                                  -> thread message key
//   msg:<mid>:part:<%06d index>                   -> Part JSON
//   vote:msg:<mid>                                -> Vote JSON
//   workspace:<ws>:repo:<name>                    -> Repo JSON
//   workspace:<ws>:alert:<%020d created_ts>-<n>   -> Alert JSON

func threadMetaKey(id string) []byte {
	return []byte("thread:" + id + ":meta")
}

// CreateThread inserts thread metadata. If the thread already exists the
// call is a no-op success; the stored row is never overwritten here.
func CreateThread(th models.Thread) error {
	if db == nil {
		return notOpened()
	}
	key := threadMetaKey(th.ID)
	if _, closer, err := db.Get(key); err == nil {
		closer.Close()
		logger.Log.Debug("thread_exists", zap.String("thread", th.ID))
		return nil
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	now := time.Now().UTC().UnixNano()
	if th.CreatedTS == 0 {
		th.CreatedTS = now
	}
	if th.UpdatedTS == 0 {
		th.UpdatedTS = now
	}
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Log.Error("create_thread_failed", zap.String("thread", th.ID), zap.Error(err))
		return err
	}
	logger.Log.Info("thread_created", zap.String("thread", th.ID), zap.String("workspace", th.WorkspaceID))
	return nil
}

// GetThreadByID returns the stored thread or ErrNotFound.
func GetThreadByID(id string) (*models.Thread, error) {
	if db == nil {
		return nil, notOpened()
	}
	v, closer, err := db.Get(threadMetaKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var th models.Thread
	if err := json.Unmarshal(v, &th); err != nil {
		return nil, fmt.Errorf("unmarshal thread %s: %w", id, err)
	}
	return &th, nil
}

// PutThread overwrites thread metadata verbatim. Admin/import paths only;
// regular mutation goes through the Update* helpers.
func PutThread(th models.Thread) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	return db.Set(threadMetaKey(th.ID), data, pebble.Sync)
}

func mutateThread(id string, fn func(*models.Thread)) error {
	if db == nil {
		return notOpened()
	}
	th, err := GetThreadByID(id)
	if err != nil {
		return err
	}
	fn(th)
	th.UpdatedTS = time.Now().UTC().UnixNano()
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	return db.Set(threadMetaKey(id), data, pebble.Sync)
}

// UpdateThreadTitle sets the thread title unconditionally.
func UpdateThreadTitle(id, title string) error {
	err := mutateThread(id, func(th *models.Thread) { th.Title = &title })
	if err != nil {
		logger.Log.Error("update_title_failed", zap.String("thread", id), zap.Error(err))
		return err
	}
	logger.Log.Info("thread_title_updated", zap.String("thread", id))
	return nil
}

// UpdateSelectedLeaf points the thread at a new leaf message.
func UpdateSelectedLeaf(id, messageID string) error {
	err := mutateThread(id, func(th *models.Thread) { th.SelectedLeafMessageID = &messageID })
	if err != nil {
		logger.Log.Error("update_selected_leaf_failed", zap.String("thread", id), zap.Error(err))
		return err
	}
	logger.Log.Info("selected_leaf_updated", zap.String("thread", id), zap.String("message", messageID))
	return nil
}

// SoftDeleteThread marks the thread deleted; rows are purged later by the
// retention runner.
func SoftDeleteThread(id string) error {
	err := mutateThread(id, func(th *models.Thread) {
		th.Deleted = true
		th.DeletedTS = time.Now().UTC().UnixNano()
	})
	if err != nil {
		logger.Log.Error("soft_delete_failed", zap.String("thread", id), zap.Error(err))
		return err
	}
	logger.Log.Info("thread_soft_deleted", zap.String("thread", id))
	return nil
}

// SaveMessage inserts the message row keyed by its created timestamp, then
// inserts its parts in a second step keyed by index. A failure writing
// parts leaves a valid message with no parts; callers must accept that.
func SaveMessage(msg models.Message) error {
	if db == nil {
		return notOpened()
	}
	if msg.ID == "" {
		return fmt.Errorf("message id required")
	}
	if msg.CreatedTS == 0 {
		msg.CreatedTS = time.Now().UTC().UnixNano()
	}
	parts := msg.Parts
	msg.Parts = nil

	s := atomic.AddUint64(&seq, 1)
	key := fmt.Sprintf("thread:%s:msg:%020d-%06d", msg.Thread, msg.CreatedTS, s)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Log.Error("save_message_failed", zap.String("thread", msg.Thread), zap.String("msg_id", msg.ID), zap.Error(err))
		return err
	}
	if err := db.Set([]byte("msgidx:"+msg.ID), []byte(key), pebble.Sync); err != nil {
		logger.Log.Error("save_message_index_failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	logger.Log.Info("message_saved", zap.String("thread", msg.Thread), zap.String("msg_id", msg.ID), zap.Int("parts", len(parts)))

	for i, p := range parts {
		pb, err := json.Marshal(p)
		if err != nil {
			logger.Log.Error("save_part_failed", zap.String("msg_id", msg.ID), zap.Int("index", i), zap.Error(err))
			return nil
		}
		pk := fmt.Sprintf("msg:%s:part:%06d", msg.ID, i)
		if err := db.Set([]byte(pk), pb, pebble.Sync); err != nil {
			logger.Log.Error("save_part_failed", zap.String("msg_id", msg.ID), zap.Int("index", i), zap.Error(err))
			return nil
		}
	}
	return nil
}

// loadParts returns a message's parts ordered by index; never nil.
func loadParts(msgID string) ([]models.Part, error) {
	prefix := []byte("msg:" + msgID + ":part:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []models.Part{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var p models.Part
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			logger.Log.Warn("part_unmarshal_failed", zap.String("msg_id", msgID), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// GetMessagesByThreadID returns all messages for a thread ordered by
// created timestamp ascending, each with its parts ordered by index.
// Messages with no parts carry an empty slice, never nil.
func GetMessagesByThreadID(threadID string) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("thread:" + threadID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Log.Warn("message_unmarshal_failed", zap.String("thread", threadID), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return nil, err
	}
	iter.Close()
	for i := range out {
		parts, err := loadParts(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Parts = parts
	}
	return out, nil
}

// GetMessageByID looks a message up through the id index.
func GetMessageByID(id string) (*models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	ref, closer, err := db.Get([]byte("msgidx:" + id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	key := append([]byte(nil), ref...)
	closer.Close()

	v, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message %s: %w", id, err)
	}
	parts, err := loadParts(id)
	if err != nil {
		return nil, err
	}
	m.Parts = parts
	return &m, nil
}

// SaveVote upserts the vote for a message. The first write freezes
// CreatedTS; later writes refresh polarity and UpdatedTS only. Concurrent
// upserts on one message resolve last-write-wins.
func SaveVote(v models.Vote) (*models.Vote, error) {
	if db == nil {
		return nil, notOpened()
	}
	key := []byte("vote:msg:" + v.MessageID)
	now := time.Now().UTC().UnixNano()
	if prev, closer, err := db.Get(key); err == nil {
		var old models.Vote
		uerr := json.Unmarshal(prev, &old)
		closer.Close()
		if uerr == nil {
			v.CreatedTS = old.CreatedTS
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return nil, err
	}
	if v.CreatedTS == 0 {
		v.CreatedTS = now
	}
	v.UpdatedTS = now
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal vote: %w", err)
	}
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Log.Error("save_vote_failed", zap.String("msg_id", v.MessageID), zap.Error(err))
		return nil, err
	}
	logger.Log.Info("vote_saved", zap.String("msg_id", v.MessageID), zap.Bool("upvote", v.IsUpvote))
	return &v, nil
}

// GetVote returns the stored vote for a message or ErrNotFound.
func GetVote(messageID string) (*models.Vote, error) {
	if db == nil {
		return nil, notOpened()
	}
	v, closer, err := db.Get([]byte("vote:msg:" + messageID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var out models.Vote
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, fmt.Errorf("unmarshal vote %s: %w", messageID, err)
	}
	return &out, nil
}

// ListThreads returns all stored thread rows, deleted included.
func ListThreads() ([]models.Thread, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("thread:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			continue
		}
		out = append(out, th)
	}
	return out, iter.Error()
}

// PurgeThread hard-deletes a thread's meta, messages, parts, votes and id
// index rows. Used by the retention runner on soft-deleted threads.
func PurgeThread(threadID string) error {
	if db == nil {
		return notOpened()
	}
	msgs, err := GetMessagesByThreadID(threadID)
	if err != nil {
		return err
	}
	batch := db.NewBatch()
	defer batch.Close()
	for _, m := range msgs {
		for i := range m.Parts {
			_ = batch.Delete([]byte(fmt.Sprintf("msg:%s:part:%06d", m.ID, i)), nil)
		}
		_ = batch.Delete([]byte("msgidx:"+m.ID), nil)
		_ = batch.Delete([]byte("vote:msg:"+m.ID), nil)
	}
	prefix := []byte("thread:" + threadID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		_ = batch.Delete(append([]byte(nil), iter.Key()...), nil)
	}
	ierr := iter.Error()
	iter.Close()
	if ierr != nil {
		return ierr
	}
	_ = batch.Delete(threadMetaKey(threadID), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Log.Error("purge_thread_failed", zap.String("thread", threadID), zap.Error(err))
		return err
	}
	logger.Log.Info("thread_purged", zap.String("thread", threadID), zap.Int("messages", len(msgs)))
	return nil
}
