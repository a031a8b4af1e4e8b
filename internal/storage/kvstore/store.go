// Package kvstore is an embedded chat.Store on BadgerDB. It needs no external
// database and is used for single-node deployments and tests.
//
// Layout:
//
//	conv:<low>:<high>:<unix nanos, 19 digits>:<seq, 19 digits> -> CBOR record
//	id:<message id>                                            -> conv key
//
// where low/high are the two user ids sorted, so both directions of a
// conversation share one prefix and a prefix scan yields creation order. The
// sequence breaks ties between equal timestamps in insertion order.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/whisper/dm-gateway/internal/chat"
)

// ErrDuplicateID is returned by Append when a message id is already stored.
var ErrDuplicateID = errors.New("kvstore: duplicate message id")

const (
	convPrefix = "conv:"
	idPrefix   = "id:"
	seqKey     = "meta:seq"
	seqLease   = 1000
)

// Store implements chat.Store on a badger.DB.
type Store struct {
	db    *badger.DB
	seq   *badger.Sequence
	owned bool
}

var _ chat.Store = (*Store)(nil)

// Open opens (or creates) a badger database at path. An empty path opens an
// in-memory database.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %q: %w", path, err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *badger.DB) (*Store, error) {
	seq, err := db.GetSequence([]byte(seqKey), seqLease)
	if err != nil {
		return nil, fmt.Errorf("kvstore: sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the sequence lease and, when opened by Open, the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		return fmt.Errorf("kvstore: release sequence: %w", err)
	}
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func pairPrefix(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return convPrefix + a + ":" + b + ":"
}

// Append implements chat.Store.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("kvstore: next sequence: %w", err)
	}
	val, err := encode(msg)
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", msg.ID, err)
	}
	key := fmt.Sprintf("%s%019d:%019d", pairPrefix(msg.SenderID, msg.ReceiverID), msg.CreatedAt.UnixNano(), n)

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(idPrefix + msg.ID))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set([]byte(key), val); err != nil {
			return err
		}
		return txn.Set([]byte(idPrefix+msg.ID), []byte(key))
	})
}

// MarkRead implements chat.Store. The scan and all updates run in a single
// transaction, so a concurrent Append either lands before it entirely or is
// not seen.
func (s *Store) MarkRead(ctx context.Context, readerID, senderID string, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prefix := []byte(pairPrefix(readerID, senderID))
	limit := cutoff.UnixNano()

	type update struct {
		key []byte
		val []byte
	}

	var updated int64
	err := s.db.Update(func(txn *badger.Txn) error {
		var pending []update

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			at, err := keyTime(item.Key(), len(prefix))
			if err != nil {
				it.Close()
				return err
			}
			if at > limit {
				break
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			msg, err := decode(raw)
			if err != nil {
				it.Close()
				return err
			}
			if msg.IsRead || msg.SenderID != senderID || msg.ReceiverID != readerID {
				continue
			}
			msg.IsRead = true
			val, err := encode(msg)
			if err != nil {
				it.Close()
				return err
			}
			pending = append(pending, update{key: item.KeyCopy(nil), val: val})
		}
		it.Close()

		for _, u := range pending {
			if err := txn.Set(u.key, u.val); err != nil {
				return err
			}
		}
		updated = int64(len(pending))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("kvstore: mark read: %w", err)
	}
	return updated, nil
}

// Conversation implements chat.Store.
func (s *Store) Conversation(ctx context.Context, userA, userB string) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(pairPrefix(userA, userB))

	msgs := []chat.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg chat.Message
			err := it.Item().Value(func(val []byte) error {
				var err error
				msg, err = decode(val)
				return err
			})
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: conversation: %w", err)
	}
	return msgs, nil
}

// keyTime extracts the timestamp segment that follows the pair prefix.
func keyTime(key []byte, prefixLen int) (int64, error) {
	rest := string(key[prefixLen:])
	ts, _, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, fmt.Errorf("kvstore: malformed key %q", key)
	}
	return strconv.ParseInt(ts, 10, 64)
}
