package persistence

import (
	"encoding/json"
	"fmt"

	aerrors "actiontrace/pkg/errors"
	"actiontrace/pkg/types"

	"github.com/dgraph-io/badger/v4"
)

// ColdStore is the optional archive a host can plug in so dehydration
// spills a dropped payload into a queryable store instead of discarding it
// outright. The default build never constructs one — dehydration simply
// sets Payload to nil, per the spec. Hosts that want a queryable cold
// archive opt in by setting a *BadgerColdStore as store.Config.ColdStore;
// app.New does this when Config.ColdStorePath is set (the -coldstore flag
// of cmd/actiontraced).
type ColdStore interface {
	Put(sequence int64, payload map[string]types.Value) error
	Get(sequence int64) (map[string]types.Value, bool, error)
	Close() error
}

// BadgerColdStore implements ColdStore over an embedded BadgerDB instance,
// grounded on wbrown-janus-datalog's BadgerStore: one key-value pair per
// sequence, JSON-encoded the same way the event snapshot already is, since
// payload values are already the canonical Value tree.
type BadgerColdStore struct {
	db *badger.DB
}

// NewBadgerColdStore opens (creating if absent) a BadgerDB at path.
func NewBadgerColdStore(path string) (*BadgerColdStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // the teacher's pack disables badger's own logger too, deferring to logrus at the call site

	db, err := badger.Open(opts)
	if err != nil {
		return nil, aerrors.New(aerrors.SeverityHigh, aerrors.CodePersistenceFailed, "persistence", "NewBadgerColdStore", "failed to open badger cold store").Wrap(err)
	}
	return &BadgerColdStore{db: db}, nil
}

func coldStoreKey(sequence int64) []byte {
	return []byte(fmt.Sprintf("event:%020d", sequence))
}

// Put archives a dehydrated event's payload, keyed by its sequence.
func (b *BadgerColdStore) Put(sequence int64, payload map[string]types.Value) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return aerrors.New(aerrors.SeverityMedium, aerrors.CodePersistenceFailed, "persistence", "Put", "failed to marshal cold payload").Wrap(err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(coldStoreKey(sequence), data)
	})
}

// Get retrieves a previously archived payload. The bool is false if no
// entry exists for sequence (not itself an error).
func (b *BadgerColdStore) Get(sequence int64) (map[string]types.Value, bool, error) {
	var payload map[string]types.Value
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(coldStoreKey(sequence))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &payload)
		})
	})
	if err != nil {
		return nil, false, aerrors.New(aerrors.SeverityMedium, aerrors.CodePersistenceFailed, "persistence", "Get", "failed to read cold payload").Wrap(err)
	}
	return payload, payload != nil, nil
}

// Close releases the underlying BadgerDB handle.
func (b *BadgerColdStore) Close() error {
	return b.db.Close()
}
