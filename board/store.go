package board

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/golang/glog"
)

const roomKeyPrefix = "room/"

// durable snapshot persistence for the room server. one key per room,
// holding the latest JSON-encoded document snapshot.
type SnapshotStore struct {
	db *badger.DB
}

func OpenSnapshotStore(dir string) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{
		db: db,
	}, nil
}

func (self *SnapshotStore) Save(roomId string, snapshot *Snapshot) error {
	snapshotBytes, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	err = self.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(roomKeyPrefix+roomId), snapshotBytes)
	})
	if err != nil {
		return err
	}
	glog.V(1).Infof("[store]save %s layers=%d\n", roomId, len(snapshot.Layers))
	return nil
}

// Load returns the stored snapshot, or ok=false for a new room
func (self *SnapshotStore) Load(roomId string) (*Snapshot, bool, error) {
	var snapshot *Snapshot
	err := self.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(roomKeyPrefix + roomId))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			snapshot = &Snapshot{}
			return json.Unmarshal(value, snapshot)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return snapshot, true, nil
}

// RoomIds lists every persisted room
func (self *SnapshotStore) RoomIds() ([]string, error) {
	roomIds := []string{}
	err := self.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(roomKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			roomIds = append(roomIds, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return roomIds, nil
}

func (self *SnapshotStore) Close() error {
	return self.db.Close()
}
