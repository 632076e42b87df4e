package journal

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

var keyPrefix = []byte("proof-payload/")

// Journal pins the serialized payload of a job's first attempt. Resume and
// retry submissions read the pinned bytes instead of rebuilding, so the
// ledger sees byte-identical content even if the payload builder changes
// between attempts.
type Journal struct {
	db *badger.DB
}

func Open(path string) (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions(path))
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// OpenInMemory backs the journal with badger's in-memory mode.
func OpenInMemory() (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func key(id string) []byte {
	return append(append([]byte(nil), keyPrefix...), id...)
}

// Ensure stores serialized under the job id on first call and returns the
// stored bytes on every call. First write wins.
func (j *Journal) Ensure(id string, serialized []byte) ([]byte, error) {
	var pinned []byte
	err := j.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err == nil {
			pinned, err = item.ValueCopy(nil)
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		pinned = append([]byte(nil), serialized...)
		return txn.Set(key(id), serialized)
	})
	if err != nil {
		return nil, err
	}
	return pinned, nil
}

// Forget drops the pinned payload once the job reached a terminal outcome.
func (j *Journal) Forget(id string) error {
	return j.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
