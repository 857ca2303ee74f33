package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes a key. Missing keys are not an error.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Iterate walks the keys sharing prefix.
func (ldb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		// The iterator reuses its buffers between steps.
		if err := fn(clone(it.Key()), clone(it.Value())); err != nil {
			return err
		}
	}
	return it.Error()
}

// NewBatch returns a batch committed through a single synced leveldb write;
// engine changesets must survive a crash once Write returns.
func (ldb *LevelDB) NewBatch() Batch {
	return &opBatch{apply: func(ops []batchOp) error {
		batch := new(leveldb.Batch)
		for _, op := range ops {
			if op.delete {
				batch.Delete(op.key)
				continue
			}
			batch.Put(op.key, op.value)
		}
		return ldb.db.Write(batch, &opt.WriteOptions{Sync: true})
	}}
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
