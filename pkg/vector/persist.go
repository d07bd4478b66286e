package vector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"path"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

const sideTableVersion = 1

// sideTable is the JSON artifact stored next to the native index blob. The
// blob key and checksum bind both artifacts into one logical unit.
type sideTable struct {
	Version     int                                     `json:"version"`
	Owner       string                                  `json:"owner"`
	Dimension   int                                     `json:"dimension"`
	MaxElements int                                     `json:"max_elements"`
	NextLabel   uint64                                  `json:"next_label"`
	IDToLabel   map[model.RecordID]uint64               `json:"id_to_label"`
	Metadata    map[model.RecordID]model.RecordMetadata `json:"metadata"`
	Blob        string                                  `json:"blob"`
	Checksum    string                                  `json:"checksum"`
}

// SideTableKey returns the storage key of the side-table of an owner
func SideTableKey(prefix, owner string) string {
	return path.Join(prefix, owner, "index.json")
}

func blobKey(prefix, owner, checksum string) string {
	return path.Join(prefix, owner, "index-"+checksum[:16]+".hnsw")
}

type snapshot struct {
	version uint64
	blob    []byte
	table   []byte
	blobKey string
	oldBlob string
}

func (c *Collection) snapshot(prefix string) (*snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.graph == nil {
		return nil, goerr.Wrap(ErrNotInitialized, "failed to persist", goerr.V("owner", c.owner))
	}

	var buf bytes.Buffer
	if err := c.graph.Export(&buf); err != nil {
		return nil, goerr.Wrap(&model.PersistenceError{Op: "export", Key: c.owner, Err: err},
			"failed to export index")
	}
	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])
	key := blobKey(prefix, c.owner, checksum)

	table, err := json.Marshal(&sideTable{
		Version:     sideTableVersion,
		Owner:       c.owner,
		Dimension:   c.dimension,
		MaxElements: c.maxElements,
		NextLabel:   c.nextLabel,
		IDToLabel:   c.idToLabel,
		Metadata:    c.metadata,
		Blob:        key,
		Checksum:    checksum,
	})
	if err != nil {
		return nil, goerr.Wrap(&model.PersistenceError{Op: "marshal", Key: c.owner, Err: err},
			"failed to marshal side-table")
	}

	return &snapshot{
		version: c.version,
		blob:    buf.Bytes(),
		table:   table,
		blobKey: key,
		oldBlob: c.blobKey,
	}, nil
}

func writeObject(ctx context.Context, storage adapter.Storage, key string, data []byte) error {
	w, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(&model.PersistenceError{Op: "put", Key: key, Err: err}, "failed to open writer")
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return goerr.Wrap(&model.PersistenceError{Op: "write", Key: key, Err: err}, "failed to write object")
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(&model.PersistenceError{Op: "close", Key: key, Err: err}, "failed to commit object")
	}
	return nil
}

func readObject(ctx context.Context, storage adapter.Storage, key string) ([]byte, error) {
	r, err := storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(&model.PersistenceError{Op: "read", Key: key, Err: err}, "failed to read object")
	}
	return data, nil
}

// Persist writes the index blob and then the side-table that points at it.
// The snapshot is taken under the read lock so it never contains a
// half-applied add; storage I/O happens outside the lock. Unchanged
// collections are skipped unless force is set.
func (c *Collection) Persist(ctx context.Context, storage adapter.Storage, prefix string, force bool) error {
	if !force && !c.Dirty() {
		return nil
	}

	snap, err := c.snapshot(prefix)
	if err != nil {
		return err
	}

	if err := writeObject(ctx, storage, snap.blobKey, snap.blob); err != nil {
		return err
	}
	tableKey := SideTableKey(prefix, c.owner)
	if err := writeObject(ctx, storage, tableKey, snap.table); err != nil {
		return err
	}

	c.mu.Lock()
	if snap.version > c.persisted {
		c.persisted = snap.version
	}
	c.blobKey = snap.blobKey
	c.mu.Unlock()

	if snap.oldBlob != "" && snap.oldBlob != snap.blobKey {
		if err := storage.Delete(ctx, snap.oldBlob); err != nil {
			logging.From(ctx).Warn("failed to delete stale index blob", "key", snap.oldBlob, "error", err)
		}
	}

	logging.From(ctx).Debug("collection persisted",
		"owner", c.owner,
		"blob", snap.blobKey,
		"bytes", len(snap.blob))
	return nil
}

func readSideTable(ctx context.Context, storage adapter.Storage, prefix, owner string) (*sideTable, error) {
	tableKey := SideTableKey(prefix, owner)
	raw, err := readObject(ctx, storage, tableKey)
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, err
		}
		return nil, goerr.Wrap(&model.PersistenceError{Op: "get", Key: tableKey, Err: err}, "failed to load side-table")
	}

	var table sideTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, goerr.Wrap(&model.PersistenceError{Op: "unmarshal", Key: tableKey, Err: err}, "corrupted side-table")
	}
	if table.Version != sideTableVersion {
		return nil, goerr.Wrap(&model.PersistenceError{Op: "load", Key: tableKey},
			"unsupported side-table version", goerr.V("version", table.Version))
	}
	return &table, nil
}

// Load replaces the in-memory state with the persisted artifacts. It returns
// an error wrapping adapter.ErrObjectNotFound when nothing was persisted yet,
// and a PersistenceError when the artifacts are unreadable or do not belong
// together.
func (c *Collection) Load(ctx context.Context, storage adapter.Storage, prefix string) error {
	tableKey := SideTableKey(prefix, c.owner)
	table, err := readSideTable(ctx, storage, prefix, c.owner)
	if err != nil {
		return err
	}

	blob, err := readObject(ctx, storage, table.Blob)
	if err != nil {
		return goerr.Wrap(&model.PersistenceError{Op: "get", Key: table.Blob, Err: err},
			"index blob missing for side-table")
	}
	sum := sha256.Sum256(blob)
	if hex.EncodeToString(sum[:]) != table.Checksum {
		return goerr.Wrap(&model.PersistenceError{Op: "verify", Key: table.Blob},
			"index blob does not match side-table checksum")
	}

	graph := c.newGraph()
	if err := graph.Import(bytes.NewReader(blob)); err != nil {
		return goerr.Wrap(&model.PersistenceError{Op: "import", Key: table.Blob, Err: err}, "failed to import index")
	}
	if c.efSearch > 0 {
		graph.EfSearch = c.efSearch
	}

	idToLabel := table.IDToLabel
	if idToLabel == nil {
		idToLabel = make(map[model.RecordID]uint64)
	}
	metadata := table.Metadata
	if metadata == nil {
		metadata = make(map[model.RecordID]model.RecordMetadata)
	}
	labelToID := make(map[uint64]model.RecordID, len(idToLabel))
	for id, label := range idToLabel {
		if _, dup := labelToID[label]; dup {
			return goerr.Wrap(&model.PersistenceError{Op: "verify", Key: tableKey},
				"label assigned to more than one record", goerr.V("label", label))
		}
		if _, ok := graph.Lookup(label); !ok {
			return goerr.Wrap(&model.PersistenceError{Op: "verify", Key: tableKey},
				"side-table references unknown label", goerr.V("label", label))
		}
		labelToID[label] = id
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dimension != 0 && table.Dimension != 0 && c.dimension != table.Dimension {
		return goerr.Wrap(&model.DimensionMismatchError{Expected: c.dimension, Actual: table.Dimension},
			"persisted collection has different dimension", goerr.V("owner", c.owner))
	}

	c.graph = graph
	if table.Dimension != 0 {
		c.dimension = table.Dimension
	}
	c.maxElements = table.MaxElements
	c.nextLabel = table.NextLabel
	c.idToLabel = idToLabel
	c.labelToID = labelToID
	c.metadata = metadata
	c.blobKey = table.Blob
	c.version++
	c.persisted = c.version

	return nil
}
