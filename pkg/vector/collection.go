package vector

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/coder/hnsw"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/embedding"
	"github.com/m-mizutani/kioku/pkg/model"
)

const (
	DefaultMaxElements = 10000
	DefaultM           = 16
	DefaultEfSearch    = 64
)

var ErrNotInitialized = goerr.New("collection is not initialized")

// Predicate filters search hits by their metadata
type Predicate func(meta model.RecordMetadata) bool

// Collection is the ANN index of one owner. Deleted records stay in the
// graph as tombstones until Compact rebuilds it.
type Collection struct {
	owner    string
	m        int
	efSearch int

	mu          sync.RWMutex
	graph       *hnsw.Graph[uint64]
	dimension   int
	maxElements int
	nextLabel   uint64
	idToLabel   map[model.RecordID]uint64
	labelToID   map[uint64]model.RecordID
	metadata    map[model.RecordID]model.RecordMetadata

	// version increments on every mutation; persisted is the last version
	// written to storage
	version   uint64
	persisted uint64
	blobKey   string
}

type CollectionOption func(*Collection)

// WithDimension fixes the vector length. Without it the first added vector decides.
func WithDimension(dim int) CollectionOption {
	return func(c *Collection) {
		c.dimension = dim
	}
}

func WithGraphParams(m, efSearch int) CollectionOption {
	return func(c *Collection) {
		if m > 0 {
			c.m = m
		}
		if efSearch > 0 {
			c.efSearch = efSearch
		}
	}
}

// NewCollection creates an uninitialized collection; call Initialize before use
func NewCollection(owner string, opts ...CollectionOption) *Collection {
	c := &Collection{
		owner:     owner,
		m:         DefaultM,
		efSearch:  DefaultEfSearch,
		idToLabel: make(map[model.RecordID]uint64),
		labelToID: make(map[uint64]model.RecordID),
		metadata:  make(map[model.RecordID]model.RecordMetadata),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collection) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.M = c.m
	g.EfSearch = c.efSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Initialize allocates the index with a fixed capacity. Calling it on an
// initialized collection does nothing.
func (c *Collection) Initialize(maxElements int) error {
	if maxElements <= 0 {
		return goerr.Wrap(&model.InputError{Reason: "maxElements must be positive"},
			"failed to initialize collection", goerr.V("max_elements", maxElements))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph != nil {
		return nil
	}
	c.graph = c.newGraph()
	c.maxElements = maxElements
	return nil
}

func (c *Collection) Owner() string { return c.owner }

// Dimension returns the vector length, 0 until known
func (c *Collection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Capacity returns the number of index slots, tombstones included
func (c *Collection) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxElements
}

// Size returns the number of live records
func (c *Collection) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.idToLabel)
}

// Tombstones returns the number of deleted records still occupying slots
func (c *Collection) Tombstones() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.nextLabel) - len(c.idToLabel)
}

// NeedsCompaction reports whether the tombstone share of used slots reached threshold
func (c *Collection) NeedsCompaction(threshold float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.nextLabel == 0 {
		return false
	}
	dead := float64(int(c.nextLabel) - len(c.idToLabel))
	return dead/float64(c.nextLabel) >= threshold
}

func (c *Collection) checkVector(vec []float32) error {
	if len(vec) == 0 {
		return goerr.Wrap(&model.InputError{Reason: "embedding is empty"}, "invalid vector")
	}
	if c.dimension != 0 && len(vec) != c.dimension {
		return goerr.Wrap(&model.DimensionMismatchError{Expected: c.dimension, Actual: len(vec)},
			"invalid vector", goerr.V("owner", c.owner))
	}
	return nil
}

// normalizeMetadata gives meta the form it has after a persist and load:
// attrs hold JSON values (numbers are float64) and the timestamp is UTC
// without a monotonic reading.
func normalizeMetadata(meta model.RecordMetadata) (model.RecordMetadata, error) {
	if !meta.Timestamp.IsZero() {
		meta.Timestamp = meta.Timestamp.UTC().Round(0)
	}
	if len(meta.Attrs) == 0 {
		meta.Attrs = nil
		return meta, nil
	}

	raw, err := json.Marshal(meta.Attrs)
	if err != nil {
		return meta, goerr.Wrap(&model.InputError{Reason: "attrs are not JSON encodable"}, "invalid metadata",
			goerr.V("error", err.Error()))
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return meta, goerr.Wrap(err, "failed to normalize attrs")
	}
	meta.Attrs = attrs
	return meta, nil
}

// Add inserts a vector with its metadata and returns the new record ID.
// Metadata is stored in its persisted form, see normalizeMetadata.
func (c *Collection) Add(vec []float32, meta model.RecordMetadata) (model.RecordID, error) {
	meta, err := normalizeMetadata(meta)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return "", goerr.Wrap(ErrNotInitialized, "failed to add vector", goerr.V("owner", c.owner))
	}
	if err := c.checkVector(vec); err != nil {
		return "", err
	}
	if isZero(vec) {
		return "", goerr.Wrap(&model.InputError{Reason: "embedding has zero magnitude"}, "invalid vector")
	}
	if c.nextLabel >= uint64(c.maxElements) {
		return "", goerr.Wrap(&model.CapacityExceededError{OwnerID: c.owner, Capacity: c.maxElements},
			"failed to add vector", goerr.V("tombstones", int(c.nextLabel)-len(c.idToLabel)))
	}

	if c.dimension == 0 {
		c.dimension = len(vec)
	}

	id := model.NewRecordID()
	label := c.nextLabel
	c.graph.Add(hnsw.MakeNode(label, slices.Clone(vec)))
	c.nextLabel++

	c.idToLabel[id] = label
	c.labelToID[label] = id
	c.metadata[id] = meta
	c.version++

	return id, nil
}

// BatchItem is one entry of AddBatch
type BatchItem struct {
	Embedding []float32
	Metadata  model.RecordMetadata
}

// AddBatch adds items one by one. It is not atomic: on failure the IDs of
// the records added so far are returned together with the error.
func (c *Collection) AddBatch(items []BatchItem) ([]model.RecordID, error) {
	ids := make([]model.RecordID, 0, len(items))
	for i, item := range items {
		id, err := c.Add(item.Embedding, item.Metadata)
		if err != nil {
			return ids, goerr.Wrap(err, "batch add stopped", goerr.V("index", i))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Get returns a live record
func (c *Collection) Get(id model.RecordID) (*model.VectorRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	label, ok := c.idToLabel[id]
	if !ok {
		return nil, false
	}
	vec, _ := c.graph.Lookup(label)
	return &model.VectorRecord{
		ID:        id,
		Label:     label,
		Embedding: slices.Clone(vec),
		Metadata:  c.metadata[id],
	}, true
}

// Delete tombstones a record. The index slot is not reclaimed.
func (c *Collection) Delete(id model.RecordID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(id)
}

func (c *Collection) deleteLocked(id model.RecordID) bool {
	label, ok := c.idToLabel[id]
	if !ok {
		return false
	}
	delete(c.idToLabel, id)
	delete(c.labelToID, label)
	delete(c.metadata, id)
	c.version++
	return true
}

// DeleteWhere tombstones every live record matching pred and returns the count
func (c *Collection) DeleteWhere(pred Predicate) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var targets []model.RecordID
	for id, meta := range c.metadata {
		if pred(meta) {
			targets = append(targets, id)
		}
	}
	for _, id := range targets {
		c.deleteLocked(id)
	}
	return len(targets)
}

// Search returns up to k live records closest to query, best first.
// Similarity is 1 - cosine distance. Records failing pred are skipped.
func (c *Collection) Search(query []float32, k int, pred Predicate) ([]*model.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.graph == nil {
		return nil, goerr.Wrap(ErrNotInitialized, "failed to search", goerr.V("owner", c.owner))
	}
	if err := c.checkVector(query); err != nil {
		return nil, err
	}

	total := c.graph.Len()
	if total == 0 || len(c.idToLabel) == 0 {
		return nil, nil
	}

	// Tombstones and predicate misses come back from the graph too, so
	// over-fetch and widen until k hits are found or the graph is exhausted.
	fetch := min(k+int(c.nextLabel)-len(c.idToLabel), total)
	var results []*model.SearchResult
	for {
		results = results[:0]
		for _, node := range c.graph.Search(query, fetch) {
			id, live := c.labelToID[node.Key]
			if !live {
				continue
			}
			meta := c.metadata[id]
			if pred != nil && !pred(meta) {
				continue
			}
			sim, err := embedding.CosineSimilarity(query, node.Value)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to score search hit", goerr.V("label", node.Key))
			}
			results = append(results, &model.SearchResult{
				ID:         id,
				Similarity: sim,
				Metadata:   meta,
			})
		}

		if len(results) >= k || fetch >= total {
			break
		}
		fetch = min(fetch*2, total)
	}

	slices.SortStableFunc(results, func(a, b *model.SearchResult) int {
		if d := cmp.Compare(b.Similarity, a.Similarity); d != 0 {
			return d
		}
		return cmp.Compare(c.idToLabel[a.ID], c.idToLabel[b.ID])
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Records returns the live records matching pred ordered by label
func (c *Collection) Records(pred Predicate) []*model.VectorRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	labels := slices.Sorted(maps.Keys(c.labelToID))
	var out []*model.VectorRecord
	for _, label := range labels {
		id := c.labelToID[label]
		meta := c.metadata[id]
		if pred != nil && !pred(meta) {
			continue
		}
		vec, _ := c.graph.Lookup(label)
		out = append(out, &model.VectorRecord{ID: id, Label: label, Embedding: slices.Clone(vec), Metadata: meta})
	}
	return out
}

// Compact rebuilds the graph from live records, reclaiming tombstoned slots.
// Record IDs are kept; labels are reassigned densely in their previous order.
// It returns the number of reclaimed slots.
func (c *Collection) Compact() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return 0, goerr.Wrap(ErrNotInitialized, "failed to compact", goerr.V("owner", c.owner))
	}

	reclaimed := int(c.nextLabel) - len(c.idToLabel)
	if reclaimed == 0 {
		return 0, nil
	}

	labels := slices.Sorted(maps.Keys(c.labelToID))
	graph := c.newGraph()
	idToLabel := make(map[model.RecordID]uint64, len(labels))
	labelToID := make(map[uint64]model.RecordID, len(labels))

	for i, old := range labels {
		vec, ok := c.graph.Lookup(old)
		if !ok {
			return 0, goerr.New("live label missing from graph", goerr.V("owner", c.owner), goerr.V("label", old))
		}
		label := uint64(i)
		graph.Add(hnsw.MakeNode(label, vec))
		id := c.labelToID[old]
		idToLabel[id] = label
		labelToID[label] = id
	}

	c.graph = graph
	c.idToLabel = idToLabel
	c.labelToID = labelToID
	c.nextLabel = uint64(len(labels))
	c.version++

	return reclaimed, nil
}

// Dirty reports whether there are changes not yet persisted
func (c *Collection) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version != c.persisted
}

func (c *Collection) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("collection(owner=%s live=%d slots=%d/%d dim=%d)",
		c.owner, len(c.idToLabel), c.nextLabel, c.maxElements, c.dimension)
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
