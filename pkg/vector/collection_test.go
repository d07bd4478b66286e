package vector_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/vector"
)

const testDim = 16

func randomVector(rng *rand.Rand) []float32 {
	vec := make([]float32, testDim)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}
	return vec
}

func newCollection(t *testing.T, capacity int) *vector.Collection {
	t.Helper()
	col := vector.NewCollection("owner-1", vector.WithDimension(testDim))
	gt.NoError(t, col.Initialize(capacity))
	return col
}

func meta(subject, content string) model.RecordMetadata {
	return model.RecordMetadata{
		OwnerID:   "owner-1",
		SubjectID: subject,
		Content:   content,
		Role:      model.RoleUser,
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func ids(results []*model.SearchResult) []model.RecordID {
	out := make([]model.RecordID, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func fill(t *testing.T, col *vector.Collection, rng *rand.Rand, n int) []model.RecordID {
	t.Helper()
	var added []model.RecordID
	for i := 0; i < n; i++ {
		subject := "s1"
		if i%2 == 1 {
			subject = "s2"
		}
		id, err := col.Add(randomVector(rng), meta(subject, "message"))
		gt.NoError(t, err)
		added = append(added, id)
	}
	return added
}

func TestInitializeIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	col := newCollection(t, 10)
	fill(t, col, rng, 3)

	gt.NoError(t, col.Initialize(10))
	gt.NoError(t, col.Initialize(500))
	gt.Equal(t, col.Size(), 3)
	gt.Equal(t, col.Capacity(), 10)

	results, err := col.Search(randomVector(rng), 5, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(3)
}

func TestAddBeforeInitialize(t *testing.T) {
	col := vector.NewCollection("owner-1")
	_, err := col.Add([]float32{1, 2}, meta("s1", "x"))
	gt.True(t, errors.Is(err, vector.ErrNotInitialized))
}

func TestSearchReturnsNearestFirst(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	col := newCollection(t, 100)
	fill(t, col, rng, 30)

	target := randomVector(rng)
	targetID, err := col.Add(target, meta("s1", "target"))
	gt.NoError(t, err)

	results, err := col.Search(target, 5, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(5)
	gt.Equal(t, results[0].ID, targetID)
	gt.True(t, results[0].Similarity > 0.999)
	gt.Equal(t, results[0].Metadata.Content, "target")

	for i := 1; i < len(results); i++ {
		gt.True(t, results[i-1].Similarity >= results[i].Similarity)
	}
}

func TestSearchPredicate(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	col := newCollection(t, 100)
	fill(t, col, rng, 40)

	results, err := col.Search(randomVector(rng), 10, func(m model.RecordMetadata) bool {
		return m.SubjectID == "s2"
	})
	gt.NoError(t, err)
	gt.A(t, results).Length(10)
	for _, r := range results {
		gt.Equal(t, r.Metadata.SubjectID, "s2")
	}

	none, err := col.Search(randomVector(rng), 10, func(m model.RecordMetadata) bool { return false })
	gt.NoError(t, err)
	gt.A(t, none).Length(0)
}

func TestSearchValidation(t *testing.T) {
	col := newCollection(t, 10)

	results, err := col.Search(make([]float32, testDim), 0, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)

	results, err = col.Search(randomVector(rand.New(rand.NewSource(4))), 3, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)

	_, err = col.Search([]float32{1, 2, 3}, 3, nil)
	var dimErr *model.DimensionMismatchError
	gt.True(t, errors.As(err, &dimErr))
}

func TestAddValidation(t *testing.T) {
	col := newCollection(t, 10)

	_, err := col.Add([]float32{1, 2, 3}, meta("s1", "x"))
	var dimErr *model.DimensionMismatchError
	gt.True(t, errors.As(err, &dimErr))
	gt.Equal(t, dimErr.Expected, testDim)

	_, err = col.Add(make([]float32, testDim), meta("s1", "x"))
	var inputErr *model.InputError
	gt.True(t, errors.As(err, &inputErr))

	gt.Equal(t, col.Size(), 0)
}

func TestDeleteExcludesWithoutReordering(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	col := newCollection(t, 100)
	fill(t, col, rng, 25)

	query := randomVector(rng)
	before, err := col.Search(query, 8, nil)
	gt.NoError(t, err)
	gt.A(t, before).Length(8)

	removed := before[3].ID
	gt.True(t, col.Delete(removed))
	gt.False(t, col.Delete(removed))
	gt.Equal(t, col.Size(), 24)
	gt.Equal(t, col.Tombstones(), 1)

	_, ok := col.Get(removed)
	gt.False(t, ok)

	after, err := col.Search(query, 7, nil)
	gt.NoError(t, err)

	var expected []model.RecordID
	for _, r := range before {
		if r.ID != removed {
			expected = append(expected, r.ID)
		}
	}
	gt.Equal(t, ids(after), expected)
}

func TestCapacityAndCompaction(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	col := newCollection(t, 3)
	added := fill(t, col, rng, 3)

	_, err := col.Add(randomVector(rng), meta("s1", "overflow"))
	var capErr *model.CapacityExceededError
	gt.True(t, errors.As(err, &capErr))
	gt.Equal(t, capErr.Capacity, 3)

	// tombstones still hold their slot
	gt.True(t, col.Delete(added[0]))
	_, err = col.Add(randomVector(rng), meta("s1", "overflow"))
	gt.True(t, errors.As(err, &capErr))
	gt.True(t, col.NeedsCompaction(0.3))

	reclaimed, err := col.Compact()
	gt.NoError(t, err)
	gt.Equal(t, reclaimed, 1)
	gt.Equal(t, col.Tombstones(), 0)
	gt.False(t, col.NeedsCompaction(0.3))

	// ids survive compaction
	rec, ok := col.Get(added[1])
	gt.True(t, ok)
	gt.Equal(t, rec.Label, uint64(0))

	_, err = col.Add(randomVector(rng), meta("s1", "fits now"))
	gt.NoError(t, err)
	gt.Equal(t, col.Size(), 3)
}

func TestAddBatchIsNotAtomic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	col := newCollection(t, 2)

	items := []vector.BatchItem{
		{Embedding: randomVector(rng), Metadata: meta("s1", "a")},
		{Embedding: randomVector(rng), Metadata: meta("s1", "b")},
		{Embedding: randomVector(rng), Metadata: meta("s1", "c")},
	}
	added, err := col.AddBatch(items)
	gt.Error(t, err)
	gt.A(t, added).Length(2)
	gt.Equal(t, col.Size(), 2)
}

func TestDeleteWhere(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	col := newCollection(t, 100)
	fill(t, col, rng, 10)

	n := col.DeleteWhere(func(m model.RecordMetadata) bool { return m.SubjectID == "s1" })
	gt.Equal(t, n, 5)
	gt.Equal(t, col.Size(), 5)
	gt.A(t, col.Records(nil)).Length(5)
}

func TestPersistThenLoadYieldsSameSearch(t *testing.T) {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	col := newCollection(t, 200)
	added := fill(t, col, rng, 120)
	col.Delete(added[10])
	col.Delete(added[77])

	jst := time.FixedZone("JST", 9*60*60)
	chunk := meta("s1", "chunked")
	chunk.Timestamp = time.Date(2025, 6, 1, 9, 30, 0, 123, jst)
	chunk.Attrs = map[string]any{"chunk_index": 1, "chunk_count": int64(3), "tags": []string{"a"}}
	chunkID, err := col.Add(randomVector(rng), chunk)
	gt.NoError(t, err)

	gt.True(t, col.Dirty())
	gt.NoError(t, col.Persist(ctx, storage, "collections", false))
	gt.False(t, col.Dirty())

	loaded := vector.NewCollection("owner-1", vector.WithDimension(testDim))
	gt.NoError(t, loaded.Load(ctx, storage, "collections"))
	gt.Equal(t, loaded.Size(), col.Size())
	gt.Equal(t, loaded.Tombstones(), 2)
	gt.Equal(t, loaded.Capacity(), 200)

	for _, r := range col.Records(nil) {
		other, ok := loaded.Get(r.ID)
		gt.True(t, ok)
		gt.True(t, reflect.DeepEqual(other.Metadata, r.Metadata))
	}
	before, ok := col.Get(chunkID)
	gt.True(t, ok)
	gt.Equal(t, before.Metadata.Attrs["chunk_index"], any(1.0))
	gt.True(t, before.Metadata.Timestamp.Equal(chunk.Timestamp))

	for i := 0; i < 20; i++ {
		query := randomVector(rng)
		k := 1 + i%12
		want, err := col.Search(query, k, nil)
		gt.NoError(t, err)
		got, err := loaded.Search(query, k, nil)
		gt.NoError(t, err)

		gt.Equal(t, ids(got), ids(want))
		for j := range want {
			gt.Equal(t, got[j].Similarity, want[j].Similarity)
			gt.True(t, reflect.DeepEqual(got[j].Metadata, want[j].Metadata))
		}
	}

	// loaded collection keeps counting labels where the original stopped
	_, err = loaded.Add(randomVector(rng), meta("s1", "after load"))
	gt.NoError(t, err)
	gt.Equal(t, loaded.Size(), col.Size()+1)
}

func TestLoadMissingArtifacts(t *testing.T) {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	col := vector.NewCollection("nobody")
	err = col.Load(ctx, storage, "collections")
	gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
}

func writeRaw(t *testing.T, storage adapter.Storage, key string, data []byte) {
	t.Helper()
	w, err := storage.Put(context.Background(), key)
	gt.NoError(t, err)
	_, err = w.Write(data)
	gt.NoError(t, err)
	gt.NoError(t, w.Close())
}

func TestLoadRejectsBrokenArtifacts(t *testing.T) {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	rng := rand.New(rand.NewSource(10))
	col := newCollection(t, 10)
	fill(t, col, rng, 3)
	gt.NoError(t, col.Persist(ctx, storage, "collections", false))

	r, err := storage.Get(ctx, vector.SideTableKey("collections", "owner-1"))
	gt.NoError(t, err)
	raw, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.NoError(t, r.Close())

	var table map[string]any
	gt.NoError(t, json.Unmarshal(raw, &table))
	blob, ok := table["blob"].(string)
	gt.True(t, ok)

	t.Run("corrupted side-table", func(t *testing.T) {
		writeRaw(t, storage, vector.SideTableKey("broken", "owner-1"), []byte("{not json"))
		err := vector.NewCollection("owner-1").Load(ctx, storage, "broken")
		var perr *model.PersistenceError
		gt.True(t, errors.As(err, &perr))
	})

	t.Run("blob missing", func(t *testing.T) {
		table["blob"] = "orphan/owner-1/index-0000000000000000.hnsw"
		data, err := json.Marshal(table)
		gt.NoError(t, err)
		writeRaw(t, storage, vector.SideTableKey("orphan", "owner-1"), data)

		err = vector.NewCollection("owner-1").Load(ctx, storage, "orphan")
		var perr *model.PersistenceError
		gt.True(t, errors.As(err, &perr))
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		table["blob"] = blob
		table["checksum"] = "0000"
		data, err := json.Marshal(table)
		gt.NoError(t, err)
		writeRaw(t, storage, vector.SideTableKey("mismatch", "owner-1"), data)

		err = vector.NewCollection("owner-1").Load(ctx, storage, "mismatch")
		var perr *model.PersistenceError
		gt.True(t, errors.As(err, &perr))
	})

	t.Run("dimension differs from configuration", func(t *testing.T) {
		err := vector.NewCollection("owner-1", vector.WithDimension(8)).Load(ctx, storage, "collections")
		var dimErr *model.DimensionMismatchError
		gt.True(t, errors.As(err, &dimErr))
	})
}

func TestAddRejectsUnencodableAttrs(t *testing.T) {
	col := newCollection(t, 10)
	m := meta("s1", "bad attrs")
	m.Attrs = map[string]any{"callback": func() {}}

	_, err := col.Add(randomVector(rand.New(rand.NewSource(30))), m)
	var inputErr *model.InputError
	gt.True(t, errors.As(err, &inputErr))
	gt.Equal(t, col.Size(), 0)
}
