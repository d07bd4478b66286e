package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/repository"
)

func newEvent(owner, subject, summary string, importance float64, emb []float32, at time.Time) *model.EpisodicEvent {
	return &model.EpisodicEvent{
		ID:         model.NewEventID(),
		OwnerID:    owner,
		SubjectID:  subject,
		Type:       "milestone",
		Summary:    summary,
		Importance: importance,
		Embedding:  firestore.Vector32(emb),
		OccurredAt: at,
	}
}

func testRepository(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	owner := "owner-" + string(model.NewMessageID())

	t.Run("search events nearest first", func(t *testing.T) {
		near := newEvent(owner, "alice", "moved to Madrid", 0.9, []float32{1, 0, 0}, now)
		mid := newEvent(owner, "alice", "started a new job", 0.5, []float32{0.7, 0.7, 0}, now)
		far := newEvent(owner, "alice", "bought a plant", 0.1, []float32{0, 0, 1}, now)
		other := newEvent(owner, "bob", "bob's birthday", 0.8, []float32{1, 0, 0}, now)
		for _, e := range []*model.EpisodicEvent{near, mid, far, other} {
			gt.NoError(t, repo.PutEvent(ctx, e))
		}

		results, err := repo.SearchEpisodicEvents(ctx, owner, "alice", []float32{1, 0.1, 0}, 2)
		gt.NoError(t, err)
		gt.A(t, results).Length(2)
		gt.Equal(t, results[0].Event.ID, near.ID)
		gt.Equal(t, results[1].Event.ID, mid.ID)
		gt.True(t, results[0].Similarity > results[1].Similarity)
		gt.Equal(t, results[0].Event.Summary, "moved to Madrid")
		gt.Equal(t, results[0].Event.Importance, 0.9)

		all, err := repo.SearchEpisodicEvents(ctx, owner, "", []float32{1, 0, 0}, 10)
		gt.NoError(t, err)
		gt.A(t, all).Length(4)
	})

	t.Run("search events of unknown owner", func(t *testing.T) {
		results, err := repo.SearchEpisodicEvents(ctx, "nobody-"+owner, "", []float32{1, 0, 0}, 5)
		gt.NoError(t, err)
		gt.A(t, results).Length(0)
	})

	t.Run("event without embedding is rejected", func(t *testing.T) {
		err := repo.PutEvent(ctx, newEvent(owner, "alice", "x", 0.5, nil, now))
		var inputErr *model.InputError
		gt.True(t, errors.As(err, &inputErr))
	})

	t.Run("facts scoped by subject", func(t *testing.T) {
		for _, f := range []*model.Fact{
			{ID: model.NewFactID(), OwnerID: owner, SubjectID: "alice", Category: model.FactCategoryPreference, Key: "favorite food", Value: "paella", UpdatedAt: now},
			{ID: model.NewFactID(), OwnerID: owner, SubjectID: "alice", Category: model.FactCategoryFact, Key: "dog", Value: "Toby", UpdatedAt: now.Add(-time.Hour)},
			{ID: model.NewFactID(), OwnerID: owner, SubjectID: "bob", Category: model.FactCategoryFact, Key: "city", Value: "Lima", UpdatedAt: now},
		} {
			gt.NoError(t, repo.PutFact(ctx, f))
		}

		facts, err := repo.ListFacts(ctx, owner, "alice")
		gt.NoError(t, err)
		gt.A(t, facts).Length(2)
		for _, f := range facts {
			gt.Equal(t, f.SubjectID, "alice")
		}

		all, err := repo.ListFacts(ctx, owner, "")
		gt.NoError(t, err)
		gt.A(t, all).Length(3)
	})

	t.Run("messages oldest first and immutable", func(t *testing.T) {
		var ids []model.MessageID
		for i := range 3 {
			msg := &model.Message{
				ID:        model.NewMessageID(),
				OwnerID:   owner,
				SubjectID: "alice",
				Role:      model.RoleUser,
				Content:   "message",
				CreatedAt: now.Add(time.Duration(2-i) * time.Minute),
			}
			gt.NoError(t, repo.PutMessage(ctx, msg))
			ids = append(ids, msg.ID)
		}

		messages, err := repo.ListMessages(ctx, owner, 0)
		gt.NoError(t, err)
		gt.A(t, messages).Length(3)
		gt.Equal(t, messages[0].ID, ids[2])
		gt.Equal(t, messages[2].ID, ids[0])
		gt.True(t, messages[0].CreatedAt.Equal(now))

		limited, err := repo.ListMessages(ctx, owner, 2)
		gt.NoError(t, err)
		gt.A(t, limited).Length(2)

		err = repo.PutMessage(ctx, messages[0])
		gt.True(t, errors.Is(err, repository.ErrAlreadyExists))
	})
}

func TestMemory(t *testing.T) {
	repo := repository.NewMemory()
	defer func() { gt.NoError(t, repo.Close()) }()
	testRepository(t, repo)
}

func TestSQLite(t *testing.T) {
	repo, err := repository.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "kioku.db"))
	gt.NoError(t, err)
	defer func() { gt.NoError(t, repo.Close()) }()
	testRepository(t, repo)
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kioku.db")

	repo, err := repository.NewSQLite(ctx, path)
	gt.NoError(t, err)
	event := newEvent("owner-1", "alice", "graduated", 1, []float32{0, 1}, time.Now())
	gt.NoError(t, repo.PutEvent(ctx, event))
	gt.NoError(t, repo.Close())

	reopened, err := repository.NewSQLite(ctx, path)
	gt.NoError(t, err)
	defer func() { gt.NoError(t, reopened.Close()) }()

	results, err := reopened.SearchEpisodicEvents(ctx, "owner-1", "alice", []float32{0, 1}, 1)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
	gt.Equal(t, results[0].Event.ID, event.ID)
}

func TestFirestore(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.New(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	defer func() { gt.NoError(t, repo.Close()) }()
	testRepository(t, repo)
}
