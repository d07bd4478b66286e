package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/embedding"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// SQLite is a Repository on a local SQLite file. Event embeddings are stored
// as JSON arrays and compared in Go, which is adequate for the thousands of
// events a single owner accumulates.
type SQLite struct {
	db *sql.DB
}

var _ Repository = (*SQLite)(nil)

// NewSQLite opens (and creates if needed) the database at path. Use
// ":memory:" for a throwaway database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("path", path))
	}

	// one connection serializes writers and keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to set pragma", goerr.V("pragma", pragma))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to create schema", goerr.V("path", path))
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func (s *SQLite) PutMessage(ctx context.Context, msg *model.Message) error {
	if err := validateOwned("message", string(msg.ID), msg.OwnerID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, owner_id, subject_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.OwnerID, msg.SubjectID, msg.Role, msg.Content, formatTime(msg.CreatedAt),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert message", goerr.V("id", msg.ID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "failed to get affected rows", goerr.V("id", msg.ID))
	}
	if n == 0 {
		return goerr.Wrap(ErrAlreadyExists, "message exists", goerr.V("id", msg.ID))
	}
	return nil
}

func (s *SQLite) PutEvent(ctx context.Context, event *model.EpisodicEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	raw, err := json.Marshal([]float32(event.Embedding))
	if err != nil {
		return goerr.Wrap(err, "failed to marshal embedding", goerr.V("id", event.ID))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (id, owner_id, subject_id, type, summary, importance, embedding, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.OwnerID, event.SubjectID, event.Type, event.Summary, event.Importance,
		string(raw), formatTime(event.OccurredAt),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert event", goerr.V("id", event.ID))
	}
	return nil
}

func (s *SQLite) PutFact(ctx context.Context, fact *model.Fact) error {
	if err := validateOwned("fact", string(fact.ID), fact.OwnerID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO facts (id, owner_id, subject_id, category, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fact.ID, fact.OwnerID, fact.SubjectID, fact.Category, fact.Key, fact.Value, formatTime(fact.UpdatedAt),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert fact", goerr.V("id", fact.ID))
	}
	return nil
}

func (s *SQLite) SearchEpisodicEvents(ctx context.Context, ownerID, subjectID string, query []float32, limit int) ([]*model.ScoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, subject_id, type, summary, importance, embedding, occurred_at
		FROM events
		WHERE owner_id = ? AND (? = '' OR subject_id = ?)`,
		ownerID, subjectID, subjectID,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query events", goerr.V("owner", ownerID))
	}
	defer rows.Close()

	var scored []*model.ScoredEvent
	for rows.Next() {
		var (
			event    model.EpisodicEvent
			raw      string
			occurred string
		)
		if err := rows.Scan(&event.ID, &event.OwnerID, &event.SubjectID, &event.Type,
			&event.Summary, &event.Importance, &raw, &occurred); err != nil {
			return nil, goerr.Wrap(err, "failed to scan event")
		}
		if err := json.Unmarshal([]byte(raw), &event.Embedding); err != nil {
			logging.From(ctx).Warn("skip event with malformed embedding", "id", event.ID, "error", err)
			continue
		}
		if event.OccurredAt, err = parseTime(occurred); err != nil {
			logging.From(ctx).Warn("skip event with malformed time", "id", event.ID, "error", err)
			continue
		}

		sim, err := embedding.CosineSimilarity(query, event.Embedding)
		if err != nil {
			logging.From(ctx).Warn("skip event with other dimension", "id", event.ID, "error", err)
			continue
		}
		scored = append(scored, &model.ScoredEvent{Event: &event, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate events")
	}

	slices.SortStableFunc(scored, func(a, b *model.ScoredEvent) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return strings.Compare(string(a.Event.ID), string(b.Event.ID))
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *SQLite) ListFacts(ctx context.Context, ownerID, subjectID string) ([]*model.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, subject_id, category, key, value, updated_at
		FROM facts
		WHERE owner_id = ? AND (? = '' OR subject_id = ?)
		ORDER BY updated_at DESC, id`,
		ownerID, subjectID, subjectID,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query facts", goerr.V("owner", ownerID))
	}
	defer rows.Close()

	var facts []*model.Fact
	for rows.Next() {
		var (
			fact    model.Fact
			updated string
		)
		if err := rows.Scan(&fact.ID, &fact.OwnerID, &fact.SubjectID, &fact.Category,
			&fact.Key, &fact.Value, &updated); err != nil {
			return nil, goerr.Wrap(err, "failed to scan fact")
		}
		if fact.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, goerr.Wrap(err, "malformed fact time", goerr.V("id", fact.ID))
		}
		facts = append(facts, &fact)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate facts")
	}
	return facts, nil
}

func (s *SQLite) ListMessages(ctx context.Context, ownerID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, subject_id, role, content, created_at
		FROM messages
		WHERE owner_id = ?
		ORDER BY created_at, id
		LIMIT ?`,
		ownerID, limit,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query messages", goerr.V("owner", ownerID))
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		var (
			msg     model.Message
			created string
		)
		if err := rows.Scan(&msg.ID, &msg.OwnerID, &msg.SubjectID, &msg.Role, &msg.Content, &created); err != nil {
			return nil, goerr.Wrap(err, "failed to scan message")
		}
		if msg.CreatedAt, err = parseTime(created); err != nil {
			return nil, goerr.Wrap(err, "malformed message time", goerr.V("id", msg.ID))
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate messages")
	}
	return messages, nil
}
