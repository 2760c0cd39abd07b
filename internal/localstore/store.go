// Package localstore persists knowledge points on-device so guest mode
// works with no network dependency. Guest points have no server
// identity yet, so a specific record is addressed by exact match on
// (category, correct phrase); duplicate pairs are not supported.
package localstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/example/lingpoint/pkg/models"
)

// Config selects the backing database. SQLite is the normal on-device
// choice; postgres is supported for shared installs, same as the rest
// of the storage layer.
type Config struct {
	Driver string // "sqlite3" or "postgres"
	Path   string // sqlite file path
	DSN    string // postgres connection string
}

// Store is the on-device knowledge point store. Writes are serialized
// through a single mutex; the store is touched by UI actions and by
// background reconciliation at the same time.
type Store struct {
	db  *sqlx.DB
	mu  sync.Mutex
	log *zap.Logger
}

// Open connects to the configured database and initializes the schema.
func Open(cfg Config, log *zap.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}

	var db *sqlx.DB
	var err error

	if driver == "postgres" {
		db, err = sqlx.Connect("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("%w: connect postgres: %v", models.ErrLocalPersistence, err)
		}
	} else {
		path := cfg.Path
		if path == "" {
			path = filepath.Join("data", "lingpoint.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: create data directory: %v", models.ErrLocalPersistence, err)
		}

		db, err = sqlx.Connect("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("%w: connect sqlite: %v", models.ErrLocalPersistence, err)
		}

		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: enable foreign keys: %v", models.ErrLocalPersistence, err)
		}

		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	var schema string
	if s.db.DriverName() == "postgres" {
		schema = `
			CREATE TABLE IF NOT EXISTS knowledge_points (
				id BIGSERIAL PRIMARY KEY,
				owner_id BIGINT,
				sequence_id BIGINT,
				legacy_id BIGINT,
				ancient_id BIGINT,
				category TEXT NOT NULL,
				subcategory TEXT NOT NULL DEFAULT '',
				correct_phrase TEXT NOT NULL,
				explanation TEXT NOT NULL DEFAULT '',
				user_context_sentence TEXT NOT NULL DEFAULT '',
				incorrect_phrase_in_context TEXT NOT NULL DEFAULT '',
				key_point_summary TEXT NOT NULL DEFAULT '',
				mastery_level DOUBLE PRECISION NOT NULL DEFAULT 0,
				mistake_count INTEGER NOT NULL DEFAULT 0,
				correct_count INTEGER NOT NULL DEFAULT 0,
				consecutive_correct INTEGER NOT NULL DEFAULT 0,
				next_review_date TIMESTAMPTZ,
				last_ai_review_date TIMESTAMPTZ,
				ai_review_notes TEXT NOT NULL DEFAULT '',
				origin TEXT NOT NULL DEFAULT 'local',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(category, correct_phrase)
			)
		`
	} else {
		schema = `
			CREATE TABLE IF NOT EXISTS knowledge_points (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id INTEGER,
				sequence_id INTEGER,
				legacy_id INTEGER,
				ancient_id INTEGER,
				category TEXT NOT NULL,
				subcategory TEXT NOT NULL DEFAULT '',
				correct_phrase TEXT NOT NULL,
				explanation TEXT NOT NULL DEFAULT '',
				user_context_sentence TEXT NOT NULL DEFAULT '',
				incorrect_phrase_in_context TEXT NOT NULL DEFAULT '',
				key_point_summary TEXT NOT NULL DEFAULT '',
				mastery_level REAL NOT NULL DEFAULT 0,
				mistake_count INTEGER NOT NULL DEFAULT 0,
				correct_count INTEGER NOT NULL DEFAULT 0,
				consecutive_correct INTEGER NOT NULL DEFAULT 0,
				next_review_date TIMESTAMP,
				last_ai_review_date TIMESTAMP,
				ai_review_notes TEXT NOT NULL DEFAULT '',
				origin TEXT NOT NULL DEFAULT 'local',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(category, correct_phrase)
			)
		`
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: create knowledge_points table: %v", models.ErrLocalPersistence, err)
	}
	return nil
}

// Save writes a point, replacing any existing record with the same
// (category, correct phrase). Guest points always go out carrying the
// pending-sync marker so older clients keep recognizing them.
func (s *Store) Save(p *models.KnowledgePoint) error {
	if p.CorrectPhrase == "" {
		return fmt.Errorf("%w: empty correct phrase", models.ErrIdentityUnresolvable)
	}
	if p.Origin == "" {
		p.Origin = models.OriginLocal
	}
	if p.Origin == models.OriginLocal && p.AIReviewNotes == "" {
		p.AIReviewNotes = models.LocalPendingSyncNotes
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.db.Rebind(`
		INSERT INTO knowledge_points (
			owner_id, sequence_id, legacy_id, ancient_id,
			category, subcategory, correct_phrase, explanation,
			user_context_sentence, incorrect_phrase_in_context, key_point_summary,
			mastery_level, mistake_count, correct_count, consecutive_correct,
			next_review_date, last_ai_review_date, ai_review_notes,
			origin, is_archived, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(category, correct_phrase) DO UPDATE SET
			owner_id = excluded.owner_id,
			sequence_id = excluded.sequence_id,
			legacy_id = excluded.legacy_id,
			ancient_id = excluded.ancient_id,
			subcategory = excluded.subcategory,
			explanation = excluded.explanation,
			user_context_sentence = excluded.user_context_sentence,
			incorrect_phrase_in_context = excluded.incorrect_phrase_in_context,
			key_point_summary = excluded.key_point_summary,
			mastery_level = excluded.mastery_level,
			mistake_count = excluded.mistake_count,
			correct_count = excluded.correct_count,
			consecutive_correct = excluded.consecutive_correct,
			next_review_date = excluded.next_review_date,
			last_ai_review_date = excluded.last_ai_review_date,
			ai_review_notes = excluded.ai_review_notes,
			origin = excluded.origin,
			is_archived = excluded.is_archived,
			updated_at = CURRENT_TIMESTAMP
	`)

	row := rowFromPoint(p)
	_, err := s.db.Exec(query,
		row.OwnerID, row.SequenceID, row.LegacyID, row.AncientID,
		row.Category, row.Subcategory, row.CorrectPhrase, row.Explanation,
		row.UserContextSentence, row.IncorrectPhraseInContext, row.KeyPointSummary,
		row.MasteryLevel, row.MistakeCount, row.CorrectCount, row.ConsecutiveCorrect,
		row.NextReviewDate, row.LastAIReviewDate, row.AIReviewNotes,
		row.Origin, row.IsArchived,
	)
	if err != nil {
		return fmt.Errorf("%w: save point: %v", models.ErrLocalPersistence, err)
	}
	return nil
}

// LoadAll returns every stored point, oldest first. It works before
// any network call succeeds; guest mode reads exclusively from here.
func (s *Store) LoadAll() ([]models.KnowledgePoint, error) {
	var rows []pointRow
	err := s.db.Select(&rows, "SELECT * FROM knowledge_points ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("%w: load points: %v", models.ErrLocalPersistence, err)
	}

	points := make([]models.KnowledgePoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, r.toPoint())
	}
	return points, nil
}

// Remove deletes every record matching (category, correct phrase) and
// returns how many were removed. Zero matches is not an error.
func (s *Store) Remove(category, correctPhrase string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.db.Rebind("DELETE FROM knowledge_points WHERE category = ? AND correct_phrase = ?")
	res, err := s.db.Exec(query, category, correctPhrase)
	if err != nil {
		return 0, fmt.Errorf("%w: remove point: %v", models.ErrLocalPersistence, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: remove point: %v", models.ErrLocalPersistence, err)
	}
	return n, nil
}

// ReplacePromoted swaps a content-keyed guest record for its promoted,
// composite-identified form in one transaction. The old record is only
// gone once the replacement is in.
func (s *Store) ReplacePromoted(category, correctPhrase string, promoted *models.KnowledgePoint) error {
	if promoted.Composite == nil {
		return fmt.Errorf("%w: promoted point has no composite id", models.ErrRemoteRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("%w: begin promotion: %v", models.ErrLocalPersistence, err)
	}
	defer tx.Rollback()

	del := s.db.Rebind("DELETE FROM knowledge_points WHERE category = ? AND correct_phrase = ?")
	if _, err := tx.Exec(del, category, correctPhrase); err != nil {
		return fmt.Errorf("%w: drop guest record: %v", models.ErrLocalPersistence, err)
	}

	row := rowFromPoint(promoted)
	ins := s.db.Rebind(`
		INSERT INTO knowledge_points (
			owner_id, sequence_id, legacy_id, ancient_id,
			category, subcategory, correct_phrase, explanation,
			user_context_sentence, incorrect_phrase_in_context, key_point_summary,
			mastery_level, mistake_count, correct_count, consecutive_correct,
			next_review_date, last_ai_review_date, ai_review_notes,
			origin, is_archived, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	_, err = tx.Exec(ins,
		row.OwnerID, row.SequenceID, row.LegacyID, row.AncientID,
		row.Category, row.Subcategory, row.CorrectPhrase, row.Explanation,
		row.UserContextSentence, row.IncorrectPhraseInContext, row.KeyPointSummary,
		row.MasteryLevel, row.MistakeCount, row.CorrectCount, row.ConsecutiveCorrect,
		row.NextReviewDate, row.LastAIReviewDate, row.AIReviewNotes,
		row.Origin, row.IsArchived,
	)
	if err != nil {
		return fmt.Errorf("%w: insert promoted record: %v", models.ErrLocalPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit promotion: %v", models.ErrLocalPersistence, err)
	}

	if s.log != nil {
		s.log.Debug("promoted guest point",
			zap.String("category", category),
			zap.String("composite_id", promoted.Composite.String()))
	}
	return nil
}
