package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps actor state in a local SQLite database, one row per actor.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the state database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS actor_state (
	actor_id TEXT PRIMARY KEY,
	is_initialized INTEGER NOT NULL DEFAULT 0,
	target_region TEXT NOT NULL DEFAULT '',
	endpoint TEXT NOT NULL DEFAULT '',
	user_name TEXT NOT NULL DEFAULT '',
	password TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize actor state schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, actorID string) (*ActorState, bool, error) {
	const query = `
SELECT
	is_initialized,
	target_region,
	endpoint,
	user_name,
	password,
	organization_id
FROM actor_state
WHERE actor_id = ?`

	var (
		initialized int
		st          ActorState
		endpoint    string
		userName    string
		password    string
		orgID       string
	)
	err := s.db.QueryRowContext(ctx, query, actorID).Scan(
		&initialized,
		&st.TargetRegion,
		&endpoint,
		&userName,
		&password,
		&orgID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read actor %s: %w", ErrPersistence, actorID, err)
	}

	st.IsInitialized = initialized != 0
	st.UserName = Secret(userName)
	st.Password = Secret(password)
	if endpoint != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, false, fmt.Errorf("%w: parse endpoint for actor %s: %w", ErrPersistence, actorID, err)
		}
		st.Endpoint = u
	}
	if orgID != "" {
		id, err := uuid.Parse(orgID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: parse organization id for actor %s: %w", ErrPersistence, actorID, err)
		}
		st.OrganizationID = id
	}
	return &st, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, actorID string, st *ActorState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: actor %s: %w", ErrPersistence, actorID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save for actor %s: %w", ErrPersistence, actorID, err)
	}
	defer func() { _ = tx.Rollback() }()

	initialized := 0
	if st.IsInitialized {
		initialized = 1
	}
	orgID := ""
	if st.OrganizationID != uuid.Nil {
		orgID = st.OrganizationID.String()
	}

	const upsert = `
INSERT INTO actor_state (
	actor_id,
	is_initialized,
	target_region,
	endpoint,
	user_name,
	password,
	organization_id,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(actor_id) DO UPDATE SET
	is_initialized = excluded.is_initialized,
	target_region = excluded.target_region,
	endpoint = excluded.endpoint,
	user_name = excluded.user_name,
	password = excluded.password,
	organization_id = excluded.organization_id,
	updated_at = excluded.updated_at`

	if _, err := tx.ExecContext(ctx, upsert,
		actorID,
		initialized,
		st.TargetRegion,
		st.endpointString(),
		st.UserName.Reveal(),
		st.Password.Reveal(),
		orgID,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("%w: write actor %s: %w", ErrPersistence, actorID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit actor %s: %w", ErrPersistence, actorID, err)
	}
	return nil
}
