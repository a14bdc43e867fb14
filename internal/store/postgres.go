package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"corkboard/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureActorByName(ctx context.Context, name string) (Actor, error) {
	var actor Actor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, created_at FROM actors WHERE display_name=$1
	`, name).Scan(&actor.ID, &actor.DisplayName, &actor.CreatedAt)
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Actor{}, fmt.Errorf("lookup actor: %w", err)
	}

	actor.ID = util.NewID("act")
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO actors (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (display_name) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING id, display_name, created_at
	`, actor.ID, name).Scan(&actor.ID, &actor.DisplayName, &actor.CreatedAt); err != nil {
		return Actor{}, fmt.Errorf("insert actor: %w", err)
	}
	return actor, nil
}

func (s *PostgresStore) GetActor(ctx context.Context, actorID string) (Actor, error) {
	var actor Actor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, created_at FROM actors WHERE id=$1
	`, actorID).Scan(&actor.ID, &actor.DisplayName, &actor.CreatedAt)
	if err != nil {
		return Actor{}, err
	}
	return actor, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, created_by, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Slug, &item.Name, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, created_by, created_at, updated_at
		FROM projects
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Slug, &item.Name, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var item Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, created_by, created_at, updated_at
		FROM boards
		WHERE id=$1
	`, boardID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Board{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListBoardsByProject(ctx context.Context, projectID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, created_by, created_at, updated_at
		FROM boards
		WHERE project_id=$1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		var item Board
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

// CreateProject inserts the project and its slug index row in one
// transaction so no reader observes the entity without its index.
// slugKey may be empty for unindexable slugs, in which case only the
// entity is written.
func (s *PostgresStore) CreateProject(ctx context.Context, item Project, slugKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, slug, name, created_by)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Slug, item.Name, item.CreatedBy); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if slugKey != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO slug_index (normalized_slug, project_id)
			VALUES ($1, $2)
			ON CONFLICT (normalized_slug) DO UPDATE SET project_id=EXCLUDED.project_id
		`, slugKey, item.ID); err != nil {
			return fmt.Errorf("index project slug: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

// RenameProject updates the entity and swaps its index row (remove old
// key, put new key) in one transaction.
func (s *PostgresStore) RenameProject(ctx context.Context, projectID, newSlug, newName, oldKey, newKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rename project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE projects SET slug=$2, name=$3, updated_at=NOW() WHERE id=$1
	`, projectID, newSlug, newName); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if oldKey != "" && oldKey != newKey {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM slug_index WHERE normalized_slug=$1 AND project_id=$2
		`, oldKey, projectID); err != nil {
			return fmt.Errorf("remove old slug index: %w", err)
		}
	}
	if newKey != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO slug_index (normalized_slug, project_id)
			VALUES ($1, $2)
			ON CONFLICT (normalized_slug) DO UPDATE SET project_id=EXCLUDED.project_id
		`, newKey, projectID); err != nil {
			return fmt.Errorf("put new slug index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rename project: %w", err)
	}
	return nil
}

// CreateBoard is the single creation path for boards, explicit and
// lazy alike. titleKey may be empty for unindexable or placeholder
// names.
func (s *PostgresStore) CreateBoard(ctx context.Context, item Board, titleKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create board: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO boards (id, project_id, name, created_by)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.ProjectID, item.Name, item.CreatedBy); err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	if titleKey != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO title_index (project_id, normalized_title, board_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, normalized_title) DO UPDATE SET board_id=EXCLUDED.board_id
		`, item.ProjectID, titleKey, item.ID); err != nil {
			return fmt.Errorf("index board title: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create board: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenameBoard(ctx context.Context, boardID, projectID, newName, oldKey, newKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rename board: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE boards SET name=$2, updated_at=NOW() WHERE id=$1
	`, boardID, newName); err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	if oldKey != "" && oldKey != newKey {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM title_index WHERE project_id=$1 AND normalized_title=$2 AND board_id=$3
		`, projectID, oldKey, boardID); err != nil {
			return fmt.Errorf("remove old title index: %w", err)
		}
	}
	if newKey != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO title_index (project_id, normalized_title, board_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, normalized_title) DO UPDATE SET board_id=EXCLUDED.board_id
		`, projectID, newKey, boardID); err != nil {
			return fmt.Errorf("put new title index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rename board: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSlugIndex(ctx context.Context, slugKey string) (string, bool, error) {
	var projectID string
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id FROM slug_index WHERE normalized_slug=$1
	`, slugKey).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup slug index: %w", err)
	}
	return projectID, true, nil
}

func (s *PostgresStore) LookupTitleIndex(ctx context.Context, projectID, titleKey string) (string, bool, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx, `
		SELECT board_id FROM title_index WHERE project_id=$1 AND normalized_title=$2
	`, projectID, titleKey).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup title index: %w", err)
	}
	return boardID, true, nil
}

func (s *PostgresStore) AppendSlugHistory(ctx context.Context, projectID, oldSlug, newSlug string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slug_history (project_id, old_slug, new_slug)
		VALUES ($1, $2, $3)
	`, projectID, oldSlug, newSlug)
	if err != nil {
		return fmt.Errorf("append slug history: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendNameHistory(ctx context.Context, boardID, projectID, oldName, newName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO name_history (board_id, project_id, old_name, new_name)
		VALUES ($1, $2, $3, $4)
	`, boardID, projectID, oldName, newName)
	if err != nil {
		return fmt.Errorf("append name history: %w", err)
	}
	return nil
}

// FindProjectIDByOldSlug scans slug history for the first entry whose
// old value matches. History is append-only, so scan order is stable
// and staleness can never hide a valid match.
func (s *PostgresStore) FindProjectIDByOldSlug(ctx context.Context, oldSlug string) (string, bool, error) {
	var projectID string
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id FROM slug_history
		WHERE old_slug=$1
		ORDER BY id ASC
		LIMIT 1
	`, oldSlug).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find project by old slug: %w", err)
	}
	return projectID, true, nil
}

// FindBoardIDByOldName restricts the scan to boards of one project,
// the candidate-scope form of the history lookup.
func (s *PostgresStore) FindBoardIDByOldName(ctx context.Context, projectID, oldName string) (string, bool, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx, `
		SELECT board_id FROM name_history
		WHERE project_id=$1 AND old_name=$2
		ORDER BY id ASC
		LIMIT 1
	`, projectID, oldName).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find board by old name: %w", err)
	}
	return boardID, true, nil
}

func (s *PostgresStore) ListSlugHistory(ctx context.Context, projectID string) ([]SlugHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, old_slug, new_slug, recorded_at
		FROM slug_history
		WHERE project_id=$1
		ORDER BY id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list slug history: %w", err)
	}
	defer rows.Close()

	items := make([]SlugHistoryRecord, 0)
	for rows.Next() {
		var item SlugHistoryRecord
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.OldSlug, &item.NewSlug, &item.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan slug history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slug history: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListNameHistory(ctx context.Context, boardID string) ([]NameHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, project_id, old_name, new_name, recorded_at
		FROM name_history
		WHERE board_id=$1
		ORDER BY id ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list name history: %w", err)
	}
	defer rows.Close()

	items := make([]NameHistoryRecord, 0)
	for rows.Next() {
		var item NameHistoryRecord
		if err := rows.Scan(&item.ID, &item.BoardID, &item.ProjectID, &item.OldName, &item.NewName, &item.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan name history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate name history: %w", err)
	}
	return items, nil
}
