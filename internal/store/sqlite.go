package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shanewilkins/roadmap-sub007/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const lastSyncKey = "last_sync_at"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// marshalList serializes a string slice as a JSON array, never nil.
func marshalList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw string) []string {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	if len(list) == 0 {
		return nil
	}
	return list
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, description, backend, remote_owner, remote_repo, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, p.Description, p.Backend, p.RemoteOwner, p.RemoteRepo, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return s.getProject(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return s.getProject(ctx, "name = ?", name)
}

func (s *SQLiteStore) getProject(ctx context.Context, where string, arg any) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, description, backend, remote_owner, remote_repo, created_at, updated_at
		FROM projects WHERE `+where, arg,
	).Scan(&p.ID, &p.Name, &p.Path, &p.Description, &p.Backend, &p.RemoteOwner, &p.RemoteRepo, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %v", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, description, backend, remote_owner, remote_repo, created_at, updated_at
		FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.Description, &p.Backend, &p.RemoteOwner, &p.RemoteRepo, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, path=?, description=?, backend=?, remote_owner=?, remote_repo=?, updated_at=?
		WHERE id=?`,
		p.Name, p.Path, p.Description, p.Backend, p.RemoteOwner, p.RemoteRepo, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", p.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", id)
	}
	return nil
}

// --- Issues ---

const issueColumns = `id, project_id, title, headline, content, status, priority, assignee, labels, blocked_by, blocks, custom_fields, archived, source_file, created_at, updated_at, closed_at`

func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = newULID()
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = now
	}
	if issue.Status == "" {
		issue.Status = models.IssueStatusTodo
	}
	if issue.Priority == "" {
		issue.Priority = models.IssuePriorityMedium
	}

	custom, err := json.Marshal(issue.CustomFields)
	if err != nil || issue.CustomFields == nil {
		custom = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.ProjectID, issue.Title, issue.Headline, issue.Content,
		string(issue.Status), string(issue.Priority), issue.Assignee,
		marshalList(issue.Labels), marshalList(issue.BlockedBy), marshalList(issue.Blocks),
		string(custom), boolToInt(issue.Archived), issue.SourceFile,
		issue.CreatedAt, issue.UpdatedAt, issue.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanIssue(row interface{ Scan(...any) error }) (*models.Issue, error) {
	issue := &models.Issue{}
	var status, priority, labels, blockedBy, blocks, custom string
	var archived int
	var closedAt sql.NullTime

	err := row.Scan(&issue.ID, &issue.ProjectID, &issue.Title, &issue.Headline, &issue.Content,
		&status, &priority, &issue.Assignee,
		&labels, &blockedBy, &blocks, &custom,
		&archived, &issue.SourceFile,
		&issue.CreatedAt, &issue.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	issue.Status = models.IssueStatus(status)
	issue.Priority = models.IssuePriority(priority)
	issue.Labels = unmarshalList(labels)
	issue.BlockedBy = unmarshalList(blockedBy)
	issue.Blocks = unmarshalList(blocks)
	issue.Archived = archived != 0
	if custom != "" && custom != "{}" {
		_ = json.Unmarshal([]byte(custom), &issue.CustomFields)
	}
	if closedAt.Valid {
		issue.ClosedAt = &closedAt.Time
	}
	return issue, nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)

	issue, err := s.scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}

	if err := s.attachRemoteIDs(ctx, []*models.Issue{issue}); err != nil {
		return nil, err
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var conditions []string
	var args []any

	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Label != "" {
		conditions = append(conditions, "labels LIKE ?")
		args = append(args, "%\""+filter.Label+"\"%")
	}
	if !filter.IncludeArchived {
		conditions = append(conditions, "archived = 0 AND status != 'archived'")
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY
		CASE status WHEN 'todo' THEN 0 WHEN 'in_progress' THEN 1 WHEN 'done' THEN 2 WHEN 'closed' THEN 3 ELSE 4 END,
		CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
		created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := s.scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachRemoteIDs(ctx, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// attachRemoteIDs populates Issue.RemoteIDs from the remote_links table.
func (s *SQLiteStore) attachRemoteIDs(ctx context.Context, issues []*models.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	byID := make(map[string]*models.Issue, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
	}

	rows, err := s.db.QueryContext(ctx, "SELECT backend, remote_id, issue_id FROM remote_links")
	if err != nil {
		return fmt.Errorf("load remote links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var backend, remoteID, issueID string
		if err := rows.Scan(&backend, &remoteID, &issueID); err != nil {
			return fmt.Errorf("scan remote link: %w", err)
		}
		if issue, ok := byID[issueID]; ok {
			issue.SetRemoteID(backend, remoteID)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	issue.UpdatedAt = time.Now().UTC()

	custom, err := json.Marshal(issue.CustomFields)
	if err != nil || issue.CustomFields == nil {
		custom = []byte("{}")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET title=?, headline=?, content=?, status=?, priority=?, assignee=?, labels=?, blocked_by=?, blocks=?, custom_fields=?, archived=?, source_file=?, updated_at=?, closed_at=?
		WHERE id=?`,
		issue.Title, issue.Headline, issue.Content,
		string(issue.Status), string(issue.Priority), issue.Assignee,
		marshalList(issue.Labels), marshalList(issue.BlockedBy), marshalList(issue.Blocks),
		string(custom), boolToInt(issue.Archived), issue.SourceFile,
		issue.UpdatedAt, issue.ClosedAt, issue.ID,
	)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue not found: %s", issue.ID)
	}
	return nil
}

// DeleteIssue removes the issue row. Remote links are kept on purpose:
// sync uses the surviving link to tell a deleted item's remote twin from
// a brand-new remote item. UnlinkRemote is the explicit removal path.
func (s *SQLiteStore) DeleteIssue(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM issues WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue not found: %s", id)
	}
	return nil
}

// BulkDeleteIssues removes the given issue rows, keeping remote links
// for the same reason DeleteIssue does.
func (s *SQLiteStore) BulkDeleteIssues(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM issues WHERE id IN (%s)", strings.Join(placeholders, ","))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete issues: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// --- Remote links ---

func (s *SQLiteStore) LinkRemote(ctx context.Context, backend, remoteID, issueID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remote_links (backend, remote_id, issue_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(backend, remote_id) DO UPDATE SET issue_id = excluded.issue_id`,
		backend, remoteID, issueID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("link remote: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UnlinkRemote(ctx context.Context, backend, remoteID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM remote_links WHERE backend = ? AND remote_id = ?", backend, remoteID)
	if err != nil {
		return fmt.Errorf("unlink remote: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveRemote(ctx context.Context, backend, remoteID string) (string, error) {
	var issueID string
	err := s.db.QueryRowContext(ctx,
		"SELECT issue_id FROM remote_links WHERE backend = ? AND remote_id = ?",
		backend, remoteID,
	).Scan(&issueID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve remote: %w", err)
	}
	return issueID, nil
}

func (s *SQLiteStore) RemoteLinks(ctx context.Context, backend string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT remote_id, issue_id FROM remote_links WHERE backend = ?", backend)
	if err != nil {
		return nil, fmt.Errorf("list remote links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	links := make(map[string]string)
	for rows.Next() {
		var remoteID, issueID string
		if err := rows.Scan(&remoteID, &issueID); err != nil {
			return nil, fmt.Errorf("scan remote link: %w", err)
		}
		links[remoteID] = issueID
	}
	return links, rows.Err()
}

// --- Baseline ---

func (s *SQLiteStore) LoadBaseline(ctx context.Context) ([]BaselineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, status, assignee, title, description, labels FROM sync_baseline")
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []BaselineItem
	for rows.Next() {
		var item BaselineItem
		var labels string
		if err := rows.Scan(&item.ID, &item.Status, &item.Assignee, &item.Title, &item.Description, &labels); err != nil {
			return nil, fmt.Errorf("scan baseline item: %w", err)
		}
		item.Labels = unmarshalList(labels)
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveBaseline replaces the whole baseline snapshot in one transaction.
func (s *SQLiteStore) SaveBaseline(ctx context.Context, items []BaselineItem, lastSync time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_baseline"); err != nil {
		return fmt.Errorf("clear baseline: %w", err)
	}

	for _, item := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sync_baseline (id, status, assignee, title, description, labels)
			VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID, item.Status, item.Assignee, item.Title, item.Description, marshalList(item.Labels),
		)
		if err != nil {
			return fmt.Errorf("insert baseline item %s: %w", item.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastSyncKey, lastSync.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record last sync: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpsertBaselineItem(ctx context.Context, item BaselineItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_baseline (id, status, assignee, title, description, labels)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assignee = excluded.assignee,
			title = excluded.title,
			description = excluded.description,
			labels = excluded.labels`,
		item.ID, item.Status, item.Assignee, item.Title, item.Description, marshalList(item.Labels),
	)
	if err != nil {
		return fmt.Errorf("upsert baseline item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteBaselineItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM sync_baseline WHERE id IN (%s)", strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete baseline items: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastSyncAt(ctx context.Context) (time.Time, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", lastSyncKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last sync: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last sync %q: %w", value, err)
	}
	return ts, true, nil
}
