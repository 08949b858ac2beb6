package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/xaenox/line-relay/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

type dialect struct {
	name      string
	driver    string
	migration string
	// insertReturning is set when the driver supports INSERT ... RETURNING.
	insertReturning bool
	insertQuery     string
}

var (
	sqliteDialect = dialect{
		name:        "sqlite",
		driver:      "sqlite3",
		migration:   "migrations/sqlite.sql",
		insertQuery: `INSERT INTO messages (user_id, message, created_at) VALUES (?, ?, ?)`,
	}
	postgresDialect = dialect{
		name:            "postgres",
		driver:          "postgres",
		migration:       "migrations/postgres.sql",
		insertReturning: true,
		insertQuery:     `INSERT INTO messages (user_id, message, created_at) VALUES ($1, $2, $3) RETURNING id`,
	}
)

const listQuery = `SELECT id, user_id, message, created_at FROM messages ORDER BY id ASC`

// SQLStorage persists messages in a single append-only table. Ids come from
// the database sequence, so they survive restarts and are never reused.
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

func openSQL(d dialect, dsn string, logger *zap.Logger) (*SQLStorage, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening %s database: %w", d.name, err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the %s database: %w", d.name, err)
	}

	storage := &SQLStorage{db: db, dialect: d, logger: logger}
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Message store ready", zap.String("dialect", d.name))
	return storage, nil
}

func (s *SQLStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile(s.dialect.migration)
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *SQLStorage) Append(ctx context.Context, userID, message string) (*models.StoredMessage, error) {
	msg := &models.StoredMessage{
		UserID:    userID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	if s.dialect.insertReturning {
		err := s.db.QueryRowContext(ctx, s.dialect.insertQuery, userID, message, msg.CreatedAt).Scan(&msg.ID)
		if err != nil {
			return nil, unavailable("insert message", err)
		}
		return msg, nil
	}

	res, err := s.db.ExecContext(ctx, s.dialect.insertQuery, userID, message, msg.CreatedAt)
	if err != nil {
		return nil, unavailable("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, unavailable("read inserted id", err)
	}
	msg.ID = id
	return msg, nil
}

func (s *SQLStorage) List(ctx context.Context) ([]models.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	defer rows.Close()

	messages := make([]models.StoredMessage, 0)
	for rows.Next() {
		var msg models.StoredMessage
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Message, &msg.CreatedAt); err != nil {
			return nil, unavailable("scan message", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate messages", err)
	}
	return messages, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}
