package storage

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// NewSQLiteStorage opens (creating if needed) the message database at path.
func NewSQLiteStorage(path string, logger *zap.Logger) (*SQLStorage, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	s, err := openSQL(sqliteDialect, dsn, logger)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time.
	s.db.SetMaxOpenConns(1)
	return s, nil
}
