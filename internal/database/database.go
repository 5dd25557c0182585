package database

import (
	"context"
	"errors"
	"fmt"
)

var ErrClosed = errors.New("storage is closed")

// Storage is the client-local key/value store the messenger persists into,
// the equivalent of a browser's local storage. Values are JSON documents.
type Storage interface {
	// Get decodes the value under key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
	Close() error
}

type DriverType string

const (
	Memory     DriverType = "memory"
	SQLite     DriverType = "sqlite"
	PostgreSQL DriverType = "postgres"
)

// NewStorage opens the backend named by driver.
func NewStorage(driver DriverType, dsn string) (Storage, error) {
	switch driver {
	case Memory:
		return NewMemoryStorage(), nil
	case SQLite:
		return NewSQLiteStorage(dsn)
	case PostgreSQL:
		return NewPostgresStorage(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

// Keys are scoped by identity so two accounts sharing a profile never see
// each other's history.

func MessagesKey(userID fmt.Stringer) string {
	return "messages:" + userID.String()
}

func AcceptedDonationsKey(userID fmt.Stringer) string {
	return "accepted_donations:" + userID.String()
}

// HandoffKey holds the one-shot record the donation list leaves for the
// messenger before publishing open_chat.
const HandoffKey = "chat_handoff"
