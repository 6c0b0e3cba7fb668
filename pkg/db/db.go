package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

type Client struct {
	BoltDB *bbolt.DB
}

// DefaultOptions fails fast when another process holds the file lock.
func DefaultOptions() *bbolt.Options {
	return &bbolt.Options{
		Timeout:      2 * time.Second,
		PageSize:     16 * 1024,
		NoGrowSync:   true,
		FreelistType: bbolt.FreelistArrayType,
	}
}

// Open opens a bbolt database, creating its directory when needed.
func Open(dbPath string) (*Client, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0600, DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	return &Client{BoltDB: db}, nil
}

func (c *Client) Close() error {
	return c.BoltDB.Close()
}
