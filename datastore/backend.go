// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package datastore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Backend is the pluggable persistence layer behind the Datastore Facade;
// the facade itself never touches files or SQL directly, only this
// interface.
type Backend interface {
	// Read returns the raw bytes stored for name, and whether anything
	// was stored at all.
	Read(name string) ([]byte, bool, error)
	// Write persists data for name, replacing any previous contents
	// atomically from the caller's point of view.
	Write(name string, data []byte) error
	// Remove deletes any stored contents for name. Removing an absent
	// name is not an error at this layer (the facade maps that).
	Remove(name string) error
}

// FileBackend stores one file per datastore name under Dir, mirroring
// session/commitmgr.go's writeRunning: secrets may live in these files,
// so writes go through a 0600 temp file and an atomic rename.
type FileBackend struct {
	Dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("datastore: creating %s: %w", dir, err)
	}
	return &FileBackend{Dir: dir}, nil
}

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.Dir, name+".db")
}

func (b *FileBackend) Read(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *FileBackend) Write(name string, data []byte) error {
	tmp := b.path(name) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := f.Chmod(0600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, b.path(name))
}

func (b *FileBackend) Remove(name string) error {
	err := os.Remove(b.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SQLBackend stores every datastore as one row in a single SQLite file,
// for operators who want one durable file instead of a directory tree.
// Uses modernc.org/sqlite, a pure-Go driver, so the backend stays cgo-free.
type SQLBackend struct {
	db *sql.DB
}

func NewSQLBackend(path string) (*SQLBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("datastore: opening sqlite %s: %w", path, err)
	}
	const ddl = `CREATE TABLE IF NOT EXISTS datastores (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		generation INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("datastore: creating schema: %w", err)
	}
	return &SQLBackend{db: db}, nil
}

func (b *SQLBackend) Close() error { return b.db.Close() }

func (b *SQLBackend) Read(name string) ([]byte, bool, error) {
	var data []byte
	err := b.db.QueryRow(`SELECT data FROM datastores WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *SQLBackend) Write(name string, data []byte) error {
	_, err := b.db.Exec(`
		INSERT INTO datastores(name, data, generation) VALUES (?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data,
			generation = datastores.generation + 1`,
		name, data)
	return err
}

func (b *SQLBackend) Remove(name string) error {
	_, err := b.db.Exec(`DELETE FROM datastores WHERE name = ?`, name)
	return err
}
