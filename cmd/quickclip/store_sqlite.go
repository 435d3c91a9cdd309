//go:build sqlite

package main

import (
	"quickclip/internal/storage"
	"quickclip/internal/storage/sqlitestore"
)

func openStore(path, uploadDir string) (storage.Store, error) {
	return sqlitestore.Open(path, uploadDir)
}
