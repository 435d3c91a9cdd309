//go:build !sqlite

package main

import (
	"quickclip/internal/storage"
	"quickclip/internal/storage/boltstore"
)

func openStore(path, uploadDir string) (storage.Store, error) {
	return boltstore.Open(path, uploadDir)
}
