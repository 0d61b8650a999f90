// Package storage persists named documents for the controller: the schedule
// table lives in one document that is replaced as a whole on every save.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a document has never been written.
var ErrNotFound = errors.New("document not found")

func checkKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || filepath.Base(key) != key || key == "." || key == ".." {
		return fmt.Errorf("invalid document key %q", key)
	}
	return nil
}
