// internal/portfolio/file.go
package portfolio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

// document is the on-disk ledger layout.
type document struct {
	Positions []domain.Position    `json:"positions"`
	History   []domain.ClosedTrade `json:"history"`
}

// fileStore rewrites the whole ledger on every mutation.
type fileStore struct {
	path string
}

func (f fileStore) load() (document, error) {
	var doc document
	if f.path == "" {
		return doc, nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode ledger %s: %w", f.path, err)
	}
	return doc, nil
}

func (f fileStore) save(doc document) error {
	if f.path == "" {
		return nil
	}
	if doc.Positions == nil {
		doc.Positions = []domain.Position{}
	}
	if doc.History == nil {
		doc.History = []domain.ClosedTrade{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	// Written to a temp file, synced and renamed so readers never see a
	// partial document.
	if err := renameio.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
