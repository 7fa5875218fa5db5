package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps one JSON file per state under
// <root>/<sitename>/states/<date>/<category>.json for categories and
// <root>/<sitename>/states/<date>/<category>/<productid>.json for products.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) categoryPath(sitename, date, name string) string {
	return filepath.Join(s.root, sitename, "states", date, SanitizeName(name)+".json")
}

func (s *FileStore) productPath(sitename, date, category, productID string) string {
	return filepath.Join(s.root, sitename, "states", date, SanitizeName(category), productID+".json")
}

func (s *FileStore) LoadCategory(ctx context.Context, sitename, date, name string) (*CategoryState, error) {
	var state CategoryState
	ok, err := s.load(s.categoryPath(sitename, date, name), &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

func (s *FileStore) SaveCategory(ctx context.Context, state *CategoryState) error {
	return s.save(s.categoryPath(state.Sitename, state.Date, state.Name), state)
}

func (s *FileStore) LoadProduct(ctx context.Context, sitename, date, category, productID string) (*ProductState, error) {
	var state ProductState
	ok, err := s.load(s.productPath(sitename, date, category, productID), &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

func (s *FileStore) SaveProduct(ctx context.Context, state *ProductState) error {
	return s.save(s.productPath(state.Sitename, state.Date, state.Category, state.ProductID), state)
}

func (s *FileStore) load(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read state %s: %w", path, err)
	}
	if len(data) == 0 {
		// Truncated by a crash mid-write; treat as absent.
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode state %s: %w", path, err)
	}
	return true, nil
}

func (s *FileStore) save(path string, state any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	// Write to temp file first for atomicity.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state %s: %w", path, err)
	}

	return nil
}
