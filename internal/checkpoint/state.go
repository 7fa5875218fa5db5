// Package checkpoint persists crawl progress so interrupted runs resume
// from the last completed page and skip already-extracted products.
package checkpoint

import (
	"context"
	"strings"
)

// CategoryState tracks pagination progress for one category on one run date.
// PageNo advances monotonically; Done flips true exactly once, after the
// last page yields no products.
type CategoryState struct {
	Sitename string `json:"sitename"`
	Name     string `json:"name"`
	Date     string `json:"date"`
	PageNo   int    `json:"pageno"`
	Done     bool   `json:"done"`
}

// ProductState marks one product as extracted. Done is set true only after
// the product's output rows have been durably written.
type ProductState struct {
	Sitename  string `json:"sitename"`
	Category  string `json:"category"`
	Date      string `json:"date"`
	ProductID string `json:"productid"`
	Done      bool   `json:"done"`
}

// Store persists states. Writers touch disjoint keys (one task owns one
// category or product), so implementations need no cross-key transactions.
type Store interface {
	LoadCategory(ctx context.Context, sitename, date, name string) (*CategoryState, error)
	SaveCategory(ctx context.Context, state *CategoryState) error
	LoadProduct(ctx context.Context, sitename, date, category, productID string) (*ProductState, error)
	SaveProduct(ctx context.Context, state *ProductState) error
}

var nameSanitizer = strings.NewReplacer("/", "_", ">", "_", ":", "_")

// SanitizeName rewrites characters that cannot appear in state keys or
// filenames. Category names frequently contain "/" and ">" separators.
func SanitizeName(name string) string {
	return nameSanitizer.Replace(name)
}

// ResumeCategory returns the state to crawl a category from. A fresh state
// starts at startPage. When checkpointing is enabled and the persisted state
// is already done, it returns nil so the caller never re-enters the
// category within the same date.
func ResumeCategory(ctx context.Context, store Store, sitename, date, name string, startPage int, enabled bool) (*CategoryState, error) {
	state := &CategoryState{
		Sitename: sitename,
		Name:     SanitizeName(name),
		Date:     date,
		PageNo:   startPage,
	}

	if !enabled {
		return state, nil
	}

	loaded, err := store.LoadCategory(ctx, sitename, date, state.Name)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return state, nil
	}
	if loaded.Done {
		return nil, nil
	}
	// A state saved under an older date directory adopts the current date.
	loaded.Date = date
	return loaded, nil
}

// ResumeProduct returns the state to extract a product under, or nil when
// the product is already done and extraction must be skipped.
func ResumeProduct(ctx context.Context, store Store, sitename, date, category, productID string, enabled bool) (*ProductState, error) {
	state := &ProductState{
		Sitename:  sitename,
		Category:  SanitizeName(category),
		Date:      date,
		ProductID: productID,
	}

	if !enabled {
		return state, nil
	}

	loaded, err := store.LoadProduct(ctx, sitename, date, state.Category, productID)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return state, nil
	}
	if loaded.Done {
		return nil, nil
	}
	loaded.Date = date
	return loaded, nil
}
