// Package errs defines the closed error taxonomy shared by the crawl core.
//
// Each kind is a sentinel; contextual values (URL, selector query) travel on
// a wrapping Error so callers match kinds with errors.Is while logs keep the
// diagnostics.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrQueryNotFound marks an expected structural absence: a selector
	// matched nothing. Callers handle it with an explicit fallback path.
	ErrQueryNotFound = errors.New("query not found")

	// ErrTimeout marks an operation that exceeded its deadline. Retried
	// with exponential backoff before becoming fatal for the item.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidURL marks a failed reachability check. Retried like a
	// timeout; after exhaustion the category or product is skipped.
	ErrInvalidURL = errors.New("invalid url")

	// ErrMaxTriesReached marks retry-while exhaustion.
	ErrMaxTriesReached = errors.New("max tries reached")

	// ErrIncorrectData marks a derived value that failed validation.
	ErrIncorrectData = errors.New("incorrect data")

	ErrProductsNotFound     = errors.New("products not found")
	ErrProductLinkNotFound  = errors.New("product link not found")
	ErrProductNameNotFound  = errors.New("product name not found")
	ErrSellingPriceNotFound = errors.New("selling price not found")
	ErrSupplyPriceNotFound  = errors.New("supply price not found")
	ErrDeliveryFeeNotFound  = errors.New("delivery fee not found")
	ErrThumbnailNotFound    = errors.New("thumbnail not found")
	ErrOptionsNotFound      = errors.New("options not found")
	ErrTableNotFound        = errors.New("table not found")
	ErrTotalCountNotFound   = errors.New("total products text not found")
)

// Error attaches URL and selector context to a taxonomy kind.
type Error struct {
	Kind  error
	URL   string
	Query string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	switch {
	case e.URL != "" && e.Query != "":
		return fmt.Sprintf("%s || url = %s || query = %s ||", msg, e.URL, e.Query)
	case e.URL != "":
		return fmt.Sprintf("%s || url = %s ||", msg, e.URL)
	case e.Query != "":
		return fmt.Sprintf("%s || query = %s ||", msg, e.Query)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, errs.ErrTimeout) matches a
// wrapped timeout regardless of its context fields.
func (e *Error) Is(target error) bool { return target == e.Kind }

// New wraps cause with a taxonomy kind.
func New(kind error, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// WithURL wraps cause with a kind and the URL it occurred on.
func WithURL(kind error, url string, cause error) *Error {
	return &Error{Kind: kind, URL: url, Err: cause}
}

// QueryNotFound builds the expected-absence error for a selector query.
func QueryNotFound(query string, cause error) *Error {
	return &Error{Kind: ErrQueryNotFound, Query: query, Err: cause}
}

// Timeout builds a deadline-exceeded error for a URL.
func Timeout(url string, cause error) *Error {
	return &Error{Kind: ErrTimeout, URL: url, Err: cause}
}

// InvalidURL builds a reachability failure for a URL.
func InvalidURL(url string, cause error) *Error {
	return &Error{Kind: ErrInvalidURL, URL: url, Err: cause}
}

// Kind returns the taxonomy sentinel carried by err, or nil when err is not
// part of the taxonomy. Used for metrics labels.
func Kind(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, kind := range []error{
		ErrQueryNotFound, ErrTimeout, ErrInvalidURL, ErrMaxTriesReached,
		ErrIncorrectData, ErrProductsNotFound, ErrProductLinkNotFound,
		ErrProductNameNotFound, ErrSellingPriceNotFound, ErrSupplyPriceNotFound,
		ErrDeliveryFeeNotFound, ErrThumbnailNotFound, ErrOptionsNotFound,
		ErrTableNotFound, ErrTotalCountNotFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Label returns a stable metrics label for err's kind.
func Label(err error) string {
	switch Kind(err) {
	case ErrQueryNotFound:
		return "query_not_found"
	case ErrTimeout:
		return "timeout"
	case ErrInvalidURL:
		return "invalid_url"
	case ErrMaxTriesReached:
		return "max_tries_reached"
	case ErrIncorrectData:
		return "incorrect_data"
	case ErrProductsNotFound:
		return "products_not_found"
	case ErrProductLinkNotFound:
		return "product_link_not_found"
	case ErrProductNameNotFound:
		return "product_name_not_found"
	case ErrSellingPriceNotFound:
		return "selling_price_not_found"
	case ErrSupplyPriceNotFound:
		return "supply_price_not_found"
	case ErrDeliveryFeeNotFound:
		return "delivery_fee_not_found"
	case ErrThumbnailNotFound:
		return "thumbnail_not_found"
	case ErrOptionsNotFound:
		return "options_not_found"
	case ErrTableNotFound:
		return "table_not_found"
	case ErrTotalCountNotFound:
		return "total_count_not_found"
	case nil:
		return "other"
	}
	return "other"
}
