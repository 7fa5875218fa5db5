package site

import (
	"context"
	"errors"

	"github.com/playwright-community/playwright-go"

	"github.com/crawlkit/market-crawler/internal/errs"
	"github.com/crawlkit/market-crawler/internal/result"
)

// PageBrowser loads live pages. Sites whose product fields only render
// after script execution need a real page, not a markup snapshot.
type PageBrowser interface {
	LoadPage(ctx context.Context, url string) (playwright.Page, error)
}

// renderTries bounds how often a lazily rendered field is re-read before
// the product is declared broken.
const renderTries = 4

// extractLive drives a full page load and reads fields off the live DOM.
// The page is nudged with a scroll between read attempts so content that
// renders on visibility gets a chance to appear.
func (a *ListingAdapter) extractLive(ctx context.Context, pb PageBrowser, link string) ([]map[string]string, error) {
	page, err := pb.LoadPage(ctx, link)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	doc := NewPageDocument(page)
	nudge := func(ctx context.Context) error {
		_, err := page.Evaluate("() => window.scrollBy(0, document.body.scrollHeight)")
		return err
	}
	return a.extractRendered(ctx, doc, nudge, link)
}

// extractRendered reads the per-product fields off a live document,
// re-reading the name while it renders blank. Exhausting the render
// attempts escalates to the typed missing-name error.
func (a *ListingAdapter) extractRendered(ctx context.Context, doc Document, nudge func(ctx context.Context) error, link string) ([]map[string]string, error) {
	sel := a.profile.Selectors

	name, err := result.RetryWhile(ctx,
		func(ctx context.Context) (string, error) {
			text, err := doc.Text(sel.Name)
			if errors.Is(err, errs.ErrQueryNotFound) {
				return "", nil
			}
			return text, err
		},
		func(text string) bool { return text == "" },
		nudge,
		renderTries,
	)
	if err != nil {
		if errors.Is(err, errs.ErrMaxTriesReached) {
			return nil, errs.WithURL(errs.ErrProductNameNotFound, link, err)
		}
		return nil, err
	}

	price, err := doc.Text(sel.SellingPrice)
	if err != nil {
		return nil, errs.WithURL(errs.ErrSellingPriceNotFound, link, err)
	}

	fields := map[string]string{
		"name":          name,
		"selling_price": price,
		"url":           link,
	}

	supply, err := a.capturedText(ctx, doc, sel.SupplyPrice)
	if err != nil {
		return nil, err
	}
	fields["supply_price"] = supply

	fee, err := a.capturedText(ctx, doc, sel.DeliveryFee)
	if err != nil {
		return nil, err
	}
	fields["delivery_fee"] = fee

	if sel.Thumbnail != "" {
		if src, err := doc.NthAttr(sel.Thumbnail, 0, "src"); err == nil {
			fields["thumbnail"] = a.absolute(src)
		} else {
			fields["thumbnail"] = ""
		}
	}

	return a.expandOptions(doc, fields), nil
}

// capturedText reads an optional field, containing the expected-absence
// kind so a missing selector degrades to empty. Anything else (a dead
// page handle, a protocol error) still propagates.
func (a *ListingAdapter) capturedText(ctx context.Context, doc Document, selector string) (string, error) {
	if selector == "" {
		return "", nil
	}
	res, err := result.Capture(func(ctx context.Context) (string, error) {
		return doc.Text(selector)
	}, errs.ErrQueryNotFound)(ctx)
	if err != nil {
		return "", err
	}
	return res.Or(""), nil
}
