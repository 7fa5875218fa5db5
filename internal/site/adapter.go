package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/crawlkit/market-crawler/internal/browser"
	"github.com/crawlkit/market-crawler/internal/errs"
)

// Browser is the slice of browser capabilities an adapter needs to pull
// product pages. Satisfied by *browser.Browser and by fakes in tests.
type Browser interface {
	LoadContent(ctx context.Context, url string, opts browser.ContentOptions) (string, error)
}

// Adapter is one market site: how its listing pages are addressed, how
// products are found on them, and how a product page becomes output rows.
type Adapter interface {
	// Sitename identifies the market. It namespaces checkpoints and output.
	Sitename() string

	// Columns returns the output header in order.
	Columns() []string

	// PageURL returns the address of the pageno-th listing page of a
	// category URL. Page numbers start at 1.
	PageURL(categoryURL string, pageno int) string

	// ProductCount returns how many products the listing page shows. Zero
	// means the category is exhausted.
	ProductCount(doc Document) (int, error)

	// ProductLink returns the absolute URL of the idx-th product on the
	// listing page.
	ProductLink(doc Document, idx int) (string, error)

	// ProductID derives the stable identifier a product is checkpointed
	// under from its link.
	ProductID(link string) string

	// Extract pulls the product page behind link and returns one field map
	// per output row. Sites with per-option pricing return several rows.
	Extract(ctx context.Context, b Browser, link string) ([]map[string]string, error)
}

// Selectors drive the generic listing adapter. Optional fields left empty
// produce empty output columns instead of errors.
type Selectors struct {
	ProductList   string `json:"product_list"`
	ProductLink   string `json:"product_link"`
	LinkAttribute string `json:"link_attribute"`
	Name          string `json:"name"`
	SellingPrice  string `json:"selling_price"`
	SupplyPrice   string `json:"supply_price,omitempty"`
	DeliveryFee   string `json:"delivery_fee,omitempty"`
	Thumbnail     string `json:"thumbnail,omitempty"`
	Options       string `json:"options,omitempty"`
	TotalCount    string `json:"total_count,omitempty"`
}

// Profile is the JSON description of one market site.
type Profile struct {
	Sitename  string    `json:"sitename"`
	BaseURL   string    `json:"base_url"`
	PageParam string    `json:"page_param"`
	IDParam   string    `json:"id_param,omitempty"`
	Strategy  string    `json:"strategy,omitempty"` // "fetch", "visit" or "live"
	Columns   []string  `json:"columns"`
	Selectors Selectors `json:"selectors"`
}

// LoadProfile reads a site profile from a JSON file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

func (p *Profile) validate() error {
	switch {
	case p.Sitename == "":
		return fmt.Errorf("sitename is required")
	case p.BaseURL == "":
		return fmt.Errorf("base_url is required")
	case p.Selectors.ProductList == "":
		return fmt.Errorf("selectors.product_list is required")
	case p.Selectors.ProductLink == "":
		return fmt.Errorf("selectors.product_link is required")
	case len(p.Columns) == 0:
		return fmt.Errorf("columns is required")
	}
	return nil
}

// ListingAdapter implements Adapter from a declarative Profile. Markets
// whose pages fit the common listing/detail shape need no code of their
// own, only a profile file.
type ListingAdapter struct {
	profile *Profile
	base    *url.URL
	content browser.ContentOptions
}

func NewListingAdapter(profile *Profile) (*ListingAdapter, error) {
	if err := profile.validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(profile.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	content := browser.ContentOptions{Strategy: browser.FailureFetch}
	if profile.Strategy == "visit" {
		content.Strategy = browser.FailureVisit
	}

	return &ListingAdapter{profile: profile, base: base, content: content}, nil
}

func (a *ListingAdapter) Sitename() string { return a.profile.Sitename }

func (a *ListingAdapter) Columns() []string { return a.profile.Columns }

func (a *ListingAdapter) PageURL(categoryURL string, pageno int) string {
	param := a.profile.PageParam
	if param == "" {
		param = "page"
	}
	sep := "?"
	if strings.Contains(categoryURL, "?") {
		sep = "&"
	}
	return categoryURL + sep + param + "=" + strconv.Itoa(pageno)
}

func (a *ListingAdapter) ProductCount(doc Document) (int, error) {
	return doc.Count(a.profile.Selectors.ProductList)
}

func (a *ListingAdapter) ProductLink(doc Document, idx int) (string, error) {
	attr := a.profile.LinkAttribute()
	link, err := doc.NthAttr(a.profile.Selectors.ProductLink, idx, attr)
	if err != nil {
		return "", errs.New(errs.ErrProductLinkNotFound, err)
	}
	return a.absolute(link), nil
}

// LinkAttribute returns the attribute product links are read from,
// defaulting to href.
func (p *Profile) LinkAttribute() string {
	if p.Selectors.LinkAttribute != "" {
		return p.Selectors.LinkAttribute
	}
	return "href"
}

func (a *ListingAdapter) absolute(link string) string {
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return a.base.ResolveReference(ref).String()
}

// ProductID prefers the configured query parameter and falls back to the
// last path segment.
func (a *ListingAdapter) ProductID(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if a.profile.IDParam != "" {
		if id := parsed.Query().Get(a.profile.IDParam); id != "" {
			return id
		}
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	return segments[len(segments)-1]
}

// TotalCount reads the listing's advertised product total, when the site
// exposes one.
func (a *ListingAdapter) TotalCount(doc Document) (int, error) {
	sel := a.profile.Selectors.TotalCount
	if sel == "" {
		return 0, errs.New(errs.ErrTotalCountNotFound, nil)
	}
	text, err := doc.Text(sel)
	if err != nil {
		return 0, errs.New(errs.ErrTotalCountNotFound, err)
	}
	count, err := strconv.Atoi(digitsOnly(text))
	if err != nil {
		return 0, errs.New(errs.ErrTotalCountNotFound, err)
	}
	return count, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (a *ListingAdapter) Extract(ctx context.Context, b Browser, link string) ([]map[string]string, error) {
	if a.profile.Strategy == "live" {
		if pb, ok := b.(PageBrowser); ok {
			return a.extractLive(ctx, pb, link)
		}
	}

	html, err := b.LoadContent(ctx, link, a.content)
	if err != nil {
		return nil, err
	}

	doc, err := ParseHTML(html)
	if err != nil {
		return nil, err
	}

	fields, err := a.extractFields(doc, link)
	if err != nil {
		return nil, err
	}

	return a.expandOptions(doc, fields), nil
}

// extractFields reads the per-product fields off a detail page. Name and
// selling price are mandatory, everything else degrades to empty.
func (a *ListingAdapter) extractFields(doc Document, link string) (map[string]string, error) {
	sel := a.profile.Selectors

	name, err := doc.Text(sel.Name)
	if err != nil {
		return nil, errs.WithURL(errs.ErrProductNameNotFound, link, err)
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

	fields["supply_price"] = a.optionalText(doc, sel.SupplyPrice)
	fields["delivery_fee"] = a.optionalText(doc, sel.DeliveryFee)
	if sel.Thumbnail != "" {
		if src, err := doc.NthAttr(sel.Thumbnail, 0, "src"); err == nil {
			fields["thumbnail"] = a.absolute(src)
		} else {
			fields["thumbnail"] = ""
		}
	}

	return fields, nil
}

func (a *ListingAdapter) optionalText(doc Document, selector string) string {
	if selector == "" {
		return ""
	}
	text, err := doc.Text(selector)
	if err != nil {
		return ""
	}
	return text
}

// expandOptions clones the base fields once per product option. Products
// without options produce a single row with an empty option column.
func (a *ListingAdapter) expandOptions(doc Document, fields map[string]string) []map[string]string {
	sel := a.profile.Selectors.Options
	if sel == "" {
		fields["option"] = ""
		return []map[string]string{fields}
	}

	count, err := doc.Count(sel)
	if err != nil || count == 0 {
		fields["option"] = ""
		return []map[string]string{fields}
	}

	rows := make([]map[string]string, 0, count)
	for i := 0; i < count; i++ {
		option, err := doc.NthText(sel, i)
		if err != nil {
			continue
		}
		row := make(map[string]string, len(fields)+1)
		for k, v := range fields {
			row[k] = v
		}
		row["option"] = option
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		fields["option"] = ""
		return []map[string]string{fields}
	}
	return rows
}
