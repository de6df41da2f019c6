package pipeline

import (
	"fmt"
	"net/url"

	"github.com/maltedev/price-updater/internal/catalog"
)

type LookupTarget struct {
	ProductID string
	URL       string
}

// NewLookupTarget builds the product page address. When the product has a
// sku id it is added as skuParam, keeping any existing query parameters.
func NewLookupTarget(p catalog.Product, skuParam string) (LookupTarget, error) {
	u, err := url.Parse(p.Link)
	if err != nil {
		return LookupTarget{}, fmt.Errorf("invalid product link %q: %w", p.Link, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return LookupTarget{}, fmt.Errorf("invalid product link %q: not an absolute http url", p.Link)
	}

	if p.SkuID != "" && skuParam != "" {
		q := u.Query()
		q.Set(skuParam, p.SkuID)
		u.RawQuery = q.Encode()
	}

	return LookupTarget{ProductID: p.ID, URL: u.String()}, nil
}
