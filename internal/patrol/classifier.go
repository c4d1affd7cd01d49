package patrol

import (
	"net/url"
	"regexp"
	"strings"
)

// productIDSegment matches short catalog-id path segments like /y1811.
var productIDSegment = regexp.MustCompile(`/[a-z]\d+`)

// ClassifyPage assigns a page role from its URL and display name. Pure
// and deterministic; no I/O. Rules apply in priority order: product,
// homepage, landing, general.
func ClassifyPage(rawURL, name string) PageType {
	urlLower := strings.ToLower(rawURL)
	nameLower := strings.ToLower(name)

	if strings.Contains(urlLower, "/products/") ||
		strings.Contains(urlLower, "/product/") ||
		productIDSegment.MatchString(urlLower) ||
		strings.Contains(nameLower, "product") ||
		strings.Contains(nameLower, "产品") {
		return PageProduct
	}

	// Homepage requires the domain root path. A malformed URL just
	// skips the root-path test; later rules still apply.
	if parsed, err := url.Parse(rawURL); err == nil {
		if parsed.Path == "/" || parsed.Path == "" {
			return PageHomepage
		}
	}
	if strings.Contains(nameLower, "home") || strings.Contains(nameLower, "首页") {
		return PageHomepage
	}

	if strings.Contains(urlLower, "/deals") ||
		strings.Contains(urlLower, "/sale") ||
		strings.Contains(urlLower, "/promotion") ||
		strings.Contains(urlLower, "/campaign") ||
		strings.Contains(nameLower, "deal") ||
		strings.Contains(nameLower, "活动") ||
		strings.Contains(nameLower, "促销") {
		return PageLanding
	}

	if strings.Contains(nameLower, "landing") ||
		strings.Contains(nameLower, "落地页") ||
		strings.Contains(urlLower, "/pages/") ||
		strings.Contains(nameLower, "about") ||
		strings.Contains(nameLower, "关于") {
		return PageLanding
	}

	return PageGeneral
}
