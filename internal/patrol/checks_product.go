package patrol

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Selector tables for the product suite.
var (
	titleSelectors = []string{
		"h1",
		".product-title",
		`[class*="product-title"]`,
		`[class*="productTitle"]`,
	}
	productImageSelectors = []string{
		`img[class*="product"]`,
		".product-image img",
		`[class*="productImage"] img`,
		"main img",
	}
	// currentPriceSelectors label the live price explicitly and exclude
	// strikethrough/"was" markup.
	currentPriceSelectors = []string{
		`[class*="current-price"]`,
		`[class*="sale-price"]`,
		`.price:not(del):not(s):not([class*="was"]):not([class*="old"])`,
		`span[class*="price"]:not([class*="was"]):not([class*="old"]):not([class*="compare"])`,
		`[data-price]`,
	}
	largestFontScanSelectors = []string{
		"main span",
		"main div",
		`[class*="price"]`,
	}
	addToCartSelectors = []string{
		`button[class*="cart"]`,
		`button[class*="add-to"]`,
		".add-to-cart",
		`[class*="addToCart"]`,
		`button[class*="AddToCart"]`,
	}
	buyNowSelectors = []string{
		`button[class*="buy"]`,
		".buy-now",
		`[class*="buyNow"]`,
		`button[class*="BuyNow"]`,
	}
)

var (
	pricePattern        = regexp.MustCompile(`[$€£¥]\s*\d+(?:[.,]\d{2})?`)
	bareDecimalPattern  = regexp.MustCompile(`\b\d+\.\d{2}\b`)
	bareNumberPattern   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	strikethroughMarker = regexp.MustCompile(`(?i)\bwas\b|原价`)
)

// runProductChecks executes the product suite: title, image, price,
// add-to-cart, buy-now.
func runProductChecks(ctx context.Context, page Page) []CheckDetail {
	checks := []CheckDetail{
		checkProductTitle(ctx, page),
		checkProductImage(ctx, page),
		checkPrice(ctx, page),
		checkPurchaseButton(ctx, page, checkAddToCart, addToCartSelectors,
			"no usable add-to-cart button found"),
		checkPurchaseButton(ctx, page, checkBuyNow, buyNowSelectors,
			"no buy-now button (catalog may only support add-to-cart)"),
	}
	return checks
}

func checkProductTitle(ctx context.Context, page Page) CheckDetail {
	for _, sel := range titleSelectors {
		els, err := page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			title := strings.TrimSpace(el.Text)
			if el.Visible && title != "" {
				// Truncate on rune boundaries; titles are often CJK.
				if runes := []rune(title); len(runes) > 50 {
					title = string(runes[:50])
				}
				return CheckDetail{
					Name:       "title",
					Passed:     true,
					Message:    "title: " + title,
					Confidence: ConfidenceHigh,
				}
			}
		}
	}
	return CheckDetail{Name: "title", Passed: false, Message: "no product title found", Confidence: ConfidenceHigh}
}

func checkProductImage(ctx context.Context, page Page) CheckDetail {
	for _, sel := range productImageSelectors {
		els, err := page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if el.ImageComplete && el.NaturalWidth > 0 && el.NaturalHeight > 0 {
				return CheckDetail{
					Name:       "image",
					Passed:     true,
					Message:    fmt.Sprintf("product image loaded (%.0fx%.0f)", el.NaturalWidth, el.NaturalHeight),
					Confidence: ConfidenceHigh,
				}
			}
		}
	}
	return CheckDetail{
		Name:       "image",
		Passed:     false,
		Message:    "product image missing or not decoded",
		Confidence: ConfidenceHigh,
	}
}

// checkPrice runs the extraction strategies in order and stops at the
// first hit: JSON-LD structured data, DOM text near the title, labelled
// current-price selectors, then the largest-font numeric candidate.
// Each strategy carries its own confidence tier.
func checkPrice(ctx context.Context, page Page) CheckDetail {
	if price := priceFromJSONLD(ctx, page); price != "" {
		return priceDetail(price, "structured data", ConfidenceHigh)
	}
	if price := priceNearTitle(ctx, page); price != "" {
		return priceDetail(price, "near product title", ConfidenceMedium)
	}
	if price := priceFromLabelledSelectors(ctx, page); price != "" {
		return priceDetail(price, "labelled price element", ConfidenceHigh)
	}
	if price := priceFromLargestFont(ctx, page); price != "" {
		return priceDetail(price, "largest-font candidate", ConfidenceLow)
	}
	return CheckDetail{
		Name:       "price",
		Passed:     false,
		Message:    "no valid price information found",
		Confidence: ConfidenceMedium,
	}
}

func priceDetail(price, source string, conf Confidence) CheckDetail {
	return CheckDetail{
		Name:       "price",
		Passed:     true,
		Message:    fmt.Sprintf("price %s (%s)", price, source),
		Confidence: conf,
	}
}

// jsonLDProduct is the subset of a schema.org Product node the price
// extractor cares about. Offers may be an object or an array.
type jsonLDProduct struct {
	Type   string          `json:"@type"`
	Offers json.RawMessage `json:"offers"`
}

type jsonLDOffer struct {
	Price json.RawMessage `json:"price"`
}

func priceFromJSONLD(ctx context.Context, page Page) string {
	blobs, err := page.JSONLD(ctx)
	if err != nil {
		return ""
	}
	for _, blob := range blobs {
		var node jsonLDProduct
		if err := json.Unmarshal([]byte(blob), &node); err != nil {
			continue
		}
		if !strings.EqualFold(node.Type, "Product") || len(node.Offers) == 0 {
			continue
		}
		if p := offerPrice(node.Offers); p > 0 {
			return fmt.Sprintf("$%.2f", p)
		}
	}
	return ""
}

func offerPrice(raw json.RawMessage) float64 {
	var single jsonLDOffer
	if err := json.Unmarshal(raw, &single); err == nil {
		if p := rawPrice(single.Price); p > 0 {
			return p
		}
	}
	var many []jsonLDOffer
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, o := range many {
			if p := rawPrice(o.Price); p > 0 {
				return p
			}
		}
	}
	return 0
}

func rawPrice(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if p, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			return p
		}
	}
	return 0
}

func priceNearTitle(ctx context.Context, page Page) string {
	for _, sel := range titleSelectors {
		text, err := page.NearbyText(ctx, sel)
		if err != nil || text == "" {
			continue
		}
		if strikethroughMarker.MatchString(text) {
			// Ambiguous: the block mixes current and "was" prices.
			continue
		}
		if p := extractPriceText(text); p != "" {
			return p
		}
	}
	return ""
}

func priceFromLabelledSelectors(ctx context.Context, page Page) string {
	for _, sel := range currentPriceSelectors {
		els, err := page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if !el.Visible {
				continue
			}
			if p := extractPriceText(el.Text); p != "" {
				return p
			}
		}
	}
	return ""
}

func priceFromLargestFont(ctx context.Context, page Page) string {
	best := ""
	bestSize := 0.0
	for _, sel := range largestFontScanSelectors {
		els, err := page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if !el.Visible || el.FontSize <= bestSize {
				continue
			}
			if p := extractPriceText(el.Text); p != "" {
				best = p
				bestSize = el.FontSize
			}
		}
	}
	return best
}

// extractPriceText pulls a price out of free text: currency-tagged
// first, then a two-decimal number, then any number. Zero prices are
// rejected.
func extractPriceText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	match := pricePattern.FindString(text)
	if match == "" {
		match = bareDecimalPattern.FindString(text)
	}
	if match == "" {
		match = bareNumberPattern.FindString(text)
	}
	if match == "" || isZeroPrice(match) {
		return ""
	}
	return match
}

func isZeroPrice(s string) bool {
	trimmed := strings.TrimLeft(s, "$€£¥ ")
	p, err := strconv.ParseFloat(strings.ReplaceAll(trimmed, ",", ""), 64)
	return err == nil && p == 0
}

func checkPurchaseButton(ctx context.Context, page Page, name string, selectors []string, missingMsg string) CheckDetail {
	for _, sel := range selectors {
		els, err := page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if el.Visible && el.Enabled {
				return CheckDetail{
					Name:       name,
					Passed:     true,
					Message:    fmt.Sprintf("button available (%s)", sel),
					Confidence: ConfidenceHigh,
				}
			}
		}
	}
	return CheckDetail{Name: name, Passed: false, Message: missingMsg, Confidence: ConfidenceHigh}
}
