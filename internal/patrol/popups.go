package patrol

import (
	"context"
	"strings"
	"time"
)

// popupSelectors are overlay dismiss candidates, most specific first.
var popupSelectors = []string{
	`[class*="cookie"] button`,
	`[id*="cookie"] button`,
	`[class*="consent"] button`,
	`[class*="newsletter"] [class*="close"]`,
	`[class*="popup"] [class*="close"]`,
	`[class*="modal"] [class*="close"]`,
	`[aria-label="Close"]`,
	`[aria-label="close"]`,
}

// popupAcceptWords identify accept/dismiss controls by label.
var popupAcceptWords = []string{"accept", "agree", "got it", "ok", "close", "dismiss", "no thanks", "×"}

// dismissPopups best-effort removes cookie/newsletter overlays so they
// do not shadow the real page during checks. Never fails the test; at
// most maxDismissals clicks.
func dismissPopups(ctx context.Context, page Page) int {
	const maxDismissals = 3
	dismissed := 0

	for _, sel := range popupSelectors {
		if dismissed >= maxDismissals {
			break
		}
		els, err := page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if !el.Visible {
				continue
			}
			if !popupControlMatches(el.Text) && el.Text != "" {
				continue
			}
			if err := page.Click(ctx, sel); err == nil {
				dismissed++
				page.Wait(300 * time.Millisecond)
			}
			break
		}
	}
	return dismissed
}

func popupControlMatches(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	for _, w := range popupAcceptWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
