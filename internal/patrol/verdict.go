package patrol

import (
	"fmt"
	"strings"
)

const (
	checkAddToCart = "add-to-cart"
	checkBuyNow    = "buy-now"
)

// Evaluation is the outcome of folding a check list into a verdict.
type Evaluation struct {
	Verdict Verdict
	Message string
}

// EvaluateChecks folds a check list plus its confidence annotations
// into a tri-state verdict. Rules, in order: the product-page
// no-purchase-path override, 100% pass, 60-99% warning, <60% fail
// unless every failing check is uncertain.
func EvaluateChecks(pageType PageType, checks []CheckDetail) Evaluation {
	if len(checks) == 0 {
		return Evaluation{Verdict: VerdictPass, Message: "no checks applicable"}
	}

	passed := 0
	var uncertain bool
	for _, c := range checks {
		if c.Passed {
			passed++
		}
		if c.Confidence == ConfidenceMedium || c.Confidence == ConfidenceLow {
			uncertain = true
		}
	}
	passRate := float64(passed) / float64(len(checks)) * 100

	if pageType == PageProduct {
		cart := findCheck(checks, checkAddToCart)
		buy := findCheck(checks, checkBuyNow)
		if cart != nil && buy != nil && !cart.Passed && !buy.Passed {
			return Evaluation{
				Verdict: VerdictFail,
				Message: "product page has no usable purchase path (add-to-cart and buy-now both unavailable)",
			}
		}
	}

	switch {
	case passRate == 100:
		msg := "all checks passed"
		if uncertain {
			msg += " (some checks reported reduced confidence)"
		}
		return Evaluation{Verdict: VerdictPass, Message: msg}
	case passRate >= 60:
		return Evaluation{
			Verdict: VerdictWarning,
			Message: fmt.Sprintf("some checks did not pass (%d/%d)", passed, len(checks)),
		}
	default:
		if allFailuresUncertain(checks) {
			return Evaluation{
				Verdict: VerdictWarning,
				Message: fmt.Sprintf("checks failed (%d/%d) but all failures are low-confidence heuristics; manual review recommended", passed, len(checks)),
			}
		}
		return Evaluation{
			Verdict: VerdictFail,
			Message: fmt.Sprintf("multiple checks failed (%d/%d)", passed, len(checks)),
		}
	}
}

// CollapseVerdict maps the tri-state verdict onto the two-state status
// persisted on results. Only a clean pass stays a pass: warnings count
// as failing, with the warning text preserved in the check details.
func CollapseVerdict(v Verdict) Status {
	if v == VerdictPass {
		return StatusPass
	}
	return StatusFail
}

// FormatCheckDetails renders the check list as human-readable lines.
func FormatCheckDetails(pageType PageType, eval Evaluation, checks []CheckDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "page type: %s\n%s\n", pageType, eval.Message)
	if len(checks) > 0 {
		b.WriteString("\nchecks:\n")
	}
	for _, c := range checks {
		mark := "✗"
		if c.Passed {
			mark = "✓"
		}
		fmt.Fprintf(&b, "%s %s", mark, c.Name)
		if c.Message != "" {
			fmt.Fprintf(&b, ": %s", c.Message)
		}
		if c.Confidence != "" && c.Confidence != ConfidenceHigh {
			fmt.Fprintf(&b, " [confidence: %s]", c.Confidence)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func findCheck(checks []CheckDetail, name string) *CheckDetail {
	for i := range checks {
		if checks[i].Name == name {
			return &checks[i]
		}
	}
	return nil
}

func allFailuresUncertain(checks []CheckDetail) bool {
	for _, c := range checks {
		if !c.Passed && c.Confidence != ConfidenceMedium && c.Confidence != ConfidenceLow {
			return false
		}
	}
	return true
}
