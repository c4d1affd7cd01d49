package patrol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func check(name string, passed bool, conf Confidence) CheckDetail {
	return CheckDetail{Name: name, Passed: passed, Confidence: conf}
}

func TestEvaluateChecksProductOverride(t *testing.T) {
	// Every other check passes, but with no purchase path the page is
	// broken regardless of pass rate.
	checks := []CheckDetail{
		check("title", true, ConfidenceHigh),
		check("image", true, ConfidenceHigh),
		check("price", true, ConfidenceHigh),
		check(checkAddToCart, false, ConfidenceHigh),
		check(checkBuyNow, false, ConfidenceHigh),
	}
	eval := EvaluateChecks(PageProduct, checks)
	assert.Equal(t, VerdictFail, eval.Verdict)
	assert.Contains(t, eval.Message, "purchase path")
}

func TestEvaluateChecksProductOneButtonSuffices(t *testing.T) {
	checks := []CheckDetail{
		check("title", true, ConfidenceHigh),
		check("image", true, ConfidenceHigh),
		check("price", true, ConfidenceHigh),
		check(checkAddToCart, true, ConfidenceHigh),
		check(checkBuyNow, false, ConfidenceHigh),
	}
	eval := EvaluateChecks(PageProduct, checks)
	assert.Equal(t, VerdictWarning, eval.Verdict, "4/5 = 80%% lands in the warning band")
}

func TestEvaluateChecksAllPassedLowConfidenceNotDowngraded(t *testing.T) {
	checks := []CheckDetail{
		check("navigation", true, ConfidenceHigh),
		check("banner", true, ConfidenceHigh),
		check("content-modules", true, ConfidenceHigh),
		check("footer", true, ConfidenceHigh),
		check("price", true, ConfidenceLow),
	}
	eval := EvaluateChecks(PageHomepage, checks)
	assert.Equal(t, VerdictPass, eval.Verdict)
	assert.Contains(t, eval.Message, "confidence", "uncertainty is noted, not punished")
}

func TestEvaluateChecksBands(t *testing.T) {
	tests := []struct {
		name    string
		passed  int
		total   int
		verdict Verdict
	}{
		{"all pass", 4, 4, VerdictPass},
		{"three quarters", 3, 4, VerdictWarning},
		{"sixty percent", 3, 5, VerdictWarning},
		{"half", 2, 4, VerdictFail},
		{"none", 0, 3, VerdictFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var checks []CheckDetail
			for i := 0; i < tt.total; i++ {
				checks = append(checks, check("c", i < tt.passed, ConfidenceHigh))
			}
			eval := EvaluateChecks(PageGeneral, checks)
			assert.Equal(t, tt.verdict, eval.Verdict)
		})
	}
}

func TestEvaluateChecksUncertainFailuresSoften(t *testing.T) {
	// Below 60%, but every failing check is a shaky heuristic: the
	// verdict softens to warning with a manual-review note.
	checks := []CheckDetail{
		check("banner", false, ConfidenceLow),
		check("content-modules", false, ConfidenceMedium),
		check("navigation", true, ConfidenceHigh),
	}
	eval := EvaluateChecks(PageHomepage, checks)
	assert.Equal(t, VerdictWarning, eval.Verdict)
	assert.Contains(t, eval.Message, "manual review")

	// One confident failure in the mix keeps the hard fail.
	checks[0].Confidence = ConfidenceHigh
	eval = EvaluateChecks(PageHomepage, checks)
	assert.Equal(t, VerdictFail, eval.Verdict)
}

func TestEvaluateChecksEmpty(t *testing.T) {
	eval := EvaluateChecks(PageGeneral, nil)
	assert.Equal(t, VerdictPass, eval.Verdict)
}

func TestCollapseVerdict(t *testing.T) {
	assert.Equal(t, StatusPass, CollapseVerdict(VerdictPass))
	assert.Equal(t, StatusFail, CollapseVerdict(VerdictWarning))
	assert.Equal(t, StatusFail, CollapseVerdict(VerdictFail))
}

func TestWarningVerdictPersistsAsFail(t *testing.T) {
	// A product page with one failed check lands in the warning band,
	// and anything short of a clean pass counts as a failed URL.
	checks := []CheckDetail{
		check("title", true, ConfidenceHigh),
		check("image", true, ConfidenceHigh),
		check("price", true, ConfidenceHigh),
		check(checkAddToCart, true, ConfidenceHigh),
		check(checkBuyNow, false, ConfidenceHigh),
	}
	eval := EvaluateChecks(PageProduct, checks)
	assert.Equal(t, VerdictWarning, eval.Verdict)
	assert.Equal(t, StatusFail, CollapseVerdict(eval.Verdict))
}

func TestFormatCheckDetails(t *testing.T) {
	checks := []CheckDetail{
		{Name: "navigation", Passed: true, Message: "found", Confidence: ConfidenceHigh},
		{Name: "banner", Passed: false, Message: "missing", Confidence: ConfidenceLow},
	}
	eval := EvaluateChecks(PageHomepage, checks)
	text := FormatCheckDetails(PageHomepage, eval, checks)

	assert.Contains(t, text, "page type: homepage")
	assert.Contains(t, text, "✓ navigation: found")
	assert.Contains(t, text, "✗ banner: missing")
	assert.Contains(t, text, "[confidence: low]")
	assert.False(t, strings.Contains(text, "navigation: found [confidence"),
		"high confidence is the default and stays unannotated")
}
