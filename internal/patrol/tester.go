package patrol

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// testURL runs one attempt of one URL on one page: navigate with
// progressive settle fallbacks, dismiss overlays, classify, run the
// role's check suite, evaluate, and capture evidence. Failures never
// escape: every outcome becomes a TestResult.
func (s *Service) testURL(ctx context.Context, page Page, u PatrolURL, dev Device, cfg Config) TestResult {
	start := time.Now()
	log := s.log.With(zap.String("url", u.URL), zap.String("name", u.Name), zap.String("device", dev.Name))

	if page.IsClosed() {
		return s.failResult(ctx, nil, u, dev, start, "page closed before navigation", true)
	}

	pageType := ClassifyPage(u.URL, u.Name)
	log.Debug("testing url", zap.String("page_type", string(pageType)))

	status, err := navigateProgressive(ctx, page, u.URL, cfg)
	responseTime := time.Since(start)
	if err != nil {
		infra := IsInfraError(err.Error())
		return s.failResult(ctx, page, u, dev, start, err.Error(), infra)
	}
	if status >= 400 {
		res := s.failResult(ctx, page, u, dev, start, fmt.Sprintf("HTTP %d - page not reachable", status), false)
		res.StatusCode = status
		res.ResponseTime = responseTime
		return res
	}

	page.Wait(cfg.SettleWait())

	// Liveness gate: a page that died during load short-circuits as an
	// infra failure instead of hanging on DOM calls.
	if page.IsClosed() {
		return s.failResult(ctx, nil, u, dev, start, "page closed during load", true)
	}

	children, err := page.BodyChildCount(ctx)
	if err != nil {
		return s.failResult(ctx, page, u, dev, start, err.Error(), IsInfraError(err.Error()))
	}
	if children == 0 {
		res := s.failResult(ctx, page, u, dev, start, "page body is empty", false)
		res.StatusCode = status
		res.ResponseTime = responseTime
		return res
	}

	if n := dismissPopups(ctx, page); n > 0 {
		log.Debug("dismissed overlays", zap.Int("count", n))
	}

	var checks []CheckDetail
	switch pageType {
	case PageProduct:
		checks = runProductChecks(ctx, page)
	case PageHomepage, PageLanding:
		checks = runHomepageChecks(ctx, page, cfg)
	}

	if page.IsClosed() {
		return s.failResult(ctx, nil, u, dev, start, "page closed during checks", true)
	}

	eval := EvaluateChecks(pageType, checks)
	details := FormatCheckDetails(pageType, eval, checks)
	finalStatus := CollapseVerdict(eval.Verdict)

	result := TestResult{
		URL:          u.URL,
		Name:         u.Name,
		Status:       finalStatus,
		StatusCode:   status,
		ResponseTime: responseTime,
		CheckDetails: details,
		Device:       &dev,
		Duration:     time.Since(start),
	}
	if finalStatus == StatusFail {
		result.ErrorMessage = details
	}

	s.captureEvidence(ctx, page, u, dev, cfg, &result)

	log.Info("url tested",
		zap.String("status", string(result.Status)),
		zap.String("verdict", string(eval.Verdict)),
		zap.Int("http_status", status),
		zap.Duration("response_time", responseTime))
	return result
}

// navigateProgressive loads a page with a degrading settle strategy:
// network idle first, then DOM-ready plus an extra wait, then the bare
// load event. The stricter strategies time out on chatty pages that
// never go idle.
func navigateProgressive(ctx context.Context, page Page, url string, cfg Config) (int, error) {
	status, err := page.Navigate(ctx, url, NavOptions{WaitUntil: WaitNetworkIdle, Timeout: cfg.NavTimeout()})
	if err == nil {
		return status, nil
	}

	fallbackTimeout := cfg.NavTimeout() * 2 / 3
	status, err = page.Navigate(ctx, url, NavOptions{WaitUntil: WaitDOMReady, Timeout: fallbackTimeout})
	if err == nil {
		page.Wait(3 * time.Second)
		return status, nil
	}

	status, err = page.Navigate(ctx, url, NavOptions{WaitUntil: WaitLoad, Timeout: fallbackTimeout})
	if err == nil {
		page.Wait(2 * time.Second)
	}
	return status, err
}

// failResult builds a failure result and still tries to capture a
// screenshot when the page is usable (evidence for diagnosis).
func (s *Service) failResult(ctx context.Context, page Page, u PatrolURL, dev Device, start time.Time, msg string, infra bool) TestResult {
	res := TestResult{
		URL:          u.URL,
		Name:         u.Name,
		Status:       StatusFail,
		ErrorMessage: msg,
		Device:       &dev,
		InfraError:   infra,
		ResponseTime: time.Since(start),
		Duration:     time.Since(start),
	}
	if infra {
		res.ErrorMessage = "infrastructure error: " + msg
	}
	if page != nil && !page.IsClosed() && s.shots != nil {
		if ref, err := s.shots.CaptureAndStore(ctx, page); err == nil {
			res.ScreenshotRef = ref
		} else {
			s.log.Debug("screenshot capture failed", zap.String("url", u.URL), zap.Error(err))
		}
	}
	return res
}

// captureEvidence attaches a screenshot and, when enabled, a visual
// diff summary to a finished result. Both are best effort.
func (s *Service) captureEvidence(ctx context.Context, page Page, u PatrolURL, dev Device, cfg Config, result *TestResult) {
	if s.shots == nil {
		return
	}
	ref, err := s.shots.CaptureAndStore(ctx, page)
	if err != nil {
		s.log.Debug("screenshot capture failed", zap.String("url", u.URL), zap.Error(err))
		return
	}
	result.ScreenshotRef = ref

	if !cfg.Visual.Enabled || s.visual == nil {
		return
	}
	diff, err := s.visual.Compare(ctx, ref, u.URL, dev.Type, cfg.Visual)
	if err != nil {
		s.log.Debug("visual comparison failed", zap.String("url", u.URL), zap.Error(err))
		return
	}
	result.VisualDiff = diff
}
