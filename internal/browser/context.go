package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"webpatrol/internal/patrol"
)

// deviceContext is one incognito browser context bound to a device
// profile. Every page it opens carries the profile's viewport and
// user agent.
type deviceContext struct {
	browser *rod.Browser
	dev     patrol.Device
	log     *zap.Logger
}

// NewPage opens a blank tab and applies the device emulation before
// handing it to the engine.
func (c *deviceContext) NewPage(ctx context.Context) (patrol.Page, error) {
	page, err := c.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             c.dev.Width,
		Height:            c.dev.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            c.dev.Type == patrol.DeviceMobile,
	}).Call(page); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("set viewport for %s: %w", c.dev.Name, err)
	}

	if c.dev.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: c.dev.UserAgent}); err != nil {
			c.log.Debug("set user agent failed",
				zap.String("device", c.dev.Name),
				zap.Error(err))
		}
	}

	return newRodPage(ctx, page), nil
}

// Close disposes the incognito context; Chrome tears down its
// remaining pages with it.
func (c *deviceContext) Close() error {
	return proto.TargetDisposeBrowserContext{
		BrowserContextID: c.browser.BrowserContextID,
	}.Call(c.browser)
}
