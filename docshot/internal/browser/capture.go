package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Viewport is the emulated window size. Captures extend to the full
// scrollable height regardless.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// CaptureOptions holds per-capture tweaks.
type CaptureOptions struct {
	// HideSelectors are hidden (visibility: hidden) before capturing, to mask
	// dynamic regions like timestamps or cookie banners.
	HideSelectors []string
}

// Capture opens pageURL in a fresh incognito context, waits for network
// idle plus the settle delay, and returns a full-page PNG.
func (m *Manager) Capture(ctx context.Context, pageURL string, vp Viewport, opts CaptureOptions) ([]byte, error) {
	m.mu.Lock()
	b, err := m.ensureLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}

	session, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("%w: incognito: %v", ErrCaptureFailure, err)
	}
	defer session.Close()

	page, err := m.newPage(session)
	if err != nil {
		return nil, fmt.Errorf("%w: create page: %v", ErrCaptureFailure, err)
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("%w: set viewport: %v", ErrCaptureFailure, err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		router, err := applyResourceBlocking(page, m.cfg.ResourceBlocking)
		if err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		} else {
			defer router.Stop()
		}
	}

	if err := m.navigate(ctx, page, pageURL); err != nil {
		return nil, err
	}

	if err := sleepCtx(ctx, m.cfg.Settle); err != nil {
		return nil, fmt.Errorf("%w: settle: %v", ErrCaptureFailure, err)
	}

	shotCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()
	p := page.Context(shotCtx)

	if len(opts.HideSelectors) > 0 {
		if err := hideSelectors(p, opts.HideSelectors); err != nil {
			m.cfg.Logger.Warn("browser: hide selectors failed", "url", pageURL, "error", err)
		}
	}

	buf, err := p.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: screenshot %s: %v", ErrCaptureFailure, pageURL, err)
	}
	return buf, nil
}

func (m *Manager) newPage(session *rod.Browser) (*rod.Page, error) {
	if *m.cfg.Stealth {
		return stealth.Page(session)
	}
	return session.Page(proto.TargetCreateTarget{URL: ""})
}

// navigate loads pageURL and waits until no request has been in flight for
// IdleWindow, bounded by NavTimeout.
func (m *Manager) navigate(ctx context.Context, page *rod.Page, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)

	waitIdle := p.WaitRequestIdle(m.cfg.IdleWindow, nil, nil, nil)
	if err := p.Navigate(pageURL); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", ErrCaptureFailure, pageURL, err)
	}
	waitIdle()

	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: wait load %s: %v", ErrCaptureFailure, pageURL, err)
	}
	return nil
}

func hideSelectors(p *rod.Page, selectors []string) error {
	css := strings.Join(selectors, ",\n") + " { visibility: hidden !important; }"
	_, err := p.Eval(`(css) => {
		const s = document.createElement('style');
		s.textContent = css;
		document.head.appendChild(s);
	}`, css)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
