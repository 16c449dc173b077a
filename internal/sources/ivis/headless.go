package ivis

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// browserLogin drives the login form in headless Chrome and exports the
// resulting session cookies.
type browserLogin struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

func newBrowserLogin(cfg Config) *browserLogin {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &browserLogin{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
}

// Close cancels the allocator context.
func (b *browserLogin) Close() {
	b.allocCancel()
}

// Login submits the form in the browser and returns the browser's cookies
// so the caller can continue the session over plain HTTP.
func (b *browserLogin) Login(ctx context.Context) ([]*http.Cookie, error) {
	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, 60*time.Second)
	defer cancel()

	var browserCookies []*http.Cookie
	actions := []chromedp.Action{
		chromedp.Navigate(b.cfg.BaseURL + "/login"),
		chromedp.WaitVisible(`input[name=username]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name=username]`, b.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name=password]`, b.cfg.Password, chromedp.ByQuery),
		chromedp.Submit(`input[name=password]`, chromedp.ByQuery),
		chromedp.WaitNotPresent(`input[name=password]`, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return fmt.Errorf("read browser cookies: %w", err)
			}
			for _, c := range cookies {
				browserCookies = append(browserCookies, &http.Cookie{
					Name:   c.Name,
					Value:  c.Value,
					Path:   c.Path,
					Domain: c.Domain,
					Secure: c.Secure,
				})
			}
			return nil
		}),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return browserCookies, nil
}
