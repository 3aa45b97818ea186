package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/GriffinCanCode/scriptmonkey/internal/shared/id"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/registry"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/sandbox"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Visit is the outcome of loading one page.
type Visit struct {
	SessionID   id.SessionID           `json:"session_id"`
	PageID      id.PageID              `json:"page_id"`
	URL         string                 `json:"url"`
	Title       string                 `json:"title"`
	HTML        string                 `json:"html"`
	Status      int                    `json:"status,omitempty"`
	ContentType string                 `json:"content_type,omitempty"`
	Injections  []Injection            `json:"injections"`
	Console     []sandbox.LogEntry     `json:"console"`
	Changes     []sandbox.DOMChange    `json:"changes"`
	Tabs        []string               `json:"tabs"`
	Menu        []*sandbox.MenuCommand `json:"menu"`
}

// Injection reports one script run on a page.
type Injection struct {
	Script string                 `json:"script"`
	Key    string                 `json:"key"`
	Errors []*sandbox.ScriptError `json:"errors,omitempty"`
	Failed string                 `json:"failed,omitempty"`
}

// pageData holds a fetched document.
type pageData struct {
	Body        string
	Status      int
	ContentType string
	FinalURL    string
}

// Navigate fetches target and opens it in the session, creating the
// session when sid is empty or unknown.
func (p *Provider) Navigate(ctx context.Context, sid id.SessionID, target string) (visit *Visit, err error) {
	span, ctx := p.tracer.Start(ctx, "browser.navigate")
	span.SetTag("url", target)
	defer func() { span.End(err) }()

	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("invalid url %q", target)
	}
	session := p.sessions.getOrCreate(sid)

	page, err := p.fetchPage(ctx, u, session)
	if err != nil {
		return nil, err
	}
	visit, err = p.open(ctx, session, page.FinalURL, page.Body)
	if err != nil {
		return nil, err
	}
	visit.Status = page.Status
	visit.ContentType = page.ContentType
	return visit, nil
}

// Open injects into the supplied document as if it had been loaded from
// pageURL.
func (p *Provider) Open(ctx context.Context, sid id.SessionID, pageURL, html string) (visit *Visit, err error) {
	span, ctx := p.tracer.Start(ctx, "browser.open")
	span.SetTag("url", pageURL)
	defer func() { span.End(err) }()

	return p.open(ctx, p.sessions.getOrCreate(sid), pageURL, html)
}

func (p *Provider) fetchPage(ctx context.Context, target *url.URL, session *Session) (*pageData, error) {
	if p.client == nil {
		return nil, ErrNoClient
	}
	resp, err := p.client.Do(ctx, &fetch.Request{
		Method: "GET",
		URL:    target.String(),
		Header: session.requestHeaders(target),
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, &fetch.StatusError{URL: target.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}
	session.storeCookies(target.Host, resp.Header)

	final := resp.FinalURL
	if final == "" {
		final = target.String()
	}
	contentType := resp.Header.Get("Content-Type")
	return &pageData{
		Body:        sandbox.DecodeText(resp.Body, "", contentType),
		Status:      resp.StatusCode,
		ContentType: contentType,
		FinalURL:    final,
	}, nil
}

func (p *Provider) open(ctx context.Context, session *Session, pageURL, html string) (*Visit, error) {
	page, err := p.sandbox.NewPage(sandbox.PageOptions{URL: pageURL, HTML: html, UI: session})
	if err != nil {
		return nil, fmt.Errorf("failed to build page: %w", err)
	}
	session.swap(page, pageURL)

	if p.pageScripts {
		p.runPageScripts(page, html)
	}

	scripts := p.registry.RunnableAt(pageURL)
	injections := make([]Injection, 0, len(scripts))
	for _, s := range scripts {
		inj := Injection{Script: s.ID(), Key: registry.Key(s)}
		span, _ := p.tracer.Start(ctx, "browser.inject")
		span.SetTag("script", s.ID())
		c, err := p.sandbox.Inject(page, s)
		span.End(err)
		if err != nil {
			p.logger.Warn("injection failed", zap.String("script", s.ID()), zap.String("url", pageURL), zap.Error(err))
			inj.Failed = err.Error()
		}
		if c != nil {
			inj.Errors = c.Errors()
		}
		injections = append(injections, inj)
	}

	if err := p.settle(ctx, page); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	markup, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML: %w", err)
	}

	title := page.Title()
	if title == "" {
		if u, err := url.Parse(pageURL); err == nil {
			title = u.Host
		}
	}
	p.logger.Debug("page opened",
		zap.String("session", session.ID().String()),
		zap.String("url", pageURL),
		zap.Int("injected", len(injections)))

	return &Visit{
		SessionID:  session.ID(),
		PageID:     page.ID(),
		URL:        pageURL,
		Title:      title,
		HTML:       markup,
		Injections: injections,
		Console:    page.Console(),
		Changes:    page.Changes(),
		Tabs:       session.Tabs(),
		Menu:       session.MenuCommands(),
	}, nil
}

// settle drains the page's deferred work, bounded by the settle timeout.
// Work still pending at the deadline stays queued for the next settle.
func (p *Provider) settle(ctx context.Context, page *sandbox.Page) error {
	ctx, cancel := context.WithTimeout(ctx, p.settleTimeout)
	defer cancel()
	start := time.Now()
	err := page.Settle(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		p.logger.Warn("page did not settle", zap.String("page", page.ID().String()), zap.Duration("after", time.Since(start)))
	}
	return err
}

// runPageScripts evaluates the document's inline scripts as untrusted page
// code. External scripts are not loaded.
func (p *Provider) runPageScripts(page *sandbox.Page, html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		if typ, ok := s.Attr("type"); ok && typ != "" && !strings.Contains(typ, "javascript") {
			return
		}
		if _, err := page.RunPageScript(fmt.Sprintf("%s#script%d", page.URL(), i), s.Text()); err != nil {
			p.logger.Debug("page script failed", zap.String("url", page.URL()), zap.Int("index", i), zap.Error(err))
		}
	})
}
