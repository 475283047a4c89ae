// Package poll watches a page for the end of a streaming chat turn.
//
// There is no authoritative completion event: the poller samples observable
// DOM signals on a fixed interval and applies a completion predicate. The
// page mutates underneath it, so every tick re-queries from scratch and
// never reuses element handles.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/dom"
)

// CaptureFunc is invoked exactly once when a session detects completion.
type CaptureFunc func(ctx context.Context, doc dom.Document, desc *adapter.Descriptor)

// Poller runs at most one poll session at a time. Starting a new session
// preempts the previous one: its timers are cancelled, not queued behind.
type Poller struct {
	interval time.Duration
	timeout  time.Duration
	capture  CaptureFunc
	logger   *slog.Logger

	mu      sync.Mutex
	current *pollSession
}

type pollSession struct {
	doc       dom.Document
	desc      *adapter.Descriptor
	startedAt time.Time
	cancel    chan struct{}
	stopOnce  sync.Once
	done      sync.WaitGroup
}

// New creates a poller. interval is the sampling period, timeout the
// safety bound on total session lifetime.
func New(interval, timeout time.Duration, capture CaptureFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		interval: interval,
		timeout:  timeout,
		capture:  capture,
		logger:   logger,
	}
}

// Start begins a poll session for one approved submission, cancelling any
// session still running.
func (p *Poller) Start(ctx context.Context, doc dom.Document, desc *adapter.Descriptor) {
	s := &pollSession{
		doc:       doc,
		desc:      desc,
		startedAt: time.Now(),
		cancel:    make(chan struct{}),
	}

	p.mu.Lock()
	prev := p.current
	p.current = s
	p.mu.Unlock()

	if prev != nil {
		prev.stop()
		p.logger.Info("Previous poll session superseded")
	}

	s.done.Add(1)
	go p.run(ctx, s)
	p.logger.Info("Poll session started", "interval", p.interval, "timeout", p.timeout)
}

// Stop cancels the active session, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	s := p.current
	p.current = nil
	p.mu.Unlock()

	if s != nil {
		s.stop()
	}
}

// Active reports whether a poll session is currently live.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

func (s *pollSession) stop() {
	s.stopOnce.Do(func() { close(s.cancel) })
	s.done.Wait()
}

func (p *Poller) run(ctx context.Context, s *pollSession) {
	defer s.done.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Independent safety bound: pages that never clear their streaming
	// affordance must not pin a session forever.
	safety := time.NewTimer(p.timeout)
	defer safety.Stop()

	for {
		select {
		case <-ctx.Done():
			p.clear(s)
			return
		case <-s.cancel:
			return
		case <-safety.C:
			p.logger.Warn("Poll session timed out without completion", "elapsed", time.Since(s.startedAt))
			p.clear(s)
			return
		case <-ticker.C:
			if Finished(s.doc, s.desc) {
				p.logger.Info("Turn complete", "elapsed", time.Since(s.startedAt))
				p.clear(s)
				// Detached: capture retries must never delay the
				// next poll session.
				go p.capture(ctx, s.doc, s.desc)
				return
			}
		}
	}
}

// clear removes s as the current session if it still is.
func (p *Poller) clear(s *pollSession) {
	p.mu.Lock()
	if p.current == s {
		p.current = nil
	}
	p.mu.Unlock()
}

// Finished is the completion predicate: the stop control is absent or
// invisible, no streaming indicator is present, and both message lists are
// non-empty. Hidden-but-present stop nodes do not count as a stop control.
func Finished(doc dom.Document, desc *adapter.Descriptor) bool {
	stop := dom.FirstMatch(doc, desc.Stop)
	if stop != nil && stop.Visible() {
		return false
	}

	if desc.Streaming != "" && doc.Query(desc.Streaming) != nil {
		return false
	}

	users := dom.FirstMatchAll(doc, desc.UserMsg)
	assistants := dom.FirstMatchAll(doc, desc.AssistantMsg)
	return len(users) > 0 && len(assistants) > 0
}
