package browser

import (
	"context"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// RequestTracker counts in-flight API calls on one page. Only fetch/XHR
// resource types feed the quiescence signal; static assets and scripts are
// covered by the image-load and DOM-stability signals instead.
//
// A tracker is owned by exactly one Session and must never be shared.
type RequestTracker struct {
	mu      sync.Mutex
	pending map[proto.NetworkRequestID]struct{}
	logger  *zap.Logger
}

// NewRequestTracker creates an idle tracker.
func NewRequestTracker(logger *zap.Logger) *RequestTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestTracker{
		pending: make(map[proto.NetworkRequestID]struct{}),
		logger:  logger,
	}
}

// Track registers CDP network lifecycle listeners on the page. Both finished
// and failed transitions clear a request: a failed call is just as quiescent
// as a completed one. Listeners run until ctx is cancelled.
func (t *RequestTracker) Track(ctx context.Context, page *rod.Page) error {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return err
	}

	wait := page.Context(ctx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Type != proto.NetworkResourceTypeXHR && ev.Type != proto.NetworkResourceTypeFetch {
				return
			}
			t.mu.Lock()
			t.pending[ev.RequestID] = struct{}{}
			t.mu.Unlock()
			t.logger.Debug("API request started",
				zap.String("id", string(ev.RequestID)),
				zap.String("url", ev.Request.URL))
		},
		func(ev *proto.NetworkLoadingFinished) {
			t.remove(ev.RequestID, "finished")
		},
		func(ev *proto.NetworkLoadingFailed) {
			t.remove(ev.RequestID, "failed")
		},
	)
	go wait()
	return nil
}

func (t *RequestTracker) remove(id proto.NetworkRequestID, outcome string) {
	t.mu.Lock()
	_, tracked := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if tracked {
		t.logger.Debug("API request settled",
			zap.String("id", string(id)),
			zap.String("outcome", outcome))
	}
}

// Pending returns the current in-flight API call count.
func (t *RequestTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
