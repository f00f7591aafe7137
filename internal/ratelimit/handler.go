package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"landsat-desktop/internal/common"
	"landsat-desktop/internal/logging"
)

// RetryStrategy defines the backoff intervals for rate limit retries
type RetryStrategy struct {
	Intervals  []time.Duration
	MaxRetries int
}

// DefaultRetryStrategy returns the default backoff strategy. The tile
// service throttles per minute, so the waits are short.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			30 * time.Second,
			1 * time.Minute,
			2 * time.Minute,
			5 * time.Minute,
			10 * time.Minute,
		},
		MaxRetries: 10,
	}
}

// RateLimitEvent represents a rate limit occurrence
type RateLimitEvent struct {
	Timestamp    time.Time `json:"timestamp" ts_type:"string"`
	Provider     string    `json:"provider"`
	StatusCode   int       `json:"statusCode"`   // 429, 403 or 509
	RetryAttempt int       `json:"retryAttempt"` // 0 = first occurrence
	NextRetryAt  time.Time `json:"nextRetryAt" ts_type:"string"`
	Message      string    `json:"message"`
}

// Handler tracks rate limit state per provider. A provider stays limited
// until NextRetryAt; a later successful response clears it.
type Handler struct {
	mu               sync.RWMutex
	rateLimited      map[string]*RateLimitEvent
	strategy         *RetryStrategy
	onRateLimit      func(event RateLimitEvent)
	onRetry          func(event RateLimitEvent)
	onRecovered      func(provider string)
	autoRetryEnabled bool
	now              func() time.Time
	log              *logrus.Entry
	ctx              context.Context
	cancel           context.CancelFunc
}

// NewHandler creates a new rate limit handler
func NewHandler(strategy *RetryStrategy) *Handler {
	if strategy == nil || len(strategy.Intervals) == 0 {
		strategy = DefaultRetryStrategy()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		rateLimited:      make(map[string]*RateLimitEvent),
		strategy:         strategy,
		autoRetryEnabled: true,
		now:              time.Now,
		log:              logging.For("RateLimit"),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetOnRateLimit sets the callback for rate limit events
func (h *Handler) SetOnRateLimit(callback func(event RateLimitEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRetry sets the callback for retry attempts
func (h *Handler) SetOnRetry(callback func(event RateLimitEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRetry = callback
}

// SetOnRecovered sets the callback for recovery from rate limit
func (h *Handler) SetOnRecovered(callback func(provider string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsRateLimited reports whether requests to provider should be held back
func (h *Handler) IsRateLimited(provider string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	event, limited := h.rateLimited[provider]
	if !limited {
		return false
	}
	if h.autoRetryEnabled && !h.now().Before(event.NextRetryAt) {
		// Backoff elapsed, let the next request probe the service
		return false
	}
	return true
}

// CheckResponse analyzes an HTTP response for rate limit indicators
func (h *Handler) CheckResponse(provider string, resp *http.Response) bool {
	isRateLimited := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == 509 // Bandwidth Limit Exceeded

	if !isRateLimited {
		h.checkRecovery(provider)
		return false
	}

	h.recordRateLimit(provider, resp.StatusCode)
	return true
}

func (h *Handler) recordRateLimit(provider string, statusCode int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	retryAttempt := 0
	if existing, exists := h.rateLimited[provider]; exists {
		retryAttempt = existing.RetryAttempt + 1
	}

	interval := h.strategy.Intervals[len(h.strategy.Intervals)-1]
	if retryAttempt < len(h.strategy.Intervals) {
		interval = h.strategy.Intervals[retryAttempt]
	}

	now := h.now()
	nextRetryAt := now.Add(interval)

	event := RateLimitEvent{
		Timestamp:    now,
		Provider:     provider,
		StatusCode:   statusCode,
		RetryAttempt: retryAttempt,
		NextRetryAt:  nextRetryAt,
		Message:      buildMessage(provider, statusCode, retryAttempt, interval),
	}
	h.rateLimited[provider] = &event

	h.log.Warnf("%s rate limited (attempt %d). Next retry at %s",
		provider, retryAttempt, nextRetryAt.Format(time.RFC3339))

	if h.onRateLimit != nil {
		go h.onRateLimit(event)
	}

	if h.autoRetryEnabled && retryAttempt < h.strategy.MaxRetries {
		go h.scheduleRetry(provider, event, interval)
	}
}

// scheduleRetry notifies listeners once the backoff has elapsed
func (h *Handler) scheduleRetry(provider string, event RateLimitEvent, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		h.mu.RLock()
		current, exists := h.rateLimited[provider]
		stale := !exists || !current.Timestamp.Equal(event.Timestamp)
		onRetry := h.onRetry
		h.mu.RUnlock()
		if stale {
			return
		}

		h.log.Infof("Retrying %s after %s wait", provider, wait)
		if onRetry != nil {
			go onRetry(event)
		}
	case <-h.ctx.Done():
	}
}

func (h *Handler) checkRecovery(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rateLimited[provider]; exists {
		delete(h.rateLimited, provider)
		h.log.Infof("%s rate limit cleared, tiles resumed", provider)

		if h.onRecovered != nil {
			go h.onRecovered(provider)
		}
	}
}

// ManualRetry clears the rate limit of provider so the next request goes through
func (h *Handler) ManualRetry(provider string) {
	h.mu.Lock()
	event, exists := h.rateLimited[provider]
	if !exists {
		h.mu.Unlock()
		return
	}
	delete(h.rateLimited, provider)
	onRetry := h.onRetry
	h.mu.Unlock()

	h.log.Infof("Manual retry requested for %s", provider)
	if onRetry != nil {
		go onRetry(*event)
	}
}

// SetAutoRetry enables or disables automatic retries
func (h *Handler) SetAutoRetry(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoRetryEnabled = enabled
}

// GetCurrentState returns a copy of the rate limit state of provider, nil when not limited
func (h *Handler) GetCurrentState(provider string) *RateLimitEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event, exists := h.rateLimited[provider]; exists {
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

func buildMessage(provider string, statusCode int, retryAttempt int, wait time.Duration) string {
	providerName := provider
	if provider == common.ProviderLandsat {
		providerName = common.DisplayNameLandsat
	}

	if retryAttempt == 0 {
		return fmt.Sprintf(
			"%s tile service rate limit detected (HTTP %d). Imagery paused.\n\n"+
				"This usually happens when panning quickly over large areas. "+
				"Tiles resume automatically in %s, or click 'Retry Now'.",
			providerName, statusCode, wait.Round(time.Second))
	}
	return fmt.Sprintf(
		"%s tile service still rate limited (retry attempt %d).\n\n"+
			"Next automatic retry in %s.",
		providerName, retryAttempt+1, wait.Round(time.Second))
}

// Close shuts down the rate limit handler
func (h *Handler) Close() {
	h.cancel()
}
