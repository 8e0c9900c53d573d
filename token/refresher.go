/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package token

import (
	"context"
	"sync"
	"time"

	"github.com/joshuapaschall/agentdesk/agentsdk"
)

// RefresherConfig holds configuration for the credential Refresher.
type RefresherConfig struct {
	// RefreshMargin is how long before expiry the refresh fires.
	RefreshMargin time.Duration
	// RetryBackoff is the fixed delay before retrying a failed refresh.
	RetryBackoff time.Duration
	// FetchTimeout bounds each refresh request.
	FetchTimeout time.Duration
}

// DefaultRefresherConfig returns a RefresherConfig with sensible defaults.
func DefaultRefresherConfig() *RefresherConfig {
	return &RefresherConfig{
		RefreshMargin: 5 * time.Minute,
		RetryBackoff:  60 * time.Second,
		FetchTimeout:  30 * time.Second,
	}
}

// Refresher renews a signaling credential before it expires. It maintains a
// single self-perpetuating timer: after every successful refresh the timer is
// rescheduled from the new expiry; after a failed refresh it is rescheduled
// on a fixed short backoff so a momentary credential-service hiccup never
// drops the agent off the phone system.
type Refresher struct {
	mu       sync.Mutex
	supplier *Supplier
	config   *RefresherConfig
	logger   agentsdk.Logger
	timer    *time.Timer
	stopped  bool
	onNew    func(*Credential)
	onError  func(error)
}

// NewRefresher creates a Refresher around the given Supplier. onNew is
// invoked with each successfully renewed credential.
func NewRefresher(supplier *Supplier, config *RefresherConfig, onNew func(*Credential)) *Refresher {
	if config == nil {
		config = DefaultRefresherConfig()
	}
	return &Refresher{
		supplier: supplier,
		config:   config,
		logger:   supplier.core.GetLogger(),
		onNew:    onNew,
	}
}

// OnError registers a callback invoked after each failed refresh attempt.
// The refresher keeps retrying regardless.
func (r *Refresher) OnError(cb func(error)) {
	r.mu.Lock()
	r.onError = cb
	r.mu.Unlock()
}

// Start schedules the first refresh based on the credential currently in use.
func (r *Refresher) Start(cred *Credential) {
	r.schedule(r.delayFor(cred))
}

// Stop cancels the pending refresh. No refresh fires after Stop returns;
// the liveness flag guards the window between the timer firing and the
// callback running.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// delayFor computes when the refresh should fire for the given credential.
func (r *Refresher) delayFor(cred *Credential) time.Duration {
	delay := cred.TimeToExpiry() - r.config.RefreshMargin
	if delay < 0 {
		delay = 0
	}
	return delay
}

// schedule arms the single refresh timer. Any previously armed timer is
// replaced, never stacked.
func (r *Refresher) schedule(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(d, r.refresh)
}

// refresh performs one renewal attempt and reschedules itself.
func (r *Refresher) refresh() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	onNew := r.onNew
	onError := r.onError
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.FetchTimeout)
	cred, err := r.supplier.Fetch(ctx)
	cancel()

	if err != nil {
		r.logger.Printf("token: refresh failed, retrying in %s: %v", r.config.RetryBackoff, err)
		if onError != nil {
			onError(err)
		}
		r.schedule(r.config.RetryBackoff)
		return
	}

	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}

	if onNew != nil {
		onNew(cred)
	}
	r.schedule(r.delayFor(cred))
}
