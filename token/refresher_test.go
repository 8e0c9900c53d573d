/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package token

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefresherRenewsBeforeExpiry(t *testing.T) {
	var fetches int32
	supplier, _ := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(`{"token":"renewed","sip_username":"agent42"}`))
	})

	renewed := make(chan *Credential, 1)
	refresher := NewRefresher(supplier, &RefresherConfig{
		RefreshMargin: 50 * time.Millisecond,
		RetryBackoff:  10 * time.Millisecond,
		FetchTimeout:  time.Second,
	}, func(c *Credential) {
		select {
		case renewed <- c:
		default:
		}
	})
	defer refresher.Stop()

	refresher.Start(&Credential{ExpiresAt: time.Now().Add(100 * time.Millisecond)})

	select {
	case cred := <-renewed:
		if cred.Token != "renewed" {
			t.Errorf("Expected renewed token, got %q", cred.Token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Refresh never fired")
	}
}

func TestRefresherRetriesOnFailure(t *testing.T) {
	var fetches int32
	supplier, _ := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&fetches, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"token":"second-try","sip_username":"agent42"}`))
	})

	renewed := make(chan *Credential, 1)
	errored := make(chan error, 1)
	refresher := NewRefresher(supplier, &RefresherConfig{
		RefreshMargin: time.Millisecond,
		RetryBackoff:  20 * time.Millisecond,
		FetchTimeout:  time.Second,
	}, func(c *Credential) {
		select {
		case renewed <- c:
		default:
		}
	})
	refresher.OnError(func(err error) {
		select {
		case errored <- err:
		default:
		}
	})
	defer refresher.Stop()

	refresher.Start(&Credential{ExpiresAt: time.Now()})

	select {
	case <-errored:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a failed refresh first")
	}

	select {
	case cred := <-renewed:
		if cred.Token != "second-try" {
			t.Errorf("Expected token from retry, got %q", cred.Token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry never succeeded")
	}
}

func TestRefresherNeverFiresAfterStop(t *testing.T) {
	var fetches int32
	supplier, _ := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(`{"token":"late","sip_username":"agent42"}`))
	})

	var fired int32
	refresher := NewRefresher(supplier, &RefresherConfig{
		RefreshMargin: time.Millisecond,
		RetryBackoff:  time.Millisecond,
		FetchTimeout:  time.Second,
	}, func(c *Credential) {
		atomic.AddInt32(&fired, 1)
	})

	refresher.Start(&Credential{ExpiresAt: time.Now().Add(50 * time.Millisecond)})
	refresher.Stop()

	time.Sleep(200 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Errorf("Callback fired %d times after Stop", n)
	}
}
