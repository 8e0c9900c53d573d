/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
)

// captureWriter records every RTP packet written to it.
type captureWriter struct {
	mu      sync.Mutex
	packets []*rtp.Packet
}

func (w *captureWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *p
	w.packets = append(w.packets, &cp)
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.packets)
}

func (w *captureWriter) packet(i int) *rtp.Packet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packets[i]
}

func waitForPackets(t *testing.T, w *captureWriter, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected at least %d packets, got %d", n, w.count())
}

func TestTonePlayerFrames(t *testing.T) {
	w := &captureWriter{}
	tp := NewTonePlayer(w)
	defer tp.Stop()

	if err := tp.Play(ToneRingback); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	waitForPackets(t, w, 3)
	tp.Stop()

	first := w.packet(0)
	if len(first.Payload) != samplesPerFrame {
		t.Errorf("Expected %d byte µ-law frames, got %d", samplesPerFrame, len(first.Payload))
	}
	if first.PayloadType != 0 {
		t.Errorf("Expected PCMU payload type 0, got %d", first.PayloadType)
	}
	if !first.Marker {
		t.Error("Expected marker on the first packet of a tone")
	}

	second := w.packet(1)
	if second.SequenceNumber != first.SequenceNumber+1 {
		t.Errorf("Expected consecutive sequence numbers, got %d then %d",
			first.SequenceNumber, second.SequenceNumber)
	}
	if second.Timestamp != first.Timestamp+samplesPerFrame {
		t.Errorf("Expected timestamps to advance by %d, got %d then %d",
			samplesPerFrame, first.Timestamp, second.Timestamp)
	}
}

func TestTonePlayerSingleTone(t *testing.T) {
	w := &captureWriter{}
	tp := NewTonePlayer(w)
	defer tp.Stop()

	if err := tp.Play(ToneRingback); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := tp.Playing(); got != ToneRingback {
		t.Errorf("Expected ringback playing, got %q", got)
	}

	// A second Play replaces the first rather than layering over it.
	if err := tp.Play(ToneBusy); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := tp.Playing(); got != ToneBusy {
		t.Errorf("Expected busy playing, got %q", got)
	}
}

func TestTonePlayerStopIsIdempotent(t *testing.T) {
	w := &captureWriter{}
	tp := NewTonePlayer(w)

	if err := tp.Play(ToneHold); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	tp.Stop()
	tp.Stop() // second stop must not panic or wedge
	if got := tp.Playing(); got != "" {
		t.Errorf("Expected silence after Stop, got %q", got)
	}

	stopped := w.count()
	time.Sleep(100 * time.Millisecond)
	if w.count() > stopped+1 {
		t.Errorf("Packets kept flowing after Stop: %d then %d", stopped, w.count())
	}
}

func TestOneShotToneFinishes(t *testing.T) {
	w := &captureWriter{}
	tp := NewTonePlayer(w)
	defer tp.Stop()

	if err := tp.Play(ToneConnected); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	// connected is a 200 ms beep; it should clear itself shortly after
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tp.Playing() == "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("One-shot tone never finished, still %q", tp.Playing())
}

func TestUnknownTone(t *testing.T) {
	tp := NewTonePlayer(&captureWriter{})
	if err := tp.Play(Tone("klaxon")); err == nil {
		t.Fatal("Expected error for unknown tone")
	}
}

func TestToneCadences(t *testing.T) {
	tests := []struct {
		tone Tone
		loop bool
	}{
		{ToneRingback, true},
		{ToneBusy, true},
		{ToneHold, true},
		{ToneConnected, false},
		{ToneDisconnected, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.tone), func(t *testing.T) {
			frames, loop, err := toneFrames(tc.tone)
			if err != nil {
				t.Fatalf("toneFrames failed: %v", err)
			}
			if loop != tc.loop {
				t.Errorf("Expected loop=%v", tc.loop)
			}
			if len(frames) == 0 {
				t.Fatal("Expected at least one frame")
			}
			for i, f := range frames {
				if len(f) != samplesPerFrame {
					t.Fatalf("Frame %d has %d bytes, want %d", i, len(f), samplesPerFrame)
				}
			}
		})
	}
}
