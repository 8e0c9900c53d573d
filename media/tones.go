/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/zaf/g711"
)

// Tone identifies one of the locally generated feedback tones.
type Tone string

const (
	ToneRingback     Tone = "ringback"
	ToneBusy         Tone = "busy"
	ToneConnected    Tone = "connected"
	ToneDisconnected Tone = "disconnected"
	ToneHold         Tone = "hold"
)

const (
	sampleRate      = 8000
	samplesPerFrame = 160 // 20 ms at 8 kHz
	frameInterval   = 20 * time.Millisecond
)

// RTPWriter is the write side of an outbound RTP track.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// TonePlayer generates standard telephony feedback tones as G.711 µ-law RTP
// frames on a local track. At most one tone plays at a time; starting a new
// tone replaces the current one and Stop is idempotent.
type TonePlayer struct {
	mu     sync.Mutex
	engine *Engine
	writer RTPWriter

	current Tone
	stopCh  chan struct{}
	seq     uint16
	ts      uint32
}

// NewTonePlayer creates a tone player writing to the given track.
func NewTonePlayer(writer RTPWriter) *TonePlayer {
	return &TonePlayer{writer: writer}
}

func newTonePlayer(engine *Engine) *TonePlayer {
	return &TonePlayer{engine: engine}
}

// toneFrames builds the µ-law frame sequence for one cadence cycle of the
// tone, and reports whether the cycle loops.
func toneFrames(tone Tone) (frames [][]byte, loop bool, err error) {
	switch tone {
	case ToneRingback:
		// 440+480 Hz, 2 s on / 4 s off
		return cadence(440, 480, 0.25, 2*time.Second, 4*time.Second), true, nil
	case ToneBusy:
		// 480+620 Hz, 0.5 s on / 0.5 s off
		return cadence(480, 620, 0.25, 500*time.Millisecond, 500*time.Millisecond), true, nil
	case ToneConnected:
		return cadence(600, 0, 0.3, 200*time.Millisecond, 0), false, nil
	case ToneDisconnected:
		// two short low beeps
		burst := cadence(480, 0, 0.3, 100*time.Millisecond, 100*time.Millisecond)
		return append(burst, cadence(480, 0, 0.3, 100*time.Millisecond, 0)...), false, nil
	case ToneHold:
		// quiet comfort tone so the agent knows the leg is parked
		return cadence(440, 0, 0.05, 1*time.Second, 3*time.Second), true, nil
	default:
		return nil, false, fmt.Errorf("unknown tone %q", tone)
	}
}

// cadence renders one on/off cycle of a dual-frequency tone into 20 ms
// µ-law frames. f2 of 0 means a single-frequency tone.
func cadence(f1, f2 float64, amplitude float64, on, off time.Duration) [][]byte {
	onFrames := int(on / frameInterval)
	offFrames := int(off / frameInterval)
	frames := make([][]byte, 0, onFrames+offFrames)

	pcm := make([]byte, samplesPerFrame*2)
	var phase int
	for i := 0; i < onFrames; i++ {
		for s := 0; s < samplesPerFrame; s++ {
			t := float64(phase) / sampleRate
			v := math.Sin(2 * math.Pi * f1 * t)
			if f2 > 0 {
				v = (v + math.Sin(2*math.Pi*f2*t)) / 2
			}
			sample := int16(v * amplitude * math.MaxInt16)
			pcm[2*s] = byte(sample)
			pcm[2*s+1] = byte(sample >> 8)
			phase++
		}
		frames = append(frames, g711.EncodeUlaw(pcm))
	}

	if offFrames > 0 {
		silence := make([]byte, samplesPerFrame)
		for i := range silence {
			silence[i] = 0xFF // µ-law silence
		}
		for i := 0; i < offFrames; i++ {
			frames = append(frames, silence)
		}
	}
	return frames
}

// Playing returns the tone currently playing, or "" when silent.
func (tp *TonePlayer) Playing() Tone {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.current
}

// Play starts the tone, replacing any tone already playing.
func (tp *TonePlayer) Play(tone Tone) error {
	frames, loop, err := toneFrames(tone)
	if err != nil {
		return err
	}

	writer, err := tp.resolveWriter()
	if err != nil {
		return err
	}

	tp.mu.Lock()
	if tp.stopCh != nil {
		close(tp.stopCh)
	}
	stopCh := make(chan struct{})
	tp.stopCh = stopCh
	tp.current = tone
	tp.mu.Unlock()

	go tp.run(writer, frames, loop, stopCh)
	return nil
}

// Stop silences the player. Safe to call repeatedly or when nothing plays.
func (tp *TonePlayer) Stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.stopCh != nil {
		close(tp.stopCh)
		tp.stopCh = nil
	}
	tp.current = ""
}

func (tp *TonePlayer) resolveWriter() (RTPWriter, error) {
	tp.mu.Lock()
	writer := tp.writer
	engine := tp.engine
	tp.mu.Unlock()

	if writer != nil {
		return writer, nil
	}
	if engine == nil {
		return nil, fmt.Errorf("tone player has no output track")
	}
	track, err := engine.AddAudioTrack()
	if err != nil {
		return nil, fmt.Errorf("failed to attach tone output track: %w", err)
	}
	tp.mu.Lock()
	tp.writer = track
	tp.mu.Unlock()
	return track, nil
}

// run paces the frame sequence onto the track at 20 ms intervals.
func (tp *TonePlayer) run(writer RTPWriter, frames [][]byte, loop bool, stopCh chan struct{}) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if i >= len(frames) {
				if !loop {
					tp.finish(stopCh)
					return
				}
				i = 0
			}

			tp.mu.Lock()
			tp.seq++
			tp.ts += samplesPerFrame
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    0, // PCMU
					SequenceNumber: tp.seq,
					Timestamp:      tp.ts,
					Marker:         i == 0,
				},
				Payload: frames[i],
			}
			tp.mu.Unlock()

			if err := writer.WriteRTP(pkt); err != nil {
				tp.finish(stopCh)
				return
			}
			i++
		}
	}
}

// finish clears the playing state when a one-shot tone runs out, unless a
// newer tone already took over.
func (tp *TonePlayer) finish(stopCh chan struct{}) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.stopCh == stopCh {
		tp.stopCh = nil
		tp.current = ""
	}
}
