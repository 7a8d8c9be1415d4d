package webrtcpeer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/Greed71/webRTC/internal/negotiation"
)

// SyntheticMedia stands in for camera and microphone capture. Each track
// writes a fixed placeholder frame at the codec's natural cadence until it
// is stopped.
type SyntheticMedia struct {
	// StreamID groups the tracks of one participant. Empty means random.
	StreamID string
}

var _ negotiation.MediaSource = (*SyntheticMedia)(nil)

func (s *SyntheticMedia) Acquire(ctx context.Context, kind string) (negotiation.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		codec    webrtc.RTPCodecCapability
		interval time.Duration
		frame    []byte
	)
	switch kind {
	case negotiation.KindAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		interval = 20 * time.Millisecond
		// Opus TOC byte for a 20ms silence frame.
		frame = []byte{0xf8, 0xff, 0xfe}
	case negotiation.KindVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		interval = 33 * time.Millisecond
		frame = make([]byte, 64)
	default:
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}

	streamID := s.StreamID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec, kind+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	t := &LocalTrack{kind: kind, track: track, stop: make(chan struct{})}
	go t.pump(frame, interval)
	return t, nil
}

// LocalTrack is a synthetic local track.
type LocalTrack struct {
	kind  string
	track *webrtc.TrackLocalStaticSample

	stop     chan struct{}
	stopOnce sync.Once
}

func (t *LocalTrack) ID() string   { return t.track.ID() }
func (t *LocalTrack) Kind() string { return t.kind }

func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Local returns the pion track to attach to a PeerConnection.
func (t *LocalTrack) Local() webrtc.TrackLocal { return t.track }

func (t *LocalTrack) pump(frame []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Writes before the track is bound are dropped by pion.
			_ = t.track.WriteSample(media.Sample{Data: frame, Duration: interval})
		case <-t.stop:
			return
		}
	}
}
