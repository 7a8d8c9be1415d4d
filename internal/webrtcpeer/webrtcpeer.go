// Package webrtcpeer adapts pion/webrtc to the negotiation package: a
// PeerConnection-backed Transport, synthetic local media and an slog bridge
// for pion's internal logging.
package webrtcpeer

import (
	"log/slog"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

type Options struct {
	// Logger receives pion's internal logs. Nil discards them below warn.
	Logger *slog.Logger
	// Net replaces the OS network, e.g. with a vnet.Net in tests.
	Net transport.Net
}

// NewAPI builds a pion API with the default codecs registered, so the
// synthetic Opus and VP8 tracks can be negotiated.
func NewAPI(opts Options) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(opts.Logger)
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(me),
	), nil
}
