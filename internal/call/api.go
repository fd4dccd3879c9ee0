package call

import (
	"log/slog"

	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/internal/logging"
)

// APIConfig tunes the pion API shared by every peer connection of a call.
type APIConfig struct {
	// Logger receives pion's internal logs. Nil uses slog.Default.
	Logger *slog.Logger

	// Net replaces the OS network stack, e.g. with a vnet for tests.
	Net transport.Net
}

// NewAPI builds a pion API with the default codecs registered so that
// receive-only transceivers can negotiate whatever browsers offer.
func NewAPI(cfg APIConfig) (*webrtc.API, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, NewError("register codecs", err)
	}

	se := webrtc.SettingEngine{
		LoggerFactory: logging.PionFactory(cfg.Logger),
	}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(media),
		webrtc.WithSettingEngine(se),
	), nil
}
