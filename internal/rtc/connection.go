// Package rtc adapts a pion PeerConnection to the negotiation engine's
// opaque transport contract. Descriptions and candidates cross the boundary
// as raw JSON; only this package decodes them.
package rtc

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/domain"
)

type PeerConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID
	onICE  func(json.RawMessage)
}

func DefaultConfig(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
}

func NewPeerConnection(cfg webrtc.Configuration, remote domain.UserID) (*PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &PeerConnection{pc: pc, remote: remote}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).Str("peer_state", s.String()).Msg("peer state")
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.onICE == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("candidate marshal")
			return
		}
		c.onICE(b)
	})

	return c, nil
}

// OnICECandidate registers the callback for locally gathered candidates.
// Must be set before negotiation starts.
func (c *PeerConnection) OnICECandidate(fn func(json.RawMessage)) {
	c.onICE = fn
}

// CreateOffer produces the local offer and returns it as a wire blob.
func (c *PeerConnection) CreateOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

// CreateAnswer produces the local answer once the remote offer is applied.
func (c *PeerConnection) CreateAnswer() (json.RawMessage, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (c *PeerConnection) SetRemoteDescription(sdp json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &desc); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(desc)
}

func (c *PeerConnection) AddCandidate(candidate json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &cand); err != nil {
		return err
	}
	return c.pc.AddICECandidate(cand)
}

func (c *PeerConnection) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close error")
	}
}
