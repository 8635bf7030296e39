package call

import (
	"encoding/json"
	"net"
	"strings"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/BioHazard786/carecall/internal/config"
	"github.com/BioHazard786/carecall/internal/signaling"
)

// ProbeChannelLabel names the data channel the connectivity probe runs on.
const ProbeChannelLabel = "carecall-probe"

// NewPeerConnection builds a peer connection from the client ICE configuration.
// A nil api uses pion's defaults.
func NewPeerConnection(api *webrtc.API, cfg *config.Client) (*webrtc.PeerConnection, error) {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || behindCarrierNAT()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	if api == nil {
		api = webrtc.NewAPI()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return pc, nil
}

// CreateProbeChannel opens the ordered, reliable channel used by the probe.
func CreateProbeChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(ProbeChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, NewError("create data channel", err)
	}
	return dc, nil
}

// CreateOffer sets and returns the local offer.
func CreateOffer(pc *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, NewError("create offer", err)
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		return nil, NewError("set local description", err)
	}
	return pc.LocalDescription(), nil
}

// CreateAnswer applies the remote offer, then sets and returns the local answer.
func CreateAnswer(pc *webrtc.PeerConnection, offer *signaling.Offer) (*webrtc.SessionDescription, error) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return nil, NewError("set remote description", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, NewError("create answer", err)
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		return nil, NewError("set local description", err)
	}
	return pc.LocalDescription(), nil
}

// ApplyAnswer sets the remote answer on the caller's connection.
func ApplyAnswer(pc *webrtc.PeerConnection, answer *signaling.Answer) error {
	if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return WrapError("apply answer", ErrUnexpectedSignal, "no offer outstanding")
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return NewError("set remote description", err)
	}
	return nil
}

// candidateQueue holds remote candidates until a remote description exists.
type candidateQueue struct {
	pc      *webrtc.PeerConnection
	pending []webrtc.ICECandidateInit
}

func (q *candidateQueue) add(c *signaling.IceCandidate) error {
	var ice webrtc.ICECandidateInit
	if err := json.Unmarshal(c.Candidate, &ice); err != nil {
		return NewError("parse ICE candidate", err)
	}
	if q.pc == nil || q.pc.RemoteDescription() == nil {
		q.pending = append(q.pending, ice)
		return nil
	}
	if err := q.pc.AddICECandidate(ice); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

// flush applies queued candidates once pc has a remote description.
func (q *candidateQueue) flush(pc *webrtc.PeerConnection) error {
	q.pc = pc
	pending := q.pending
	q.pending = nil
	for _, ice := range pending {
		if err := pc.AddICECandidate(ice); err != nil {
			return NewError("add ICE candidate", err)
		}
	}
	return nil
}

// trickle forwards local candidates to the room and reports terminal connection states.
func trickle(pc *webrtc.PeerConnection, send func(candidate webrtc.ICECandidateInit) error, failed chan<- struct{}) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := send(c.ToJSON()); err != nil {
			zap.L().Debug("dropping local candidate", zap.Error(err))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		zap.L().Debug("peer connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed {
			select {
			case failed <- struct{}{}:
			default:
			}
		}
	})
}

// behindCarrierNAT reports whether an interface looks like a VPN or sits in
// the CGNAT range, where direct connections usually fail.
func behindCarrierNAT() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	_, cgnatBlock, _ := net.ParseCIDR("100.64.0.0/10")

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, hint := range []string{"tun", "tap", "wg", "ppp", "warp"} {
			if strings.Contains(name, hint) {
				return true
			}
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && cgnatBlock.Contains(ipNet.IP) {
				return true
			}
		}
	}
	return false
}
