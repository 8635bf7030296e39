package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Probe frame types exchanged on the probe channel.
const (
	ProbePing = "ping"
	ProbePong = "pong"
	ProbeBye  = "bye"
)

// ProbeFrame is one msgpack message on the probe channel.
type ProbeFrame struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// PingPayload is echoed back unchanged in the matching pong.
type PingPayload struct {
	Seq    uint32 `msgpack:"seq"`
	SentAt int64  `msgpack:"sentAt"` // unix nanoseconds
}

// DecodePayload decodes the frame payload into v.
func (f ProbeFrame) DecodePayload(v any) error {
	return msgpack.Unmarshal(f.Payload, v)
}

// EncodeProbeFrame marshals a frame of type t. A nil payload is omitted.
func EncodeProbeFrame(t string, payload any) ([]byte, error) {
	frame := ProbeFrame{Type: t}
	if payload != nil {
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Payload = b
	}
	return msgpack.Marshal(frame)
}

// DecodeProbeFrame unmarshals a frame received on the probe channel.
func DecodeProbeFrame(data []byte) (ProbeFrame, error) {
	var frame ProbeFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return ProbeFrame{}, err
	}
	return frame, nil
}

// ProbeOptions controls the caller's connectivity probe.
type ProbeOptions struct {
	Count    int
	Interval time.Duration
	// Wait is how long to wait for each pong before counting the ping as lost.
	Wait time.Duration
}

func (o ProbeOptions) withDefaults() ProbeOptions {
	if o.Count <= 0 {
		o.Count = 5
	}
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
	if o.Wait <= 0 {
		o.Wait = 2 * time.Second
	}
	return o
}

// ProbeResult summarises round-trip times over the data channel.
type ProbeResult struct {
	Sent     int
	Received int
	RTTs     []time.Duration
	Min      time.Duration
	Avg      time.Duration
	Max      time.Duration
}

// Loss is the fraction of pings that got no pong.
func (r *ProbeResult) Loss() float64 {
	if r.Sent == 0 {
		return 0
	}
	return float64(r.Sent-r.Received) / float64(r.Sent)
}

func summarize(sent int, rtts []time.Duration) *ProbeResult {
	res := &ProbeResult{Sent: sent, Received: len(rtts), RTTs: rtts}
	if len(rtts) == 0 {
		return res
	}

	var total time.Duration
	res.Min, res.Max = rtts[0], rtts[0]
	for _, rtt := range rtts {
		total += rtt
		res.Min = min(res.Min, rtt)
		res.Max = max(res.Max, rtt)
	}
	res.Avg = total / time.Duration(len(rtts))
	return res
}

type pong struct {
	seq uint32
	rtt time.Duration
}

// RunProbe sends Count pings over an open channel, then a bye.
// It fails with ErrProbeFailed when no pong comes back at all.
func RunProbe(ctx context.Context, dc *webrtc.DataChannel, opts ProbeOptions) (*ProbeResult, error) {
	opts = opts.withDefaults()

	pongs := make(chan pong, opts.Count)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		frame, err := DecodeProbeFrame(msg.Data)
		if err != nil || frame.Type != ProbePong {
			zap.L().Debug("ignoring probe frame", zap.Error(err), zap.String("type", frame.Type))
			return
		}
		var p PingPayload
		if err := frame.DecodePayload(&p); err != nil {
			return
		}
		select {
		case pongs <- pong{seq: p.Seq, rtt: time.Since(time.Unix(0, p.SentAt))}:
		default:
		}
	})

	var rtts []time.Duration
	for seq := uint32(0); seq < uint32(opts.Count); seq++ {
		if seq > 0 {
			select {
			case <-time.After(opts.Interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		frame, err := EncodeProbeFrame(ProbePing, PingPayload{Seq: seq, SentAt: time.Now().UnixNano()})
		if err != nil {
			return nil, NewError("encode ping", err)
		}
		if err := dc.Send(frame); err != nil {
			return nil, NewError("send ping", err)
		}

		rtt, ok, err := awaitPong(ctx, pongs, seq, opts.Wait)
		if err != nil {
			return nil, err
		}
		if ok {
			rtts = append(rtts, rtt)
		}
	}

	if bye, err := EncodeProbeFrame(ProbeBye, nil); err == nil {
		if err := dc.Send(bye); err != nil {
			zap.L().Debug("send bye", zap.Error(err))
		}
	}

	res := summarize(opts.Count, rtts)
	if res.Received == 0 {
		return res, WrapError("probe", ErrProbeFailed, fmt.Sprintf("0 of %d pings answered", res.Sent))
	}
	return res, nil
}

// awaitPong waits for the pong matching seq. Late pongs for earlier pings are discarded.
func awaitPong(ctx context.Context, pongs <-chan pong, seq uint32, wait time.Duration) (time.Duration, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case p := <-pongs:
			if p.seq == seq {
				return p.rtt, true, nil
			}
		case <-timer.C:
			return 0, false, nil
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	}
}

// Responder answers pings on the callee side until the caller says bye.
type Responder struct {
	answered atomic.Int64
	bye      chan struct{}
	byeOnce  sync.Once
}

// NewResponder attaches to dc and echoes every ping as a pong.
func NewResponder(dc *webrtc.DataChannel) *Responder {
	r := &Responder{bye: make(chan struct{})}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		frame, err := DecodeProbeFrame(msg.Data)
		if err != nil {
			zap.L().Debug("undecodable probe frame", zap.Error(err))
			return
		}

		switch frame.Type {
		case ProbePing:
			reply, err := msgpack.Marshal(ProbeFrame{Type: ProbePong, Payload: frame.Payload})
			if err != nil {
				return
			}
			if err := dc.Send(reply); err != nil {
				zap.L().Debug("send pong", zap.Error(err))
				return
			}
			r.answered.Add(1)
		case ProbeBye:
			r.byeOnce.Do(func() { close(r.bye) })
		}
	})
	return r
}

// Answered is the number of pings echoed so far.
func (r *Responder) Answered() int {
	return int(r.answered.Load())
}

// Bye is closed when the caller ends the probe.
func (r *Responder) Bye() <-chan struct{} {
	return r.bye
}
