// Package p2p gossips committed events to peer indexers and forwards signed
// requests from peers to the sequencing node over libp2p gossipsub.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/util"
)

const (
	topicEvents = "levelbook/events/1"
	topicTxs    = "levelbook/txs/1"
)

// Handlers receive inbound gossip. Either may be nil.
type Handlers struct {
	OnEvents func(ctx context.Context, origin string, events []exchange.Event)
	OnTx     func(ctx context.Context, raw []byte)
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

type Relay struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tEvents, tTxs     *pubsub.Topic
	subEvents, subTxs *pubsub.Subscription

	muH      sync.RWMutex
	handlers Handlers
}

func NewRelay(ctx context.Context, cfg Config) (*Relay, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}
	r := &Relay{h: h, ps: ps, log: util.OrNop(cfg.Logger)}

	for _, bs := range cfg.Bootstrap {
		if err := r.Connect(ctx, bs); err != nil {
			r.log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}
	if err := r.joinTopics(); err != nil {
		h.Close()
		return nil, err
	}
	go r.handleEvents(ctx)
	go r.handleTxs(ctx)

	r.log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return r, nil
}

// Connect dials a full /p2p/ multiaddr.
func (r *Relay) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return r.h.Connect(ctx, *info)
}

func (r *Relay) joinTopics() error {
	var err error
	if r.tEvents, err = r.ps.Join(topicEvents); err != nil {
		return err
	}
	if r.tTxs, err = r.ps.Join(topicTxs); err != nil {
		return err
	}
	if r.subEvents, err = r.tEvents.Subscribe(); err != nil {
		return err
	}
	if r.subTxs, err = r.tTxs.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (r *Relay) SetHandlers(h Handlers) { r.muH.Lock(); r.handlers = h; r.muH.Unlock() }

func (r *Relay) Host() host.Host { return r.h }

// Addrs returns the dialable addresses of this node including its peer id.
func (r *Relay) Addrs() []string {
	var out []string
	for _, a := range r.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, r.h.ID()))
	}
	return out
}

func (r *Relay) Close() error { return r.h.Close() }

// Deliver publishes committed events to peers.
func (r *Relay) Deliver(ctx context.Context, events []exchange.Event) error {
	enc, err := json.Marshal(events)
	if err != nil {
		return err
	}
	data, err := gobEncode(EventsWire{Origin: r.h.ID().String(), Events: enc})
	if err != nil {
		return err
	}
	return r.tEvents.Publish(ctx, data)
}

// ForwardTx gossips a raw signed request toward the sequencer.
func (r *Relay) ForwardTx(ctx context.Context, raw []byte) error {
	data, err := gobEncode(TxWire{Raw: raw})
	if err != nil {
		return err
	}
	return r.tTxs.Publish(ctx, data)
}

func (r *Relay) current() Handlers {
	r.muH.RLock()
	defer r.muH.RUnlock()
	return r.handlers
}

func (r *Relay) handleEvents(ctx context.Context) {
	for {
		msg, err := r.subEvents.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}
		var w EventsWire
		if err := gobDecode(msg.Data, &w); err != nil {
			r.log.Debugw("bad_events_wire", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		var events []exchange.Event
		if err := json.Unmarshal(w.Events, &events); err != nil {
			continue
		}
		if h := r.current(); h.OnEvents != nil {
			h.OnEvents(ctx, w.Origin, events)
		}
	}
}

func (r *Relay) handleTxs(ctx context.Context) {
	for {
		msg, err := r.subTxs.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}
		var w TxWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		if h := r.current(); h.OnTx != nil {
			h.OnTx(ctx, w.Raw)
		}
	}
}
