package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
)

// DefaultQueueSize bounds the events waiting to be published.
const DefaultQueueSize = 256

// Message is one queued publication.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// FPGAEvent is the payload on the FPGA topic.
type FPGAEvent struct {
	Event    string `json:"event"`
	Seq      int    `json:"seq"`
	Address  string `json:"address"`
	File     string `json:"file,omitempty"`
	Model    string `json:"model,omitempty"`
	Revision int    `json:"revision,omitempty"`
	Magic    string `json:"magic,omitempty"`
	Mapping  string `json:"mapping,omitempty"`
	Units    int    `json:"units"`
}

// UnitEvent is the payload on the unit and refusal topics.
type UnitEvent struct {
	Event   string `json:"event"`
	Address string `json:"address"`
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Space   string `json:"space"`
	ID      string `json:"id"`
	Driver  string `json:"driver"`
	Error   string `json:"error,omitempty"`
}

// Notifier implements cham.Observer by queueing MQTT messages. Observer
// callbacks never block; Run publishes the queue. Messages that do not fit
// in the queue are dropped and counted.
type Notifier struct {
	pub    Publisher
	topics Topics
	qos    byte
	logger cham.Logger

	queue   chan Message
	dropped atomic.Int64
}

var _ cham.Observer = (*Notifier)(nil)

// NewNotifier returns a Notifier publishing through pub.
func NewNotifier(pub Publisher, topics Topics, qos byte, logger cham.Logger) *Notifier {
	return &Notifier{
		pub:    pub,
		topics: topics,
		qos:    qos,
		logger: logger,
		queue:  make(chan Message, DefaultQueueSize),
	}
}

// Dropped returns the number of messages lost to a full queue.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Run publishes queued messages until ctx is done, then flushes what is
// still queued and returns.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case m := <-n.queue:
			n.publish(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-n.queue:
					n.publish(m)
				default:
					return nil
				}
			}
		}
	}
}

func (n *Notifier) publish(m Message) {
	if err := n.pub.Publish(m.Topic, m.Payload, n.qos, m.Retained); err != nil {
		n.logger.Warn("event publish failed", "topic", m.Topic, "err", err)
	}
}

func (n *Notifier) enqueue(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		n.logger.Error("event encode failed", "topic", topic, "err", err)
		return
	}
	select {
	case n.queue <- Message{Topic: topic, Payload: payload, Retained: retained}:
	default:
		n.dropped.Add(1)
		n.logger.Warn("event queue full, dropping", "topic", topic)
	}
}

func (n *Notifier) FPGAAttached(f *cham.FPGA) {
	n.enqueue(n.topics.FPGA(f.Device.Address()), FPGAEvent{
		Event:    "attached",
		Seq:      f.Seq,
		Address:  f.Device.Address().String(),
		File:     f.Info.File,
		Model:    string(f.Info.Model),
		Revision: f.Info.Revision,
		Magic:    fmt.Sprintf("0x%04X", f.Info.Magic),
		Mapping:  f.Mapping.String(),
		Units:    f.NumUnits(),
	}, true)
}

func (n *Notifier) FPGADetached(f *cham.FPGA) {
	n.enqueue(n.topics.FPGA(f.Device.Address()), FPGAEvent{
		Event:   "detached",
		Seq:     f.Seq,
		Address: f.Device.Address().String(),
		Units:   f.NumUnits(),
	}, true)
}

func (n *Notifier) UnitClaimed(d *cham.Descriptor, drv *cham.Driver) {
	n.unitEvent(n.topics.Unit(d.Unit().Device().Address(), d.Unit().Index, d.Space()), "claimed", d, drv, nil, true)
}

func (n *Notifier) UnitReleased(d *cham.Descriptor, drv *cham.Driver) {
	n.unitEvent(n.topics.Unit(d.Unit().Device().Address(), d.Unit().Index, d.Space()), "released", d, drv, nil, true)
}

func (n *Notifier) ProbeRefused(d *cham.Descriptor, drv *cham.Driver, err error) {
	n.unitEvent(n.topics.Refused(), "refused", d, drv, err, false)
}

func (n *Notifier) unitEvent(topic, event string, d *cham.Descriptor, drv *cham.Driver, err error, retained bool) {
	u := d.Unit()
	ev := UnitEvent{
		Event:   event,
		Address: u.Device().Address().String(),
		Index:   u.Index,
		Name:    u.Name,
		Space:   d.Space().String(),
		ID:      fmt.Sprintf("0x%04x", d.ID()),
		Driver:  drv.Name,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	n.enqueue(topic, ev, retained)
}
