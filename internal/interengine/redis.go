package interengine

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisBus subscribes to a broadcast channel and a per-engine targeted
// channel, per spec.md §4.7, using the go-redis Subscribe/Channel
// pattern grounded on
// other_examples/eeb570cf_uncord-chat-uncord-server__internal-gateway-hub.go.
type RedisBus struct {
	client   *redis.Client
	engineID string
	prefix   string

	broadcastSub *redis.PubSub
	targetedSub  *redis.PubSub

	incoming chan Message
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewRedisBus(client *redis.Client, engineID, prefix string, bufferSize int) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:   client,
		engineID: engineID,
		prefix:   prefix,
		incoming: make(chan Message, bufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *RedisBus) broadcastChannel() string { return b.prefix + ":broadcast" }
func (b *RedisBus) targetedChannel(engineID string) string { return b.prefix + ":" + engineID }

// envelope carries sender/target metadata alongside the opaque payload,
// per spec.md §4.7 ("Envelopes carry {senderEngineId, targetEngineId?, payloadJson}").
type envelope struct {
	SenderEngineID string `json:"senderEngineId"`
	TargetEngineID string `json:"targetEngineId,omitempty"`
	PayloadJSON    string `json:"payloadJson"`
}

func (b *RedisBus) Start() error {
	b.broadcastSub = b.client.Subscribe(b.ctx, b.broadcastChannel())
	b.targetedSub = b.client.Subscribe(b.ctx, b.targetedChannel(b.engineID))

	go b.dispatch(b.broadcastSub, true)
	go b.dispatch(b.targetedSub, false)

	return nil
}

func (b *RedisBus) dispatch(sub *redis.PubSub, isBroadcast bool) {
	ch := sub.Channel()
	for raw := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(raw.Payload), &env); err != nil {
			log.Printf("interengine: malformed envelope on %s: %v", raw.Channel, err)
			continue
		}

		if isBroadcast && env.SenderEngineID == b.engineID {
			// Drop self-origin broadcasts: the sending engine does not
			// receive its own Broadcast on this bus.
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(env.PayloadJSON), &msg); err != nil {
			log.Printf("interengine: malformed payload on %s: %v", raw.Channel, err)
			continue
		}

		select {
		case b.incoming <- msg:
		default:
			log.Printf("interengine: incoming channel full, dropping message kind=%s", msg.Kind)
		}
	}
}

func (b *RedisBus) publish(channel, targetEngineID string, msg Message) error {
	payload, err := msg.marshal()
	if err != nil {
		return err
	}
	env := envelope{SenderEngineID: b.engineID, TargetEngineID: targetEngineID, PayloadJSON: string(payload)}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(b.ctx, channel, data).Err()
}

func (b *RedisBus) SendTo(targetEngineID string, msg Message) error {
	return b.publish(b.targetedChannel(targetEngineID), targetEngineID, msg)
}

func (b *RedisBus) Broadcast(msg Message) error {
	return b.publish(b.broadcastChannel(), "", msg)
}

func (b *RedisBus) Incoming() <-chan Message { return b.incoming }

func (b *RedisBus) Close() error {
	b.cancel()
	if b.broadcastSub != nil {
		_ = b.broadcastSub.Close()
	}
	if b.targetedSub != nil {
		_ = b.targetedSub.Close()
	}
	close(b.incoming)
	return nil
}
