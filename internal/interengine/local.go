package interengine

// LocalBus is the single-process implementation of Bus: every Broadcast
// and SendTo loops back onto the same incoming channel, since there is
// only ever one engine to deliver to. Per spec.md §4.7, a LocalBus
// observes its own broadcasts.
type LocalBus struct {
	engineID string
	incoming chan Message
}

func NewLocalBus(engineID string, bufferSize int) *LocalBus {
	return &LocalBus{engineID: engineID, incoming: make(chan Message, bufferSize)}
}

func (b *LocalBus) Start() error { return nil }
func (b *LocalBus) Close() error { close(b.incoming); return nil }

func (b *LocalBus) SendTo(targetEngineID string, msg Message) error {
	msg.SourceEngineID = b.engineID
	select {
	case b.incoming <- msg:
	default:
	}
	return nil
}

func (b *LocalBus) Broadcast(msg Message) error {
	msg.SourceEngineID = b.engineID
	select {
	case b.incoming <- msg:
	default:
	}
	return nil
}

func (b *LocalBus) Incoming() <-chan Message { return b.incoming }
