package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Message is one addressed wire message. Delivery is best effort and
// ordered per sender; the body is the JSON document listed in the protocol
// table for the given type.
type Message struct {
	Performative string          `json:"performative"`
	Type         string          `json:"type"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	Body         json.RawMessage `json:"body,omitempty"`
	SentAt       time.Time       `json:"sent_at"`
}

// DecodeBody unmarshals the message body into v.
func (m Message) DecodeBody(v any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("%s message from %s has no body", m.Type, m.From)
	}
	return json.Unmarshal(m.Body, v)
}

// Bus routes messages between registered addresses. Each address owns a
// buffered inbox; a full inbox drops the message rather than blocking the
// sender.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[string]chan Message
	now     func() time.Time
}

const defaultInboxSize = 256

func New() *Bus {
	return &Bus{
		inboxes: make(map[string]chan Message),
		now:     time.Now,
	}
}

// Register creates the inbox for addr and returns its receive side.
// Registering an address twice replaces the previous inbox.
func (b *Bus) Register(addr string) <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Message, defaultInboxSize)
	b.inboxes[addr] = ch
	return ch
}

// Unregister removes and closes the inbox for addr.
func (b *Bus) Unregister(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.inboxes[addr]; ok {
		delete(b.inboxes, addr)
		close(ch)
	}
}

// Send delivers msg to its destination inbox. Unknown destinations and full
// inboxes are logged and dropped; the round must keep going either way.
func (b *Bus) Send(msg Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = b.now()
	}

	b.mu.RLock()
	ch, ok := b.inboxes[msg.To]
	b.mu.RUnlock()

	if !ok {
		log.Printf("bus: dropping %s for unknown address %s", msg.Type, msg.To)
		return fmt.Errorf("unknown address %s", msg.To)
	}

	select {
	case ch <- msg:
		return nil
	default:
		log.Printf("bus: inbox %s full, dropping %s from %s", msg.To, msg.Type, msg.From)
		return fmt.Errorf("inbox %s full", msg.To)
	}
}

// SendJSON marshals body and sends it as a message of the given type.
func (b *Bus) SendJSON(performative, msgType, from, to string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s body: %w", msgType, err)
	}
	return b.Send(Message{
		Performative: performative,
		Type:         msgType,
		From:         from,
		To:           to,
		Body:         raw,
	})
}
