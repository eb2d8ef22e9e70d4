package notify

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryNotifier records sends for tests/dev. FailFor makes sends to a
// given recipient fail, exercising per-recipient failure isolation.
type InMemoryNotifier struct {
	mu      sync.Mutex
	sent    []Message
	failing map[string]error
	seq     int
}

func NewInMemory() *InMemoryNotifier {
	return &InMemoryNotifier{failing: make(map[string]error)}
}

// FailFor makes every send to recipient return err.
func (n *InMemoryNotifier) FailFor(recipient string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failing[recipient] = err
}

func (n *InMemoryNotifier) Send(_ context.Context, msg Message) (Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failing[msg.Recipient]; ok {
		return Receipt{}, err
	}
	n.seq++
	n.sent = append(n.sent, msg)
	return Receipt{MessageID: fmt.Sprintf("msg-%d", n.seq)}, nil
}

// Sent returns a copy of successfully sent messages.
func (n *InMemoryNotifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Message, len(n.sent))
	copy(out, n.sent)
	return out
}
