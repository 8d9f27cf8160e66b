package websocket

import (
	"encoding/json"
	"sync"
)

// Gateway methods
const (
	MethodGetMessage = "GET_MESSAGE"
	MethodForward    = "FORWARD"
	MethodPing       = "PING"
)

const frameTypeMessage = "message"

// Frame is anything the gateway sends. Pushed chat messages carry type
// "message" and data; responses carry the id of the request they answer.
type Frame struct {
	Type   string          `json:"type,omitempty"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Request is a call to the gateway
type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// MessageRef addresses a message in a chat
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// ForwardParams asks the gateway to re-post a message to target
type ForwardParams struct {
	Target    string `json:"target"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

// pending tracks requests awaiting a response
type pending struct {
	mu      sync.Mutex
	waiting map[string]chan *Frame
}

func newPending() *pending {
	return &pending{waiting: make(map[string]chan *Frame)}
}

func (p *pending) add(id string) <-chan *Frame {
	ch := make(chan *Frame, 1)
	p.mu.Lock()
	p.waiting[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pending) remove(id string) {
	p.mu.Lock()
	delete(p.waiting, id)
	p.mu.Unlock()
}

// resolve delivers f to its waiter and reports whether one existed
func (p *pending) resolve(f *Frame) bool {
	p.mu.Lock()
	ch, ok := p.waiting[f.ID]
	delete(p.waiting, f.ID)
	p.mu.Unlock()

	if ok {
		ch <- f
	}
	return ok
}

// fail answers every waiter with reason
func (p *pending) fail(reason string) {
	p.mu.Lock()
	waiting := p.waiting
	p.waiting = make(map[string]chan *Frame)
	p.mu.Unlock()

	for id, ch := range waiting {
		ch <- &Frame{ID: id, Error: reason}
	}
}

func (p *pending) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}
