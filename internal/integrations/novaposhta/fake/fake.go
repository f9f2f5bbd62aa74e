// Package fake is an in-memory carrier used in tests and when no API key is
// configured. Responses are scripted per model.method; unscripted calls get
// an empty success so demo wiring does not explode.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/crmkit/shipdesk/internal/integrations/novaposhta"
)

type Client struct {
	mu       sync.Mutex
	handlers map[string]func(props any) (*novaposhta.Response, error)
	calls    map[string]int
}

func New() *Client {
	return &Client{
		handlers: map[string]func(props any) (*novaposhta.Response, error){},
		calls:    map[string]int{},
	}
}

func key(model, method string) string { return model + "." + method }

// Script registers a handler for model.method.
func (c *Client) Script(model, method string, fn func(props any) (*novaposhta.Response, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[key(model, method)] = fn
}

// ScriptData registers a fixed data payload for model.method.
func (c *Client) ScriptData(model, method string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("fake carrier: marshal scripted data: %v", err))
	}
	c.Script(model, method, func(any) (*novaposhta.Response, error) {
		return &novaposhta.Response{Success: true, Data: b}, nil
	})
}

func (c *Client) Calls(model, method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key(model, method)]
}

func (c *Client) Call(ctx context.Context, model, method string, props any) (*novaposhta.Response, error) {
	c.mu.Lock()
	c.calls[key(model, method)]++
	fn := c.handlers[key(model, method)]
	c.mu.Unlock()

	if fn == nil {
		return &novaposhta.Response{Success: true, Data: json.RawMessage(`[]`)}, nil
	}
	return fn(props)
}
