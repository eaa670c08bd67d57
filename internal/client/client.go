// Package client holds the HTTP clients of the collaborators the engine
// reads from at checkout: the user-stats service and the loyalty service.
package client

import (
	"context"
)

// JSONGetter issues a GET and decodes the JSON body. Both
// httpclient.CircuitBreakerClient and test doubles satisfy it.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, dst any) error
}

// envelope is the {"data": ...} wrapper every collaborator answers with.
type envelope[T any] struct {
	Data T `json:"data"`
}
