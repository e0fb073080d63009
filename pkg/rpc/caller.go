package rpc

import (
	"context"

	"github.com/huo-ju/dfclient/pkg/data"
)

// Transport carries one encoded request to the backend and returns the
// encoded response. pkg/rabbitmq provides the amqp implementation.
type Transport interface {
	Call(ctx context.Context, body []byte) ([]byte, error)
}

// Caller invokes named backend procedures, merging the application
// credentials into every parameter bag before dispatch. It holds no state
// between calls and performs no retry.
type Caller struct {
	transport Transport
	creds     data.Credentials
}

func NewCaller(transport Transport, creds data.Credentials) *Caller {
	return &Caller{transport: transport, creds: creds}
}

// Invoke calls one procedure and returns the decoded data value or the
// backend error. Callers that need a concrete type coerce the result after a
// non-error return.
func (c *Caller) Invoke(ctx context.Context, procedure string, params Params) (interface{}, error) {
	merged := Params{}
	for k, v := range params {
		merged[k] = v
	}
	merged[ParamSecret] = c.creds.Secret
	merged[ParamApplicationId] = c.creds.ApplicationId
	merged[ParamKey] = c.creds.Key

	body, err := EncodeRequest(procedure, merged)
	if err != nil {
		return nil, err
	}
	reply, err := c.transport.Call(ctx, body)
	if err != nil {
		return nil, err
	}
	return DecodeResult(procedure, reply)
}
