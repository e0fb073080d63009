// Package client is the SDK entry point for the dfapi backend: application
// user, token and credit management, generation job dispatch, and job result
// subscriptions. All business rules live in the backend; every method here is
// one stateless remote call.
package client

import (
	"context"
	"crypto/tls"
	"net/url"

	"github.com/huo-ju/dfclient/pkg/data"
	"github.com/huo-ju/dfclient/pkg/rabbitmq"
	"github.com/huo-ju/dfclient/pkg/rpc"
)

// Default endpoint of the hosted backend. Both are overridable through
// Options so alternate environments need no recompile.
const (
	DefaultServiceURL = "amqps://api.dfserver.net:5671/"
	DefaultAccessKey  = "dfapi-public"
)

// Conn is the transport a Client runs on. *rabbitmq.AmqpQueue satisfies it;
// tests substitute in-process fakes.
type Conn interface {
	Call(ctx context.Context, body []byte) ([]byte, error)
	SubscribeJob(jobid string) (<-chan []byte, func() error, error)
	Close()
}

type Options struct {
	ServiceURL   string
	AccessKey    string
	TLS          *tls.Config
	WorkerFilter *data.WorkerFilter
	Conn         Conn // use an existing transport instead of dialing
}

// Client bundles the backend connection, the application credentials, and
// the worker selection filter attached to job submissions.
type Client struct {
	conn   Conn
	caller *rpc.Caller
	filter *data.WorkerFilter
}

// New builds a client for the credential triple. With a nil or zero Options
// it dials the default service endpoint with the public access key and
// submits jobs to the production worker branch.
func New(creds data.Credentials, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}

	conn := opts.Conn
	if conn == nil {
		serviceurl := opts.ServiceURL
		if serviceurl == "" {
			serviceurl = DefaultServiceURL
		}
		accesskey := opts.AccessKey
		if accesskey == "" {
			accesskey = DefaultAccessKey
		}
		endpoint, err := endpointURL(serviceurl, accesskey)
		if err != nil {
			return nil, err
		}
		q, err := rabbitmq.Init(endpoint, &rabbitmq.Config{Qos: 1}, opts.TLS)
		if err != nil {
			return nil, err
		}
		conn = q
	}

	filter := opts.WorkerFilter
	if filter == nil {
		filter = data.DefaultWorkerFilter()
	}

	return &Client{
		conn:   conn,
		caller: rpc.NewCaller(conn, creds),
		filter: filter,
	}, nil
}

func (c *Client) Close() {
	c.conn.Close()
}

// endpointURL injects the access key as the broker login when the service
// url carries no userinfo of its own.
func endpointURL(serviceurl string, accesskey string) (string, error) {
	u, err := url.Parse(serviceurl)
	if err != nil {
		return "", err
	}
	if u.User == nil && accesskey != "" {
		u.User = url.UserPassword("dfapi", accesskey)
	}
	return u.String(), nil
}
