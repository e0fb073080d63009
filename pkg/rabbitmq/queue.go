package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Wire conventions shared with the backend. These must match the remote
// service exactly.
const (
	RpcExchange = "dfapi"
	RpcKey      = "rpc"
	RpcQueue    = "dfapi.rpc"
	JobExchange = "dfjob"
)

var ErrCallClosed = errors.New("rabbitmq: reply channel closed before response")

// JobQueueName is the per-job result queue and routing key, job-<jobid>.
func JobQueueName(jobid string) string {
	return "job-" + jobid
}

// AmqpQueue wrapping the amqp Channel operation and manage the connection.
type AmqpQueue struct {
	AmqpChannel *Channel
	Conn        *Connection
}

// Init the Queue and return a Queue instance
func Init(connectstr string, config *Config, tlsconfig *tls.Config) (*AmqpQueue, error) {
	conn, err := Dial(connectstr, config, tlsconfig)
	if err != nil {
		return nil, err
	}

	amqpChannel, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	queue := &AmqpQueue{AmqpChannel: amqpChannel, Conn: conn}
	return queue, err
}

// Close the channel and connection
func (q *AmqpQueue) Close() {
	q.AmqpChannel.Close()
	q.Conn.Close()
}

// DeclareRpc declares the rpc exchange and its queue. The backend owns this
// topology; calling it from the client side is a harmless re-declare.
func (q *AmqpQueue) DeclareRpc() error {
	err := q.AmqpChannel.ExchangeDeclare(RpcExchange, "direct", true, false, false, false, nil)
	if err != nil {
		return err
	}
	_, err = q.AmqpChannel.QueueDeclare(RpcQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	return q.AmqpChannel.QueueBind(RpcQueue, RpcKey, RpcExchange, false, nil)
}

// Call publishes one request envelope to the rpc exchange and waits for the
// correlated reply on an exclusive server-named reply queue. One reply queue
// and one consumer per call; no retry.
func (q *AmqpQueue) Call(ctx context.Context, body []byte) ([]byte, error) {
	replyq, err := q.AmqpChannel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}

	corrid := uuid.New().String()
	deliveries, err := q.AmqpChannel.Channel.Consume(replyq.Name, corrid, true, true, false, false, nil)
	if err != nil {
		return nil, err
	}
	defer q.AmqpChannel.Cancel(corrid, false)

	err = q.AmqpChannel.Publish(RpcExchange, RpcKey, false, false, amqp.Publishing{
		ContentType:   "application/protobuf",
		CorrelationId: corrid,
		ReplyTo:       replyq.Name,
		Body:          body,
	})
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil, ErrCallClosed
			}
			if d.CorrelationId == corrid {
				return d.Body, nil
			}
		}
	}
}

// PublishReply sends a response envelope back to a caller reply queue.
// Used by the backend side of the rpc loop.
func (q *AmqpQueue) PublishReply(replyto string, corrid string, body []byte) error {
	return q.AmqpChannel.Publish("", replyto, false, false, amqp.Publishing{
		ContentType:   "application/protobuf",
		CorrelationId: corrid,
		Body:          body,
	})
}

// PublishJobEvent publishes an event envelope to the per-job queue.
func (q *AmqpQueue) PublishJobEvent(jobid string, body []byte) error {
	return q.AmqpChannel.Publish(JobExchange, JobQueueName(jobid), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
}

// SubscribeJob binds a queue for one job id and consumes it. The returned
// cancel function removes the consumer and deletes the queue; the caller owns
// the subscription lifetime.
func (q *AmqpQueue) SubscribeJob(jobid string) (<-chan []byte, func() error, error) {
	err := q.AmqpChannel.ExchangeDeclare(JobExchange, "direct", true, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	name := JobQueueName(jobid)
	_, err = q.AmqpChannel.QueueDeclare(name, true, true, false, false, nil)
	if err != nil {
		return nil, nil, err
	}
	err = q.AmqpChannel.QueueBind(name, name, JobExchange, false, nil)
	if err != nil {
		return nil, nil, err
	}

	consumer := uuid.New().String()
	deliveries, err := q.AmqpChannel.Channel.Consume(name, consumer, true, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	bodies := make(chan []byte)
	go func() {
		for d := range deliveries {
			bodies <- d.Body
		}
		close(bodies)
	}()

	cancel := func() error {
		err := q.AmqpChannel.Cancel(consumer, false)
		if err != nil {
			return err
		}
		_, err = q.AmqpChannel.QueueDelete(name, false, false, false)
		return err
	}
	return bodies, cancel, nil
}

// Consume queue with qos, reconnect-safe. Used by the backend side.
func (q *AmqpQueue) Consume(name string, qoscount int) (<-chan amqp.Delivery, error) {
	q.AmqpChannel.Qos(qoscount, 0, false)
	return q.AmqpChannel.Consume(name, "", false, false, false, false, nil)
}
