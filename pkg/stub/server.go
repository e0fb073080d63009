package stub

import (
	"context"
	"log"
	"time"

	"github.com/huo-ju/dfclient/pkg/rabbitmq"
	"github.com/huo-ju/dfclient/pkg/rpc"
)

// Server runs a Core against a real broker: it consumes the rpc queue,
// dispatches procedures, publishes correlated replies, and completes
// submitted jobs after a fixed delay by publishing a result event on the
// per-job queue.
type Server struct {
	core          *Core
	amqpQueue     *rabbitmq.AmqpQueue
	completeAfter time.Duration
}

func NewServer(core *Core, amqpQueue *rabbitmq.AmqpQueue, completeAfter time.Duration) *Server {
	return &Server{core: core, amqpQueue: amqpQueue, completeAfter: completeAfter}
}

func (s *Server) Start(ctx context.Context) error {
	err := s.amqpQueue.DeclareRpc()
	if err != nil {
		return err
	}
	deliveries, err := s.amqpQueue.Consume(rabbitmq.RpcQueue, 1)
	if err != nil {
		return err
	}
	log.Println("stub backend is running.")

	for {
		select {
		case <-ctx.Done():
			log.Println("Stop stub backend...")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				log.Println("rpc channel closed, exit")
				return nil
			}
			s.handle(d.Body, d.ReplyTo, d.CorrelationId)
			d.Ack(false)
		}
	}
}

func (s *Server) handle(body []byte, replyto string, corrid string) {
	var reply []byte
	procedure, params, err := rpc.DecodeRequest(body)
	if err != nil {
		reply, _ = rpc.EncodeError(err.Error())
	} else {
		res, derr := s.core.Dispatch(procedure, params)
		if derr != nil {
			reply, _ = rpc.EncodeError(derr.Error())
		} else {
			reply, err = rpc.EncodeResult(res)
			if err != nil {
				reply, _ = rpc.EncodeError(err.Error())
			} else if procedure == "postJob" {
				jobid := res.(string)
				time.AfterFunc(s.completeAfter, func() {
					s.finish(jobid)
				})
			}
		}
	}
	if replyto == "" {
		return
	}
	err = s.amqpQueue.PublishReply(replyto, corrid, reply)
	if err != nil {
		log.Printf("publish reply err: %v", err)
	}
}

func (s *Server) finish(jobid string) {
	event, err := s.core.CompleteJob(jobid)
	if err != nil {
		log.Printf("complete job %s err: %v", jobid, err)
		return
	}
	err = s.amqpQueue.PublishJobEvent(jobid, event)
	if err != nil {
		log.Printf("publish job event %s err: %v", jobid, err)
	}
}
