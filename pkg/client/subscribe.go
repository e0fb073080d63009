package client

import (
	"encoding/json"
	"log"

	"github.com/huo-ju/dfclient/pkg/data"
)

// Subscription observes result events for one job. The caller owns its
// lifetime and must Close it when done.
type Subscription struct {
	JobId  string
	cancel func() error
}

// Close cancels the consumer and deletes the job queue.
func (s *Subscription) Close() error {
	return s.cancel()
}

// SubscribeJobResult registers a handler for the result event of one job.
// The handler runs on the delivery goroutine; repeated deliveries are not
// deduplicated and ordering across subscriptions is not guaranteed. Events
// other than result are ignored.
func (c *Client) SubscribeJobResult(jobid string, handler func(data.JobResult)) (*Subscription, error) {
	bodies, cancel, err := c.conn.SubscribeJob(jobid)
	if err != nil {
		return nil, err
	}

	go func() {
		for body := range bodies {
			var event data.JobEvent
			err := json.Unmarshal(body, &event)
			if err != nil {
				log.Printf("subscribe job %s: decode event err: %v", jobid, err)
				continue
			}
			if event.Event != data.EventResult {
				continue
			}
			var result data.JobResult
			err = json.Unmarshal(event.Payload, &result)
			if err != nil {
				log.Printf("subscribe job %s: decode result err: %v", jobid, err)
				continue
			}
			if result.JobId == "" {
				result.JobId = event.JobId
			}
			handler(result)
		}
	}()

	return &Subscription{JobId: jobid, cancel: cancel}, nil
}
