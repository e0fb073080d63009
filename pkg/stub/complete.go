package stub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/huo-ju/dfclient/pkg/data"
)

// CompleteJob marks a pending job completed and returns the encoded result
// event for publishing to the job queue. Output filenames follow the
// submitted config's batch size and image format when the config decodes;
// jobs with foreign config blobs get a single png.
func (c *Core) CompleteJob(jobid string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[jobid]
	if !ok {
		return nil, errors.New("unknown job")
	}
	j.record.Status = data.JobStatusCompleted

	count := 1
	ext := "png"
	config, err := data.DecodeStableDiffusionConfig(j.record.JobConfig)
	if err == nil {
		if config.BatchSize > 0 {
			count = int(config.BatchSize)
		}
		if config.ImageFormat != "" {
			ext = string(config.ImageFormat)
		}
	}
	images := []string{}
	for i := 0; i < count; i++ {
		images = append(images, fmt.Sprintf("output-%s-%d.%s", jobid, i, ext))
	}

	output, err := json.Marshal(map[string]interface{}{"images": images})
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(data.JobResult{
		JobId:  jobid,
		Status: data.JobStatusCompleted,
		Output: output,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(data.JobEvent{
		Event:   data.EventResult,
		JobId:   jobid,
		Payload: payload,
	})
}

// Users snapshots user state for the inspection api.
func (c *Core) Users() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	users := []map[string]interface{}{}
	for _, u := range c.users {
		users = append(users, map[string]interface{}{
			"id":           u.id,
			"credits":      u.credits,
			"active_token": u.tokenid != "",
		})
	}
	return users
}

// Jobs snapshots the job ledger for the inspection api.
func (c *Core) Jobs() []data.JobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := []data.JobRecord{}
	for _, id := range c.joblog {
		records = append(records, c.jobs[id].record)
	}
	return records
}
