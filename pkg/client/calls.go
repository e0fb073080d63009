package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/huo-ju/dfclient/pkg/data"
	"github.com/huo-ju/dfclient/pkg/rpc"
)

// Backend procedure names. Fixed strings, shared with the remote service.
const (
	procEcho                       = "echo"
	procCreateAppUser              = "createAppUser"
	procGetAppUserToken            = "getAppUserToken"
	procGetAppUserCredits          = "getAppUserCredits"
	procCreateToken                = "createToken"
	procDeactivateToken            = "deactivateToken"
	procAddCredit                  = "addCredit"
	procPostJob                    = "postJob"
	procGetAppUserJobHistoryDetail = "getAppUserJobHistoryDetail"
)

// Echo round-trips a message through the backend, a liveness check.
func (c *Client) Echo(ctx context.Context, message string) (string, error) {
	res, err := c.caller.Invoke(ctx, procEcho, rpc.Params{rpc.ParamMessage: message})
	if err != nil {
		return "", err
	}
	return asString(procEcho, res)
}

// CreateAppUser allocates a new user under this application and returns its
// identifier.
func (c *Client) CreateAppUser(ctx context.Context) (string, error) {
	res, err := c.caller.Invoke(ctx, procCreateAppUser, nil)
	if err != nil {
		return "", err
	}
	return asString(procCreateAppUser, res)
}

// GetAppUserToken returns the currently active token value of a user.
func (c *Client) GetAppUserToken(ctx context.Context, userid string) (string, error) {
	res, err := c.caller.Invoke(ctx, procGetAppUserToken, rpc.Params{rpc.ParamUserId: userid})
	if err != nil {
		return "", err
	}
	return asString(procGetAppUserToken, res)
}

// GetAppUserCredits returns the current credit balance of a user.
func (c *Client) GetAppUserCredits(ctx context.Context, userid string) (float64, error) {
	res, err := c.caller.Invoke(ctx, procGetAppUserCredits, rpc.Params{rpc.ParamUserId: userid})
	if err != nil {
		return 0, err
	}
	return asFloat64(procGetAppUserCredits, res)
}

// CreateToken mints a new token for a user. The value is opaque to the
// client; data.ParseTokenInfo decodes it for display.
func (c *Client) CreateToken(ctx context.Context, userid string) (string, error) {
	res, err := c.caller.Invoke(ctx, procCreateToken, rpc.Params{rpc.ParamUserId: userid})
	if err != nil {
		return "", err
	}
	return asString(procCreateToken, res)
}

// DeactivateAppUser fetches the user's active token and revokes it. Two
// calls with no transaction between them: the user can change concurrently,
// and only the failing call's error is reported. Not idempotent; a second
// deactivation fails because no active token remains.
func (c *Client) DeactivateAppUser(ctx context.Context, userid string) (bool, error) {
	token, err := c.GetAppUserToken(ctx, userid)
	if err != nil {
		return false, err
	}
	res, err := c.caller.Invoke(ctx, procDeactivateToken, rpc.Params{rpc.ParamToken: token})
	if err != nil {
		return false, err
	}
	return asBool(procDeactivateToken, res)
}

// AddCredit adjusts a user's balance by a signed amount and returns the new
// balance.
func (c *Client) AddCredit(ctx context.Context, userid string, amount float64) (float64, error) {
	res, err := c.caller.Invoke(ctx, procAddCredit, rpc.Params{
		rpc.ParamUserId: userid,
		rpc.ParamAmount: amount,
	})
	if err != nil {
		return 0, err
	}
	return asFloat64(procAddCredit, res)
}

// PostJob enqueues one job for a target service, attaching the client's
// worker filter as the routing constraint. Returns the job identifier.
func (c *Client) PostJob(ctx context.Context, serviceid string, jobconfig string) (string, error) {
	res, err := c.caller.Invoke(ctx, procPostJob, rpc.Params{
		rpc.ParamServiceId:    serviceid,
		rpc.ParamJobConfig:    jobconfig,
		rpc.ParamWorkerFilter: c.filter.Map(),
	})
	if err != nil {
		return "", err
	}
	return asString(procPostJob, res)
}

// RunStableDiffusion serializes the config and submits it to the stable
// diffusion service.
func (c *Client) RunStableDiffusion(ctx context.Context, config *data.StableDiffusionConfig) (string, error) {
	blob, err := config.Encode()
	if err != nil {
		return "", err
	}
	return c.PostJob(ctx, data.ServiceIdStableDiffusion, blob)
}

// GetAppUserJobHistoryDetail fetches one page of a user's job history.
func (c *Client) GetAppUserJobHistoryDetail(ctx context.Context, userid string, limit int, offset int) ([]data.JobRecord, error) {
	res, err := c.caller.Invoke(ctx, procGetAppUserJobHistoryDetail, rpc.Params{
		rpc.ParamUserId: userid,
		rpc.ParamLimit:  limit,
		rpc.ParamOffset: offset,
	})
	if err != nil {
		return nil, err
	}
	// the backend returns a list of record objects; re-marshal into the
	// typed form
	b, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	records := []data.JobRecord{}
	err = json.Unmarshal(b, &records)
	if err != nil {
		return nil, fmt.Errorf("%s: decode history: %w", procGetAppUserJobHistoryDetail, err)
	}
	return records, nil
}

func asString(procedure string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected result type %T", procedure, v)
	}
	return s, nil
}

func asFloat64(procedure string, v interface{}) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected result type %T", procedure, v)
	}
	return f, nil
}

func asBool(procedure string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected result type %T", procedure, v)
	}
	return b, nil
}
