// Package stub is an in-memory emulator of the dfapi backend's procedure
// surface, for local development and tests. It enforces the same visible
// rules the production backend does (credential checks, active-token
// lifecycle, credit floor) but is not the product.
package stub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"github.com/huo-ju/dfclient/pkg/data"
	"github.com/huo-ju/dfclient/pkg/rpc"
)

const (
	defaultQuota         = float64(100)
	defaultTokenLifetime = 30 * 24 * time.Hour
)

var (
	ErrBadCredentials = errors.New("invalid application credentials")
	ErrUnknownUser    = errors.New("unknown user")
	ErrNoActiveToken  = errors.New("no active token")
)

type user struct {
	id      string
	credits float64
	tokenid string // active token id, empty when none
}

type token struct {
	id     string
	userid string
	value  string
	active bool
}

type job struct {
	record data.JobRecord
	filter map[string]interface{}
}

// Core holds the emulated backend state. One Core serves one application
// credential triple; calls with any other triple are rejected.
type Core struct {
	mu        sync.Mutex
	creds     data.Credentials
	jwtsecret string

	users  map[string]*user
	tokens map[string]*token
	jobs   map[string]*job
	joblog []string // job ids in submission order, app wide
}

func NewCore(creds data.Credentials, jwtsecret string) *Core {
	return &Core{
		creds:     creds,
		jwtsecret: jwtsecret,
		users:     make(map[string]*user),
		tokens:    make(map[string]*token),
		jobs:      make(map[string]*job),
	}
}

// Dispatch runs one named procedure against the emulated state. The result
// value stays inside the structpb domain so it can be re-encoded as a
// response envelope.
func (c *Core) Dispatch(procedure string, params rpc.Params) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if params[rpc.ParamSecret] != c.creds.Secret ||
		params[rpc.ParamApplicationId] != c.creds.ApplicationId ||
		params[rpc.ParamKey] != c.creds.Key {
		return nil, ErrBadCredentials
	}

	switch procedure {
	case "echo":
		return params[rpc.ParamMessage], nil
	case "createAppUser":
		return c.createAppUser(), nil
	case "getAppUserToken":
		return c.getAppUserToken(params)
	case "getAppUserCredits":
		u, err := c.lookupUser(params)
		if err != nil {
			return nil, err
		}
		return u.credits, nil
	case "createToken":
		return c.createToken(params)
	case "deactivateToken":
		return c.deactivateToken(params)
	case "addCredit":
		return c.addCredit(params)
	case "postJob":
		return c.postJob(params)
	case "getAppUserJobHistoryDetail":
		return c.jobHistoryDetail(params)
	}
	return nil, fmt.Errorf("unsupported procedure: %s", procedure)
}

func (c *Core) lookupUser(params rpc.Params) (*user, error) {
	userid, _ := params[rpc.ParamUserId].(string)
	u, ok := c.users[userid]
	if !ok {
		return nil, ErrUnknownUser
	}
	return u, nil
}

func (c *Core) createAppUser() string {
	id := uuid.New().String()
	c.users[id] = &user{id: id}
	return id
}

func (c *Core) getAppUserToken(params rpc.Params) (interface{}, error) {
	u, err := c.lookupUser(params)
	if err != nil {
		return nil, err
	}
	if u.tokenid == "" {
		return nil, ErrNoActiveToken
	}
	return c.tokens[u.tokenid].value, nil
}

func (c *Core) createToken(params rpc.Params) (interface{}, error) {
	u, err := c.lookupUser(params)
	if err != nil {
		return nil, err
	}

	tokenid := uuid.New().String()
	t := jwt.New(jwt.SigningMethodHS256)
	claims := t.Claims.(jwt.MapClaims)
	claims["id"] = tokenid
	claims["userid"] = u.id
	claims["quota"] = defaultQuota
	claims["exp"] = time.Now().Add(defaultTokenLifetime).Unix()
	value, err := t.SignedString([]byte(c.jwtsecret))
	if err != nil {
		return nil, err
	}

	// a new token supersedes the previous active one
	if u.tokenid != "" {
		c.tokens[u.tokenid].active = false
	}
	c.tokens[tokenid] = &token{id: tokenid, userid: u.id, value: value, active: true}
	u.tokenid = tokenid
	return value, nil
}

func (c *Core) deactivateToken(params rpc.Params) (interface{}, error) {
	value, _ := params[rpc.ParamToken].(string)
	for _, t := range c.tokens {
		if t.value == value {
			if !t.active {
				return nil, ErrNoActiveToken
			}
			t.active = false
			c.users[t.userid].tokenid = ""
			return true, nil
		}
	}
	return nil, ErrNoActiveToken
}

func (c *Core) addCredit(params rpc.Params) (interface{}, error) {
	u, err := c.lookupUser(params)
	if err != nil {
		return nil, err
	}
	amount, ok := params[rpc.ParamAmount].(float64)
	if !ok {
		return nil, errors.New("amount must be a number")
	}
	if u.credits+amount < 0 {
		return nil, errors.New("insufficient credits")
	}
	u.credits += amount
	return u.credits, nil
}

func (c *Core) postJob(params rpc.Params) (interface{}, error) {
	serviceid, _ := params[rpc.ParamServiceId].(string)
	jobconfig, _ := params[rpc.ParamJobConfig].(string)
	if serviceid == "" {
		return nil, errors.New("missing service id")
	}
	filter, _ := params[rpc.ParamWorkerFilter].(map[string]interface{})

	jobid := uuid.New().String()
	c.jobs[jobid] = &job{
		record: data.JobRecord{
			JobId:     jobid,
			ServiceId: serviceid,
			JobConfig: jobconfig,
			Status:    data.JobStatusPending,
			Created:   time.Now().Unix(),
		},
		filter: filter,
	}
	c.joblog = append(c.joblog, jobid)
	return jobid, nil
}

// jobHistoryDetail pages the application-wide job ledger. The production
// backend scopes history to the acting user it infers server side; the
// emulator keeps one ledger per application and serves it for any known
// user.
func (c *Core) jobHistoryDetail(params rpc.Params) (interface{}, error) {
	_, err := c.lookupUser(params)
	if err != nil {
		return nil, err
	}
	limit := intParam(params, rpc.ParamLimit)
	offset := intParam(params, rpc.ParamOffset)
	if limit < 0 || offset < 0 {
		return nil, errors.New("limit and offset must not be negative")
	}

	records := []interface{}{}
	for i := offset; i < len(c.joblog) && len(records) < limit; i++ {
		r := c.jobs[c.joblog[i]].record
		records = append(records, map[string]interface{}{
			"job_id":     r.JobId,
			"service_id": r.ServiceId,
			"job_config": r.JobConfig,
			"status":     string(r.Status),
			"created":    r.Created,
		})
	}
	return records, nil
}

// numbers arrive as float64 after envelope decoding
func intParam(params rpc.Params, key string) int {
	f, _ := params[key].(float64)
	return int(f)
}
