package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/huo-ju/dfclient/pkg/data"
	"github.com/huo-ju/dfclient/pkg/rpc"
	"github.com/huo-ju/dfclient/pkg/stub"
)

var testCreds = data.Credentials{ApplicationId: "app-1", Key: "key-1", Secret: "secret-1"}

// loopConn runs calls against an in-process stub core, no broker needed.
type loopConn struct {
	core *stub.Core
	jobs map[string]chan []byte
}

func newLoopConn(core *stub.Core) *loopConn {
	return &loopConn{core: core, jobs: make(map[string]chan []byte)}
}

func (l *loopConn) Call(ctx context.Context, body []byte) ([]byte, error) {
	procedure, params, err := rpc.DecodeRequest(body)
	if err != nil {
		return nil, err
	}
	res, derr := l.core.Dispatch(procedure, params)
	if derr != nil {
		return rpc.EncodeError(derr.Error())
	}
	return rpc.EncodeResult(res)
}

func (l *loopConn) SubscribeJob(jobid string) (<-chan []byte, func() error, error) {
	ch := make(chan []byte, 8)
	l.jobs[jobid] = ch
	cancel := func() error {
		delete(l.jobs, jobid)
		close(ch)
		return nil
	}
	return ch, cancel, nil
}

func (l *loopConn) Close() {}

func newTestClient(t *testing.T) (*Client, *stub.Core, *loopConn) {
	core := stub.NewCore(testCreds, "a_test_secret")
	conn := newLoopConn(core)
	cli, err := New(testCreds, &Options{Conn: conn})
	if err != nil {
		t.Fatalf("new client err: %s", err)
	}
	return cli, core, conn
}

func TestEchoRoundTrip(t *testing.T) {
	cli, _, _ := newTestClient(t)
	echoed, err := cli.Echo(context.Background(), "banana")
	if err != nil {
		t.Fatalf("echo err: %s", err)
	}
	if echoed != "banana" {
		t.Errorf("err, expect echo: banana ,result: %s", echoed)
	}
}

func TestCreateAppUserDistinctIds(t *testing.T) {
	cli, _, _ := newTestClient(t)
	ctx := context.Background()
	u1, err := cli.CreateAppUser(ctx)
	if err != nil {
		t.Fatalf("createAppUser err: %s", err)
	}
	u2, err := cli.CreateAppUser(ctx)
	if err != nil {
		t.Fatalf("createAppUser err: %s", err)
	}
	if u1 == "" || u2 == "" || u1 == u2 {
		t.Errorf("err, expect two distinct non-empty ids ,result: %s %s", u1, u2)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cli, _, _ := newTestClient(t)
	ctx := context.Background()
	userid, err := cli.CreateAppUser(ctx)
	if err != nil {
		t.Fatalf("createAppUser err: %s", err)
	}
	minted, err := cli.CreateToken(ctx, userid)
	if err != nil {
		t.Fatalf("createToken err: %s", err)
	}
	fetched, err := cli.GetAppUserToken(ctx, userid)
	if err != nil {
		t.Fatalf("getAppUserToken err: %s", err)
	}
	if minted != fetched {
		t.Errorf("err, expect fetched token equal minted token")
	}
}

func TestDeactivateAppUser(t *testing.T) {
	cli, _, _ := newTestClient(t)
	ctx := context.Background()
	userid, _ := cli.CreateAppUser(ctx)
	_, err := cli.CreateToken(ctx, userid)
	if err != nil {
		t.Fatalf("createToken err: %s", err)
	}

	ok, err := cli.DeactivateAppUser(ctx, userid)
	if err != nil {
		t.Fatalf("deactivate err: %s", err)
	}
	if !ok {
		t.Errorf("err, expect deactivate true")
	}

	// not idempotent: the second call fails on the token fetch
	_, err = cli.DeactivateAppUser(ctx, userid)
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err, expect RemoteError on double deactivation ,result: %v", err)
	}
}

func TestAddCreditAndBalance(t *testing.T) {
	cli, _, _ := newTestClient(t)
	ctx := context.Background()
	userid, _ := cli.CreateAppUser(ctx)

	balance, err := cli.AddCredit(ctx, userid, 20)
	if err != nil {
		t.Fatalf("addCredit err: %s", err)
	}
	if balance != 20 {
		t.Errorf("err, expect balance: 20 ,result: %f", balance)
	}

	balance, err = cli.GetAppUserCredits(ctx, userid)
	if err != nil {
		t.Fatalf("getAppUserCredits err: %s", err)
	}
	if balance != 20 {
		t.Errorf("err, expect balance: 20 ,result: %f", balance)
	}

	_, err = cli.AddCredit(ctx, userid, -100)
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err, expect RemoteError ,result: %v", err)
	}
	if remote.Message != "insufficient credits" {
		t.Errorf("err, expect insufficient credits ,result: %s", remote.Message)
	}
}

func TestRunStableDiffusion(t *testing.T) {
	cli, _, _ := newTestClient(t)
	ctx := context.Background()
	userid, _ := cli.CreateAppUser(ctx)

	config := &data.StableDiffusionConfig{
		Steps:           28,
		SkipSteps:       0,
		BatchSize:       data.BatchSize1,
		Sampler:         data.SamplerKEuler,
		GuidanceScale:   10,
		Width:           data.Size512,
		Height:          data.Size512,
		Prompt:          "banana in the kitchen",
		NegativePrompt:  "ugly",
		ImageFormat:     data.FormatJpeg,
		TranslatePrompt: false,
		NsfwFilter:      false,
	}
	jobid, err := cli.RunStableDiffusion(ctx, config)
	if err != nil {
		t.Fatalf("runStableDiffusion err: %s", err)
	}
	if jobid == "" {
		t.Fatalf("expect non-empty job id")
	}

	records, err := cli.GetAppUserJobHistoryDetail(ctx, userid, 10, 0)
	if err != nil {
		t.Fatalf("history err: %s", err)
	}
	if len(records) != 1 {
		t.Fatalf("err, expect 1 record ,result: %d", len(records))
	}
	if records[0].JobId != jobid {
		t.Errorf("err, expect job id: %s ,result: %s", jobid, records[0].JobId)
	}
	if records[0].ServiceId != data.ServiceIdStableDiffusion {
		t.Errorf("err, expect service id: %s ,result: %s", data.ServiceIdStableDiffusion, records[0].ServiceId)
	}

	blob, _ := config.Encode()
	if records[0].JobConfig != blob {
		t.Errorf("err, expect job config: %s ,result: %s", blob, records[0].JobConfig)
	}
}

func TestSubscribeJobResult(t *testing.T) {
	cli, core, conn := newTestClient(t)
	ctx := context.Background()

	config := &data.StableDiffusionConfig{
		Steps:       28,
		BatchSize:   data.BatchSize1,
		Sampler:     data.SamplerKEuler,
		Width:       data.Size512,
		Height:      data.Size512,
		Prompt:      "banana in the kitchen",
		ImageFormat: data.FormatJpeg,
	}
	jobid, err := cli.RunStableDiffusion(ctx, config)
	if err != nil {
		t.Fatalf("runStableDiffusion err: %s", err)
	}

	results := make(chan data.JobResult, 1)
	sub, err := cli.SubscribeJobResult(jobid, func(r data.JobResult) {
		results <- r
	})
	if err != nil {
		t.Fatalf("subscribe err: %s", err)
	}

	// a non-result event is ignored
	conn.jobs[jobid] <- []byte("{\"event\":\"progress\",\"job_id\":\"" + jobid + "\"}")

	event, err := core.CompleteJob(jobid)
	if err != nil {
		t.Fatalf("complete err: %s", err)
	}
	conn.jobs[jobid] <- event

	select {
	case r := <-results:
		if r.JobId != jobid {
			t.Errorf("err, expect job id: %s ,result: %s", jobid, r.JobId)
		}
		if r.Status != data.JobStatusCompleted {
			t.Errorf("err, expect status completed ,result: %s", r.Status)
		}
		output, err := data.DecodeOutput[map[string][]string](r)
		if err != nil {
			t.Fatalf("decode output err: %s", err)
		}
		if len(output["images"]) != 1 {
			t.Errorf("err, expect 1 image ,result: %v", output)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no result delivered")
	}

	err = sub.Close()
	if err != nil {
		t.Fatalf("close err: %s", err)
	}
	if _, ok := conn.jobs[jobid]; ok {
		t.Errorf("expect job queue removed after close")
	}
}

func TestWorkerFilterDefaultsToProduction(t *testing.T) {
	core := stub.NewCore(testCreds, "a_test_secret")
	conn := &filterCaptureConn{loopConn: newLoopConn(core)}
	cli, err := New(testCreds, &Options{Conn: conn})
	if err != nil {
		t.Fatalf("new client err: %s", err)
	}

	_, err = cli.PostJob(context.Background(), data.ServiceIdStableDiffusion, "{}")
	if err != nil {
		t.Fatalf("postJob err: %s", err)
	}
	if conn.filter["branch"] != data.ProductionBranch {
		t.Errorf("err, expect branch: %s ,result: %v", data.ProductionBranch, conn.filter["branch"])
	}
}

type filterCaptureConn struct {
	*loopConn
	filter map[string]interface{}
}

func (f *filterCaptureConn) Call(ctx context.Context, body []byte) ([]byte, error) {
	_, params, err := rpc.DecodeRequest(body)
	if err == nil {
		if m, ok := params[rpc.ParamWorkerFilter].(map[string]interface{}); ok {
			f.filter = m
		}
	}
	return f.loopConn.Call(ctx, body)
}
