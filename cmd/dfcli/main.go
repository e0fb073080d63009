package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/huo-ju/dfclient/pkg/client"
	"github.com/huo-ju/dfclient/pkg/data"
)

var GitCommit string
var cfg Config

type Config struct {
	Service_url    string
	Access_key     string
	Application_id string
	Key            string
	Secret         string

	Worker_id      string
	Worker_name    string
	Worker_branch  string
	Worker_dirty   bool
	Worker_cluster string

	Tls_ca_cert     string
	Tls_client_cert string
	Tls_client_key  string
	Tls_servername  string
}

func loadtomlconf(configspath string, filename string) error {
	f, err := os.Open(fmt.Sprintf("%s/%s", configspath, filename))
	if err == nil {
		defer f.Close()
		data, err := ioutil.ReadAll(f)
		if err == nil {
			return toml.Unmarshal(data, &cfg)
		}
	}
	return err
}

func tlsconf() *tls.Config {
	if cfg.Tls_ca_cert == "" || cfg.Tls_client_cert == "" || cfg.Tls_client_key == "" ||
		strings.Index(cfg.Service_url, "amqps") != 0 {
		return nil
	}
	tlscfg := new(tls.Config)
	tlscfg.RootCAs = x509.NewCertPool()
	ca, err := ioutil.ReadFile(cfg.Tls_ca_cert)
	if err == nil {
		tlscfg.RootCAs.AppendCertsFromPEM(ca)
	} else {
		log.Fatalf("ca load err: %s", err)
	}
	cert, err := tls.LoadX509KeyPair(cfg.Tls_client_cert, cfg.Tls_client_key)
	if err == nil {
		tlscfg.Certificates = append(tlscfg.Certificates, cert)
	} else {
		log.Fatalf("x509keypair load err: %s", err)
	}
	if cfg.Tls_servername != "" {
		tlscfg.ServerName = cfg.Tls_servername
	}
	return tlscfg
}

func connect() *client.Client {
	creds := data.Credentials{
		ApplicationId: cfg.Application_id,
		Key:           cfg.Key,
		Secret:        cfg.Secret,
	}
	opts := &client.Options{
		ServiceURL: cfg.Service_url,
		AccessKey:  cfg.Access_key,
		TLS:        tlsconf(),
	}
	if cfg.Worker_branch != "" || cfg.Worker_id != "" || cfg.Worker_name != "" || cfg.Worker_cluster != "" {
		opts.WorkerFilter = &data.WorkerFilter{
			Id:      cfg.Worker_id,
			Name:    cfg.Worker_name,
			Branch:  cfg.Worker_branch,
			Dirty:   cfg.Worker_dirty,
			Cluster: cfg.Worker_cluster,
		}
	}

	cli, err := client.New(creds, opts)
	for err != nil {
		log.Printf("Err connect %s\n", err)
		log.Println("wait 5 Second for reconnect")
		time.Sleep(5 * time.Second)
		cli, err = client.New(creds, opts)
	}
	return cli
}

func main() {
	var configpath string
	var conffilename string

	var prompt string
	var negative string
	var steps uint
	var width uint
	var height uint
	var batch uint
	var sampler string
	var scale float64
	var format string
	var translate bool
	var nsfw bool
	var seed uint64

	flag.StringVar(&configpath, "confpath", "/etc/dfclient", "configurate file path")
	flag.StringVar(&conffilename, "conf", "config.toml", "configurate file name")
	flag.StringVar(&prompt, "prompt", "", "generation prompt")
	flag.StringVar(&negative, "negative", "", "negative prompt")
	flag.UintVar(&steps, "steps", 28, "inference steps")
	flag.UintVar(&width, "width", 512, "image width")
	flag.UintVar(&height, "height", 512, "image height")
	flag.UintVar(&batch, "batch", 1, "batch size")
	flag.StringVar(&sampler, "sampler", string(data.SamplerKEuler), "sampler algorithm")
	flag.Float64Var(&scale, "scale", 10, "guidance scale")
	flag.StringVar(&format, "format", string(data.FormatPng), "output image format")
	flag.BoolVar(&translate, "translate", false, "translate the prompt")
	flag.BoolVar(&nsfw, "nsfw", false, "enable the nsfw filter")
	flag.Uint64Var(&seed, "seed", 0, "generation seed, 0 for random")
	flag.Parse()

	err := loadtomlconf(configpath, conffilename)
	if err != nil {
		log.Fatalf("load config err %s\n", err)
	}
	log.Printf("Version: %s", GitCommit)

	args := flag.Args()
	if len(args) == 0 {
		log.Fatalln("usage: dfcli <echo|newuser|token|gettoken|credits|addcredit|deactivate|submit|history|watch> [args]")
	}

	cli := connect()
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "echo":
		message := "ping"
		if len(args) > 1 {
			message = args[1]
		}
		echoed, err := cli.Echo(ctx, message)
		exitOnErr(err)
		fmt.Println(echoed)
	case "newuser":
		userid, err := cli.CreateAppUser(ctx)
		exitOnErr(err)
		fmt.Println(userid)
	case "token":
		value, err := cli.CreateToken(ctx, arg(args, 1, "userid"))
		exitOnErr(err)
		fmt.Println(value)
		info, err := data.ParseTokenInfo(value)
		if err == nil {
			fmt.Printf("token %s user %s quota %.0f expires %s\n", info.Id, info.UserId, info.Quota, info.Expires)
		}
	case "gettoken":
		value, err := cli.GetAppUserToken(ctx, arg(args, 1, "userid"))
		exitOnErr(err)
		fmt.Println(value)
	case "credits":
		balance, err := cli.GetAppUserCredits(ctx, arg(args, 1, "userid"))
		exitOnErr(err)
		fmt.Println(balance)
	case "addcredit":
		amount, err := strconv.ParseFloat(arg(args, 2, "amount"), 64)
		exitOnErr(err)
		balance, err := cli.AddCredit(ctx, arg(args, 1, "userid"), amount)
		exitOnErr(err)
		fmt.Println(balance)
	case "deactivate":
		ok, err := cli.DeactivateAppUser(ctx, arg(args, 1, "userid"))
		exitOnErr(err)
		fmt.Println(ok)
	case "submit":
		if prompt == "" {
			log.Fatalln("submit needs -prompt")
		}
		config := &data.StableDiffusionConfig{
			Steps:           steps,
			BatchSize:       data.BatchSize(batch),
			Sampler:         data.Sampler(sampler),
			GuidanceScale:   float32(scale),
			Width:           data.ImageSize(width),
			Height:          data.ImageSize(height),
			Prompt:          prompt,
			NegativePrompt:  negative,
			ImageFormat:     data.ImageFormat(format),
			TranslatePrompt: translate,
			NsfwFilter:      nsfw,
		}
		if seed != 0 {
			config.Seed = &seed
		}
		jobid, err := cli.RunStableDiffusion(ctx, config)
		exitOnErr(err)
		fmt.Println(jobid)
	case "history":
		limit := 10
		offset := 0
		if len(args) > 2 {
			limit, _ = strconv.Atoi(args[2])
		}
		if len(args) > 3 {
			offset, _ = strconv.Atoi(args[3])
		}
		records, err := cli.GetAppUserJobHistoryDetail(ctx, arg(args, 1, "userid"), limit, offset)
		exitOnErr(err)
		for _, r := range records {
			fmt.Printf("%s %s %s %s\n", r.JobId, r.ServiceId, r.Status, time.Unix(r.Created, 0))
		}
	case "watch":
		jobid := arg(args, 1, "jobid")
		done := make(chan data.JobResult, 1)
		sub, err := cli.SubscribeJobResult(jobid, func(r data.JobResult) {
			done <- r
		})
		exitOnErr(err)
		defer sub.Close()
		result := <-done
		fmt.Printf("%s %s %s %s\n", result.JobId, result.Status, string(result.Output), result.Error)
	default:
		log.Fatalf("unknown command %s\n", args[0])
	}
}

func arg(args []string, i int, name string) string {
	if len(args) <= i {
		log.Fatalf("missing argument: %s\n", name)
	}
	return args[i]
}

func exitOnErr(err error) {
	if err != nil {
		log.Fatalln(err)
	}
}
