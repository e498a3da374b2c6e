package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidahmann/surety/internal/auth"
	"github.com/davidahmann/surety/internal/events"
	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/internal/oraclenode"
	"github.com/davidahmann/surety/internal/params"
	"github.com/davidahmann/surety/pkg/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runFn(ctx, os.Args[1:], os.Getenv); err != nil {
		fatalf("oracled error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string

type options struct {
	gateway      string
	oracles      int
	prefix       string
	stake        string
	status       int
	codes        string
	seed         uint64
	retries      int
	devToken     string
	jwtSecret    string
	eventsDriver string
	eventsURL    string
	exchange     string
	channel      string
	queue        string
	logLevel     string
}

func run(ctx context.Context, args []string, getenv envFn) error {
	cmd := newRootCmd(getenv)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(getenv envFn) *cobra.Command {
	o := &options{}
	c := &cobra.Command{
		Use:           "surety-oracled",
		Short:         "Answer oracle requests for a fleet of oracle addresses",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *o)
		},
	}

	flags := c.Flags()
	flags.StringVar(&o.gateway, "gateway", firstNonEmpty(getenv("SURETY_ADDR"), "http://localhost:8080"), "gateway API address")
	flags.IntVar(&o.oracles, "oracles", 20, "number of oracle addresses to operate")
	flags.StringVar(&o.prefix, "prefix", "0xoracle", "address prefix; addresses are <prefix><nnn>")
	flags.StringVar(&o.stake, "stake", "1 ether", "registration stake per oracle")
	flags.IntVar(&o.status, "status", 0, "report this status code for every request; 0 picks at random")
	flags.StringVar(&o.codes, "codes", "", "comma-separated status codes to pick from at random")
	flags.Uint64Var(&o.seed, "seed", 0, "random seed; 0 uses the clock")
	flags.IntVar(&o.retries, "retries", 3, "resubmissions after transport errors")
	flags.StringVar(&o.devToken, "dev-token", getenv("SURETY_DEV_TOKEN"), "gateway dev token")
	flags.StringVar(&o.jwtSecret, "jwt-secret", getenv("SURETY_JWT_SECRET"), "gateway JWT secret")
	flags.StringVar(&o.eventsDriver, "events-driver", firstNonEmpty(getenv("SURETY_EVENTS_DRIVER"), events.DriverAMQP), "amqp, redis or memory")
	flags.StringVar(&o.eventsURL, "events-url", getenv("SURETY_EVENTS_URL"), "broker URL")
	flags.StringVar(&o.exchange, "exchange", "surety.events", "AMQP exchange")
	flags.StringVar(&o.channel, "channel-prefix", "surety", "Redis channel prefix")
	flags.StringVar(&o.queue, "queue", "", "durable AMQP queue shared by replicas; empty uses an exclusive queue")
	flags.StringVar(&o.logLevel, "log-level", firstNonEmpty(getenv("SURETY_LOG_LEVEL"), "info"), "log level")
	return c
}

func serve(ctx context.Context, o options) error {
	if o.oracles < 1 {
		return fmt.Errorf("--oracles must be at least 1")
	}
	stake, err := params.ParseAmount(o.stake)
	if err != nil {
		return fmt.Errorf("--stake: %w", err)
	}
	chooser, err := newChooser(o)
	if err != nil {
		return err
	}

	var creds oraclenode.Credentials
	switch {
	case o.jwtSecret != "":
		creds = oraclenode.JWTCredentials(auth.NewJWTAuthenticator(o.jwtSecret), 5*time.Minute)
	case o.devToken != "":
		creds = oraclenode.DevCredentials(o.devToken)
	default:
		return errors.New("--jwt-secret or --dev-token is required")
	}

	log, err := logger.New(o.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	broker, err := events.Open(ctx, events.Options{
		Driver:        o.eventsDriver,
		URL:           o.eventsURL,
		Exchange:      o.exchange,
		ChannelPrefix: o.channel,
		Queue:         o.queue,
		Log:           log.With("component", "events"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	addrs := make([]string, o.oracles)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("%s%03d", o.prefix, i+1)
	}
	node, err := oraclenode.New(oraclenode.NewHTTPLedger(o.gateway, creds), oraclenode.Options{
		Addresses: addrs,
		Stake:     stake.Big(),
		Chooser:   chooser,
		Log:       log,
		Retries:   o.retries,
	})
	if err != nil {
		return err
	}
	if err := node.Register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	log.Info("surety-oracled running", "oracles", len(addrs), "gateway", o.gateway, "events", o.eventsDriver)
	return node.Run(ctx, broker)
}

func newChooser(o options) (oraclenode.StatusChooser, error) {
	if o.status != 0 {
		code := types.StatusCode(o.status)
		if !code.Reportable() {
			return nil, fmt.Errorf("--status %d is not a reportable status", o.status)
		}
		return oraclenode.FixedStatus(code), nil
	}

	var codes []types.StatusCode
	for _, part := range strings.Split(o.codes, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("--codes: %w", err)
		}
		code := types.StatusCode(n)
		if !code.Reportable() {
			return nil, fmt.Errorf("--codes: %d is not a reportable status", n)
		}
		codes = append(codes, code)
	}
	seed := o.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return oraclenode.NewRandomStatus(seed, codes), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
