package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iamxvbaba/rsocketdemo"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

var (
	envFile        string
	addr           string
	httpAddr       string
	profiles       []string
	logLevel       string
	streamInterval string
	gatewaySecret  string

	rootCmd = &cobra.Command{
		Use:          "server",
		Short:        "Starts the RSocket demo server.",
		SilenceUsage: true,
		RunE:         run,
	}
)

func run(cmd *cobra.Command, _ []string) error {
	opts, err := rsocketdemo.LoadOptions(envFile)
	if err != nil {
		return errors.Wrap(err, "load options failed")
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		opts.Addr = addr
	}
	if flags.Changed("http-addr") {
		opts.HTTPAddr = httpAddr
	}
	if flags.Changed("profiles") {
		opts.Profiles = profiles
	}
	if flags.Changed("log-level") {
		opts.LogLevel = logLevel
	}
	if flags.Changed("gateway-secret") {
		opts.GatewaySecret = gatewaySecret
	}
	if flags.Changed("stream-interval") {
		d, err := rsocketdemo.ParseInterval([]byte(`"` + streamInterval + `"`))
		if err != nil {
			return errors.Wrap(err, "parse --stream-interval failed")
		}
		opts.StreamInterval = d
	}
	opts.ApplyProfiles()
	if err := opts.Validate(); err != nil {
		return err
	}
	rsocketdemo.SetLogger(opts.LogLevel)
	logger.WithField("profiles", opts.Profiles).Info("starting")

	// 监听系统信号并优雅关闭
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return errors.Wrap(rsocketdemo.NewServer(&opts).Serve(ctx), "serve failed")
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&addr, "addr", ":7000", "rsocket tcp listen address")
	flags.StringVar(&httpAddr, "http-addr", ":8080", "http listen address for /ws, /healthz and /peers (empty disables)")
	flags.StringSliceVar(&profiles, "profiles", nil, "active profiles, e.g. resumption")
	flags.StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn or error")
	flags.StringVar(&streamInterval, "stream-interval", "1s", "emission period of the stream route")
	flags.StringVar(&gatewaySecret, "gateway-secret", "", "shared secret required by the websocket gateway")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
