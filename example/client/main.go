package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iamxvbaba/rsocketdemo"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

var (
	addr      string
	profiles  []string
	logLevel  string
	count     int
	intervals []string
	step      time.Duration

	rootCmd = &cobra.Command{
		Use:               "client",
		Short:             "Talks to the RSocket demo server.",
		SilenceUsage:      true,
		PersistentPreRunE: func(*cobra.Command, []string) error { rsocketdemo.SetLogger(logLevel); return nil },
	}

	requestResponseCmd = &cobra.Command{
		Use:   "request-response",
		Short: "Sends one message and prints the reply.",
		RunE: withClient(func(ctx context.Context, c *rsocketdemo.Client) error {
			msg, err := c.RequestResponse(ctx, rsocketdemo.NewMessage(rsocketdemo.OriginClient, rsocketdemo.InteractionRequest))
			if err != nil {
				return err
			}
			printMessage(msg)
			return nil
		}),
	}

	fireAndForgetCmd = &cobra.Command{
		Use:   "fire-and-forget",
		Short: "Sends one message without waiting for a reply.",
		RunE: withClient(func(ctx context.Context, c *rsocketdemo.Client) error {
			if err := c.FireAndForget(rsocketdemo.NewMessage(rsocketdemo.OriginClient, rsocketdemo.InteractionFireAndForget)); err != nil {
				return err
			}
			// 留出时间让帧写出
			time.Sleep(100 * time.Millisecond)
			color.Green("fire-and-forget sent")
			return nil
		}),
	}

	streamCmd = &cobra.Command{
		Use:   "stream",
		Short: "Subscribes to the stream route.",
		RunE: withClient(func(ctx context.Context, c *rsocketdemo.Client) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			msgs, errc := c.Stream(ctx, rsocketdemo.NewMessage(rsocketdemo.OriginClient, rsocketdemo.InteractionStream))
			return drain(cancel, msgs, errc)
		}),
	}

	channelCmd = &cobra.Command{
		Use:   "channel",
		Short: "Opens the channel route, sending each --intervals entry every --step.",
		RunE: withClient(func(ctx context.Context, c *rsocketdemo.Client) error {
			settings := make([]time.Duration, 0, len(intervals))
			for _, s := range intervals {
				d, err := time.ParseDuration(s)
				if err != nil {
					return errors.Wrapf(err, "parse interval %s failed", s)
				}
				settings = append(settings, d)
			}
			if len(settings) == 0 {
				return errors.New("at least one interval is required")
			}
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			in := make(chan time.Duration)
			go func() {
				defer close(in)
				for i, d := range settings {
					if i > 0 {
						select {
						case <-ctx.Done():
							return
						case <-time.After(step):
						}
					}
					color.Yellow("-> interval %s", d)
					select {
					case in <- d:
					case <-ctx.Done():
						return
					}
				}
			}()
			msgs, errc := c.Channel(ctx, in)
			return drain(cancel, msgs, errc)
		}),
	}
)

func withClient(fn func(context.Context, *rsocketdemo.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		opts := rsocketdemo.DefaultOptions()
		opts.Profiles = profiles
		opts.ApplyProfiles()
		c, err := rsocketdemo.Dial(ctx, addr, &opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil {
				logger.WithError(err).Warn("close client failed")
			}
		}()
		return fn(ctx, c)
	}
}

// drain 打印消息直到收到 count 条（0 表示不限）或流结束
func drain(cancel context.CancelFunc, msgs <-chan rsocketdemo.Message, errc <-chan error) error {
	received := 0
	for msg := range msgs {
		printMessage(msg)
		received++
		if count > 0 && received >= count {
			cancel()
			return nil
		}
	}
	if err := <-errc; err != nil {
		return err
	}
	return nil
}

func printMessage(m rsocketdemo.Message) {
	switch m.Interaction {
	case rsocketdemo.InteractionStream:
		color.Cyan("%s", m)
	case rsocketdemo.InteractionChannel:
		color.Magenta("%s", m)
	default:
		color.Green("%s", m)
	}
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&addr, "addr", "127.0.0.1:7000", "rsocket server address")
	pflags.StringSliceVar(&profiles, "profiles", nil, "active profiles, e.g. resumption")
	pflags.StringVar(&logLevel, "log-level", "warn", "trace, debug, info, warn or error")

	streamCmd.Flags().IntVar(&count, "count", 0, "stop after this many messages (0 = until interrupted)")
	channelCmd.Flags().IntVar(&count, "count", 0, "stop after this many messages (0 = until interrupted)")
	channelCmd.Flags().StringSliceVar(&intervals, "intervals", []string{"1s"}, "interval settings to send in order")
	channelCmd.Flags().DurationVar(&step, "step", 5*time.Second, "delay between interval settings")

	rootCmd.AddCommand(
		requestResponseCmd,
		fireAndForgetCmd,
		streamCmd,
		channelCmd,
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
