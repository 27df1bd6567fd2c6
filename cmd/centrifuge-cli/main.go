// Package main is the entry point for the centrifuge-cli tool, a small
// command-line companion to the client library for poking at a running
// Centrifugo/Centrifuge server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	centrifuge "github.com/KatantDev/centrifuge-go"
	"github.com/KatantDev/centrifuge-go/internal/clicfg"
	"github.com/KatantDev/centrifuge-go/internal/output"
	"github.com/KatantDev/centrifuge-go/internal/shutdown"
)

// Version information - set by ldflags during build
var Version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "centrifuge-cli",
		Usage:   "Centrifugo websocket API client",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Server websocket endpoint",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Connection token (falls back to CENTRIFUGE_TOKEN)",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Operation timeout",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Use JSON output format (machine-readable)",
			},
			&cli.BoolFlag{
				Name:  "no-timestamps",
				Usage: "Hide timestamps in output",
			},
		},
		Commands: buildCommands(),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}

// buildCommands creates all CLI commands
func buildCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "publish",
			Usage:     "Publish a JSON payload into a channel",
			ArgsUsage: "<channel> <data>",
			Action:    wrapHandler(handlePublish),
		},
		{
			Name:      "subscribe",
			Usage:     "Subscribe to a channel and print publications until interrupted",
			ArgsUsage: "<channel>",
			Action:    wrapHandler(handleSubscribe),
		},
		{
			Name:      "history",
			Usage:     "Fetch channel history",
			ArgsUsage: "<channel> [limit]",
			Action:    wrapHandler(handleHistory),
		},
		{
			Name:      "presence",
			Usage:     "Show clients present in a channel",
			ArgsUsage: "<channel>",
			Action:    wrapHandler(handlePresence),
		},
		{
			Name:      "presence-stats",
			Usage:     "Show presence counters for a channel",
			ArgsUsage: "<channel>",
			Action:    wrapHandler(handlePresenceStats),
		},
		{
			Name:      "rpc",
			Usage:     "Call a server-side RPC method (data as JSON)",
			ArgsUsage: "<method> [data]",
			Action:    wrapHandler(handleRPC),
		},
	}
}

// handlerContext carries everything a command handler needs.
type handlerContext struct {
	ctx    context.Context
	client *centrifuge.Client
	coord  *shutdown.Coordinator
	args   []string
}

// wrapHandler builds a cli.ActionFunc that loads configuration, connects
// a client and hands control to the command handler.
func wrapHandler(handler func(*handlerContext) error) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		output.ConfigureFromFlags(cmd.Bool("json"), cmd.Bool("no-timestamps"))

		fileCfg, err := clicfg.Load(cmd.String("config"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
		}
		token := cmd.String("token")
		if token == "" {
			token = os.Getenv("CENTRIFUGE_TOKEN")
		}
		cfg := fileCfg.Merge(cmd.String("url"), token, cmd.Duration("timeout"))

		coord, ctx := shutdown.New()
		coord.HandleSignals()

		client := centrifuge.New(cfg.URL, centrifuge.Config{
			Token:       cfg.Token,
			Name:        "centrifuge-cli",
			Version:     Version,
			ReadTimeout: cfg.Timeout,
		})
		client.OnError(func(e centrifuge.ErrorEvent) {
			output.Error(e.Error, strconv.Itoa(int(e.Code)))
		})
		coord.RegisterCleanup("client", func(context.Context) error {
			return client.Disconnect()
		})

		if err := client.Connect(); err != nil {
			output.Error(err, "")
			return cli.Exit("", 1)
		}

		hctx := &handlerContext{
			ctx:    ctx,
			client: client,
			coord:  coord,
			args:   cmd.Args().Slice(),
		}
		if err := handler(hctx); err != nil {
			var replyErr *centrifuge.ReplyError
			if errors.As(err, &replyErr) {
				output.Error(err, strconv.Itoa(int(replyErr.Code)))
			} else {
				output.Error(err, "")
			}
			coord.Shutdown("command failed")
			return cli.Exit("", 1)
		}
		coord.Shutdown("command finished")
		return nil
	}
}

func handlePublish(h *handlerContext) error {
	if len(h.args) < 2 {
		return errors.New("usage: publish <channel> <data>")
	}
	channel, data := h.args[0], h.args[1]
	if _, err := h.client.Publish(h.ctx, channel, []byte(data)); err != nil {
		return err
	}
	output.Messagef("published to %s", channel)
	return nil
}

func handleSubscribe(h *handlerContext) error {
	if len(h.args) < 1 {
		return errors.New("usage: subscribe <channel>")
	}
	channel := h.args[0]

	sub, err := h.client.NewSubscription(channel, centrifuge.SubscriptionConfig{})
	if err != nil {
		return err
	}
	sub.OnSubscribed(func(e centrifuge.SubscribedEvent) {
		output.Messagef("subscribed to %s", e.Channel)
	})
	sub.OnSubscribing(func(e centrifuge.SubscribingEvent) {
		output.Messagef("subscribing to %s (%s)", channel, e.Reason)
	})
	sub.OnUnsubscribed(func(e centrifuge.UnsubscribedEvent) {
		output.Messagef("unsubscribed from %s: %d %s", channel, e.Code, e.Reason)
	})
	sub.OnPublication(func(e centrifuge.PublicationEvent) {
		output.Event(channel, e.Data)
	})
	sub.OnJoin(func(e centrifuge.JoinEvent) {
		output.Messagef("join %s: client %s user %s", channel, e.Info.Client, e.Info.User)
	})
	sub.OnLeave(func(e centrifuge.LeaveEvent) {
		output.Messagef("leave %s: client %s user %s", channel, e.Info.Client, e.Info.User)
	})

	if err := sub.Subscribe(); err != nil {
		return err
	}
	if err := sub.Ready(h.ctx); err != nil {
		return err
	}

	// Stream until the user interrupts.
	<-h.ctx.Done()
	return nil
}

func handleHistory(h *handlerContext) error {
	if len(h.args) < 1 {
		return errors.New("usage: history <channel> [limit]")
	}
	channel := h.args[0]
	limit := int32(10)
	if len(h.args) > 1 {
		parsed, err := strconv.ParseInt(h.args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
		limit = int32(parsed)
	}

	res, err := h.client.History(h.ctx, channel, centrifuge.HistoryOptions{Limit: limit})
	if err != nil {
		return err
	}
	output.Messagef("history of %s: %d publications, offset %d, epoch %q",
		channel, len(res.Publications), res.Offset, res.Epoch)
	for _, pub := range res.Publications {
		output.Event(channel, pub.Data)
	}
	return nil
}

func handlePresence(h *handlerContext) error {
	if len(h.args) < 1 {
		return errors.New("usage: presence <channel>")
	}
	res, err := h.client.Presence(h.ctx, h.args[0])
	if err != nil {
		return err
	}
	output.Data("presence", res.Clients)
	return nil
}

func handlePresenceStats(h *handlerContext) error {
	if len(h.args) < 1 {
		return errors.New("usage: presence-stats <channel>")
	}
	res, err := h.client.PresenceStats(h.ctx, h.args[0])
	if err != nil {
		return err
	}
	output.Messagef("%d clients, %d users", res.NumClients, res.NumUsers)
	return nil
}

func handleRPC(h *handlerContext) error {
	if len(h.args) < 1 {
		return errors.New("usage: rpc <method> [data]")
	}
	data := "{}"
	if len(h.args) > 1 {
		data = h.args[1]
	}
	res, err := h.client.RPC(h.ctx, h.args[0], []byte(data))
	if err != nil {
		return err
	}
	output.Event(h.args[0], res.Data)
	return nil
}
