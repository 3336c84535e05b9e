package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serverrun "github.com/protocol-kit/jrow/internal/cmd/server"
	cfgpkg "github.com/protocol-kit/jrow/internal/config"
	"github.com/protocol-kit/jrow/pkg/client"
	logpkg "github.com/protocol-kit/jrow/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jrow",
		Short: "jrow runtime CLI",
		Long:  "jrow is a single-binary pub/sub server speaking JSON-RPC over WebSocket. This CLI manages the server and basic operations.",
	}
	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newSubscribeCommand())
	rootCmd.AddCommand(newTopicCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServerCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the jrow server (WebSocket and admin HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
				cfg.DataDir = v
			}
			if v, _ := cmd.Flags().GetString("ws"); v != "" {
				cfg.ListenWS = v
			}
			if v, _ := cmd.Flags().GetString("http"); v != "" {
				cfg.ListenHTTP = v
			}
			if v, _ := cmd.Flags().GetString("fsync"); v != "" {
				cfg.Fsync = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Log.Level = v
			}
			if v, _ := cmd.Flags().GetString("log-format"); v != "" {
				cfg.Log.Format = v
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	startCmd.Flags().String("config", "", "Config file (JSON or YAML)")
	startCmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	startCmd.Flags().String("ws", "", "WebSocket listen address (default :8080)")
	startCmd.Flags().String("http", "", "Admin HTTP listen address (default :9090)")
	startCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	startCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	startCmd.Flags().String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

func dialFlags(cmd *cobra.Command) (*client.Client, error) {
	url, _ := cmd.Flags().GetString("url")
	return client.Dial(cmd.Context(), client.Options{
		URL:    url,
		Logger: logpkg.NewLogger(logpkg.WithLevel(logpkg.WarnLevel)),
	})
}

func addURLFlag(cmd *cobra.Command) {
	def := os.Getenv("JROW_URL")
	if def == "" {
		def = "ws://127.0.0.1:8080"
	}
	cmd.Flags().String("url", def, "Server WebSocket URL")
}

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <topic> <payload>",
		Short: "Publish a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialFlags(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			payload := json.RawMessage(args[1])
			if !json.Valid(payload) {
				buf, _ := json.Marshal(args[1])
				payload = buf
			}
			persistent, _ := cmd.Flags().GetBool("persistent")
			if persistent {
				seq, notified, err := c.PublishPersistent(cmd.Context(), args[0], payload)
				if err != nil {
					return err
				}
				fmt.Printf("sequence: %d, notified: %d\n", seq, notified)
				return nil
			}
			notified, err := c.Publish(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			fmt.Printf("notified: %d\n", notified)
			return nil
		},
	}
	addURLFlag(cmd)
	cmd.Flags().Bool("persistent", false, "Append durably instead of fire-and-forget")
	return cmd
}

func newSubscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <pattern>",
		Short: "Subscribe and print messages until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c, err := dialFlags(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			handler := func(p client.Push) {
				if p.SequenceID > 0 {
					fmt.Printf("%s #%d %s\n", p.Topic, p.SequenceID, p.Payload)
				} else {
					fmt.Printf("%s %s\n", p.Topic, p.Payload)
				}
			}

			subID, _ := cmd.Flags().GetString("id")
			ack, _ := cmd.Flags().GetBool("ack")
			if subID != "" {
				h := handler
				if ack {
					h = func(p client.Push) {
						handler(p)
						_ = c.Ack(subID, p.SequenceID)
					}
				}
				res, err := c.SubscribePersistent(ctx, subID, args[0], h)
				if err != nil {
					return err
				}
				fmt.Printf("resumed from %d, %d undelivered\n", res.ResumedFromSequence, res.UndeliveredCount)
			} else {
				filter, _ := cmd.Flags().GetString("filter")
				if err := c.Subscribe(ctx, args[0], filter, handler); err != nil {
					return err
				}
			}

			<-ctx.Done()
			return nil
		},
	}
	addURLFlag(cmd)
	cmd.Flags().String("id", "", "Durable subscription id (empty for ephemeral)")
	cmd.Flags().String("filter", "", "CEL filter expression (ephemeral only)")
	cmd.Flags().Bool("ack", false, "Acknowledge each message as it is printed")
	return cmd
}

func newTopicCommand() *cobra.Command {
	topicCmd := &cobra.Command{Use: "topic", Short: "Topic operations"}
	registerCmd := &cobra.Command{
		Use:   "register <topic>",
		Short: "Register a topic with a retention policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialFlags(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			maxAgeMs, _ := cmd.Flags().GetInt64("max-age-ms")
			maxCount, _ := cmd.Flags().GetUint64("max-count")
			maxBytes, _ := cmd.Flags().GetUint64("max-bytes")
			if err := c.RegisterTopic(cmd.Context(), args[0], client.Retention{
				MaxAgeMs: maxAgeMs,
				MaxCount: maxCount,
				MaxBytes: maxBytes,
			}); err != nil {
				return err
			}
			fmt.Println("registered:", args[0])
			return nil
		},
	}
	addURLFlag(registerCmd)
	registerCmd.Flags().Int64("max-age-ms", 0, "Delete messages older than this (0 = unbounded)")
	registerCmd.Flags().Uint64("max-count", 0, "Keep at most this many messages (0 = unbounded)")
	registerCmd.Flags().Uint64("max-bytes", 0, "Keep at most this many payload bytes (0 = unbounded)")
	topicCmd.AddCommand(registerCmd)
	return topicCmd
}
