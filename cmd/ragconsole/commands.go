package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"ragconsole/internal/backend"
	"ragconsole/internal/backend/fakebackend"
	"ragconsole/internal/logging"
	"ragconsole/internal/runtimeconfig"
)

var (
	withSummaries   bool
	fakeAddr        string
	fakePendingPoll int
	fakeSummaryLag  int
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversation ids known to the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient(cfg)
		ids, err := client.ListConversations(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("no conversations")
			return nil
		}
		summaries := make([]string, len(ids))
		if withSummaries {
			summaries, err = fetchSummaries(cmd.Context(), client, ids)
			if err != nil {
				return err
			}
		}
		idColor := color.New(color.FgCyan, color.Bold).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()
		for i, id := range ids {
			if !withSummaries {
				fmt.Println(idColor(id))
				continue
			}
			summary := strings.TrimSpace(summaries[i])
			if summary == "" {
				summary = faint("(no summary yet)")
			}
			fmt.Printf("%s  %s\n", idColor(id), compactSingleLine(summary, 120))
		}
		return nil
	},
}

// fetchSummaries loads summaries concurrently, preserving the order of ids.
func fetchSummaries(ctx context.Context, client *backend.Client, ids []string) ([]string, error) {
	out := make([]string, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			summary, err := client.Summary(ctx, id)
			if err != nil {
				return fmt.Errorf("summary for %s: %w", id, err)
			}
			out[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print the transcript of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := newClient(cfg).History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("no messages")
			return nil
		}
		roles := map[string]*color.Color{
			"user":      color.New(color.FgGreen, color.Bold),
			"assistant": color.New(color.FgMagenta, color.Bold),
		}
		system := color.New(color.FgYellow)
		for _, item := range items {
			c, ok := roles[strings.ToLower(item.Role)]
			if !ok {
				c = system
			}
			header := "[" + item.Role + "]"
			if item.Timestamp != "" {
				header += " " + item.Timestamp
			}
			fmt.Println(c.Sprint(header))
			fmt.Println(strings.TrimSpace(item.Content))
			fmt.Println()
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or change the backend runtime config",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the runtime config as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := newClient(cfg).RuntimeConfig(cmd.Context())
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(map[string]any{
			"values":    maskSecrets(rc.Values),
			"overrides": maskSecrets(rc.Overrides),
		})
		if err != nil {
			return fmt.Errorf("encode runtime config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY=VALUE...",
	Short: "Change runtime config values",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, err := parseAssignments(args)
		if err != nil {
			return err
		}
		applier := runtimeconfig.NewApplier(
			newClient(cfg),
			cfg.Timings.ConfigDebounce,
			runtimeconfig.WithLogger(logging.Component("runtimeconfig")),
			runtimeconfig.WithRequestTimeout(cfg.RequestTimeout),
		)
		defer applier.Close()
		if err := applier.Load(cmd.Context()); err != nil {
			return err
		}
		for _, p := range pairs {
			if err := applier.Set(p[0], p[1]); err != nil {
				return err
			}
		}
		changed := len(runtimeconfig.Diff(applier.Snapshot().Local, applier.Snapshot().Persisted))
		if err := applier.Flush(cmd.Context()); err != nil {
			return err
		}
		color.Green("saved %d key(s)", changed)
		return nil
	},
}

func parseAssignments(args []string) ([][2]string, error) {
	out := make([][2]string, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}
		if _, known := runtimeconfig.Lookup(key); !known {
			return nil, fmt.Errorf("unknown runtime config key %q", key)
		}
		out = append(out, [2]string{strings.TrimSpace(key), value})
	}
	return out, nil
}

func maskSecrets(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if f, ok := runtimeconfig.Lookup(k); ok && f.Kind == runtimeconfig.KindSecret {
			out[k] = f.Format(v)
			continue
		}
		out[k] = v
	}
	return out
}

var fakeBackendCmd = &cobra.Command{
	Use:   "fake-backend",
	Short: "Serve a scripted in-memory backend for demos and local testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fake := fakebackend.New(
			fakebackend.WithPendingPolls(fakePendingPoll),
			fakebackend.WithSummaryLag(fakeSummaryLag),
		)
		srv := &http.Server{
			Addr:              fakeAddr,
			Handler:           fake.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		logging.Info().Str("addr", fakeAddr).Msg("fake backend listening")

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logging.Info().Msg("fake backend shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	conversationsCmd.Flags().BoolVar(&withSummaries, "summaries", false, "also fetch each conversation's summary")
	configCmd.AddCommand(configGetCmd, configSetCmd)
	fakeBackendCmd.Flags().StringVar(&fakeAddr, "addr", ":8090", "listen address")
	fakeBackendCmd.Flags().IntVar(&fakePendingPoll, "pending-polls", 2, "polls a job stays pending")
	fakeBackendCmd.Flags().IntVar(&fakeSummaryLag, "summary-lag", 2, "summary reads before a new summary shows up")
}

