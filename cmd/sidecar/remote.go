package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/spf13/cobra"

	"github.com/loykin/sidecar/pkg/client"
)

var errNoAPI = errors.New("admin API not configured: pass --api or set server.listen")

// apiClient resolves the admin API base URL from flags or server.listen.
func (c command) apiClient(f RemoteFlags) (*client.Client, error) {
	base := f.API
	if base == "" {
		cfg, err := c.config()
		if err != nil {
			return nil, err
		}
		if cfg.Server.Listen == "" {
			return nil, errNoAPI
		}
		host, port, err := net.SplitHostPort(cfg.Server.Listen)
		if err != nil {
			return nil, err
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		base = "http://" + net.JoinHostPort(host, port) + cfg.Server.BasePath
	}
	return client.New(client.Config{BaseURL: base, Timeout: f.Timeout}), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.API, "api", "", "admin API base URL (default derived from server.listen)")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "request timeout")
}

func createStatusCommand(c command, f *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.apiClient(*f)
			if err != nil {
				return err
			}
			st, err := cl.Status(ctxOf(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}

func createStopCommand(c command, f *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the backend of a running sidecar and sweep its port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.apiClient(*f)
			if err != nil {
				return err
			}
			rep, err := cl.Shutdown(ctxOf(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}

func createHistoryCommand(c command, f *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backend lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.apiClient(*f)
			if err != nil {
				return err
			}
			evs, err := cl.History(ctxOf(cmd), f.Limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), evs)
		},
	}
	addRemoteFlags(cmd, f)
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of events (default server side)")
	return cmd
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
