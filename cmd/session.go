package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/porthorian/sessionguard"
	"github.com/porthorian/sessionguard/pkg/config"
	"github.com/porthorian/sessionguard/pkg/credentials"
	"github.com/porthorian/sessionguard/pkg/endpoint"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/interceptor"
	"github.com/porthorian/sessionguard/pkg/session"
	httptransport "github.com/porthorian/sessionguard/pkg/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLoginCommand(), newCallCommand(), newLogoutCommand())
}

// cliRuntime is everything one command invocation needs to talk to the
// remote service. Close logs out and flushes metrics.
type cliRuntime struct {
	cfg        *config.Config
	logger     logr.Logger
	creds      credentials.Credentials
	httpClient *http.Client
	client     *sessionguard.Client
	registry   *prometheus.Registry
}

func newCLIRuntime(cmd *cobra.Command) (*cliRuntime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	creds, err := cfg.Credentials.Credentials()
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	rt := &cliRuntime{
		cfg:        cfg,
		logger:     newLogger(cfg.Logging, cmd.ErrOrStderr()),
		creds:      creds,
		httpClient: &http.Client{Timeout: cfg.HTTP.Timeout},
	}

	clientConfig := sessionguard.Config{
		Logger:         rt.logger,
		Retry:          cfg.Retry.Policy(),
		FingerprintKey: []byte(cfg.Audit.FingerprintKey),
		Runtime: sessionguard.RuntimeConfig{
			Audit: sessionguard.AuditConfig{
				Backend:  sessionguard.AuditBackend(cfg.Audit.Backend),
				Postgres: sessionguard.PostgresConfig{DSN: cfg.Audit.DSN},
			},
		},
	}
	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		clientConfig.Runtime.Metrics.Registerer = rt.registry
	}

	rt.client, err = sessionguard.NewDefault(rt.httpClient, clientConfig)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *cliRuntime) Close() error {
	var result *multierror.Error
	if err := rt.client.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if rt.registry != nil {
		if err := prometheus.WriteToTextfile(rt.cfg.Metrics.Textfile, rt.registry); err != nil {
			result = multierror.Append(result, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func closeRuntime(cmd *cobra.Command, rt *cliRuntime) {
	if err := rt.Close(); err != nil {
		cmd.PrintErrf("warning: %v\n", err)
	}
}

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the configured credentials and print the session details",
		Long:  "Authenticate with the configured credentials, print non-secret session details, and log out again.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newCLIRuntime(cmd)
			if err != nil {
				return err
			}
			defer closeRuntime(cmd, rt)

			manager, err := rt.client.Manager(rt.creds)
			if err != nil {
				return err
			}
			s, err := manager.Login(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "user id:          %s\n", s.UserID())
			fmt.Fprintf(w, "server url:       %s\n", s.BaseServerURL())
			fmt.Fprintf(w, "metadata url:     %s\n", s.BaseMetadataServerURL())
			fmt.Fprintf(w, "sandbox:          %t\n", s.IsSandbox())
			fmt.Fprintf(w, "password expired: %t\n", s.IsPasswordExpired())
			return nil
		},
	}
}

func newCallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "call <endpoint> <operation> [json|-]",
		Short: "Invoke one operation, recovering from expired sessions and transient faults",
		Long: "Invoke one operation on an endpoint (partner, enterprise, metadata, apex, tooling or custom:<name>).\n" +
			"The request body is the optional JSON argument, or stdin when it is \"-\".",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := endpoint.Parse(args[0])
			if err != nil {
				return err
			}
			operation := strings.TrimSpace(args[1])

			body, err := readRequestBody(cmd.InOrStdin(), args[2:])
			if err != nil {
				return err
			}

			rt, err := newCLIRuntime(cmd)
			if err != nil {
				return err
			}
			defer closeRuntime(cmd, rt)

			i, err := sessionguard.Dial(cmd.Context(), rt.client, rt.creds, e, httptransport.StubProvider(rt.httpClient))
			if err != nil {
				return err
			}

			out, err := interceptor.Call(cmd.Context(), i, operation, func(ctx context.Context, stub *httptransport.Stub) (json.RawMessage, error) {
				var out json.RawMessage
				var in any
				if body != nil {
					in = body
				}
				err := stub.Call(ctx, operation, in, &out)
				return out, err
			})
			if err != nil {
				return err
			}

			if len(out) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return nil
		},
	}
}

func readRequestBody(stdin io.Reader, args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}

	raw := []byte(args[0])
	if args[0] == "-" {
		var err error
		raw, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	if !json.Valid(raw) {
		return nil, oerrors.InvalidArgument("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <session-id>",
		Short: "Invalidate a session obtained elsewhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			creds, err := cfg.Credentials.Credentials()
			if err != nil {
				return fmt.Errorf("credentials: %w", err)
			}

			s, err := session.New(creds, session.LoginResult{SessionID: args[0], ServerURL: creds.URL()})
			if err != nil {
				return err
			}

			auth := httptransport.NewAuthenticator(&http.Client{Timeout: cfg.HTTP.Timeout})
			if err := auth.Deauthenticate(cmd.Context(), s); err != nil {
				return oerrors.Wrap(oerrors.CodeLogout, "logout failed", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}
