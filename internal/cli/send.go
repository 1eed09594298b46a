package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/replybridge"
)

var (
	flagSendTenant  string
	flagSendCommand string
	flagSendArgs    string
	flagSendTimeout time.Duration
)

func init() {
	sendCmd.Flags().StringVarP(&flagSendTenant, "tenant", "t", "", "Tenant whose agent receives the command")
	sendCmd.Flags().StringVarP(&flagSendCommand, "command", "", "", "Command name, e.g. GetWeatherForecast")
	sendCmd.Flags().StringVarP(&flagSendArgs, "args", "a", "", "Command arguments as JSON")
	sendCmd.Flags().DurationVarP(&flagSendTimeout, "timeout", "", 0, "Give up after this long (defaults to command_timeout)")
	_ = sendCmd.MarkFlagRequired("tenant")
	_ = sendCmd.MarkFlagRequired("command")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send --tenant <tenant> --command <name> [--args json]",
	Short: "Send one command to a tenant agent and print the response",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return runSend(ctx, flagSendTenant, flagSendCommand, flagSendArgs, flagSendTimeout, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func runSend(ctx context.Context, tenant, command, args string, timeout time.Duration, out, logOut io.Writer) error {
	cmd := replybridge.NewCommand(tenant, command)
	if args != "" {
		if !json.Valid([]byte(args)) {
			return fmt.Errorf("%w: --args is not valid JSON", replybridge.ErrDecode)
		}
		cmd.Arguments = json.RawMessage(args)
	}

	conf, err := loadConfig(tenant)
	if err != nil {
		return err
	}
	if timeout > 0 {
		conf.CommandTimeout = timeout
	}

	return withServer(ctx, conf, logOut, func(ctx context.Context, server *replybridge.ServerBroker) error {
		resp, err := server.SendCommand(ctx, cmd)
		if err != nil {
			return err
		}
		if resp.HasError {
			return fmt.Errorf("%w: %s: %s", replybridge.ErrCommandFailed, command, resp.Error)
		}
		return printPayload(out, resp.Payload)
	})
}

// withServer runs a server broker for conf until fn returns.
func withServer(ctx context.Context, conf *replybridge.Config, logOut io.Writer, fn func(context.Context, *replybridge.ServerBroker) error) error {
	log, err := flagLogger(logOut)
	if err != nil {
		return err
	}
	svc, err := replybridge.NewService(conf, log, ctx, replybridge.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	server, err := replybridge.NewServerBroker(svc)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- server.Start(runCtx) }()

	select {
	case <-svc.Running():
	case err := <-done:
		cancel()
		if err == nil {
			err = ctx.Err()
		}
		return err
	}

	fnErr := fn(ctx, server)
	cancel()
	return errors.Join(fnErr, <-done)
}

func printPayload(out io.Writer, payload json.RawMessage) error {
	if len(payload) == 0 {
		_, err := fmt.Fprintln(out, "null")
		return err
	}
	var v any
	if err := replybridge.Unmarshal(payload, &v); err != nil {
		return err
	}
	pretty, err := replybridge.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(pretty))
	return err
}
