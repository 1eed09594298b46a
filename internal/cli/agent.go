package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/drblury/replybridge"
	"github.com/drblury/replybridge/examples/legacy"
)

var (
	flagAgentTenant string
	flagAgentSeed   uint64
)

func init() {
	agentCmd.Flags().StringVarP(&flagAgentTenant, "tenant", "t", "", "Tenant this agent serves (overrides tenant_id)")
	agentCmd.Flags().Uint64VarP(&flagAgentSeed, "seed", "", 1, "Seed for the sample forecast generator")
	rootCmd.AddCommand(agentCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a tenant agent serving GetWeatherForecast and GetCustomers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return runAgent(ctx, flagAgentTenant, flagAgentSeed, cmd.ErrOrStderr(), nil)
	},
}

// runAgent blocks until ctx is done. ready, when set, is called once the
// agent consumes commands.
func runAgent(ctx context.Context, tenant string, seed uint64, logOut io.Writer, ready func()) error {
	conf, err := loadConfig(tenant)
	if err != nil {
		return err
	}
	if conf.TenantID == "" {
		return replybridge.ErrTenantRequired
	}
	log, err := flagLogger(logOut)
	if err != nil {
		return err
	}

	svc, err := replybridge.NewService(conf, log, ctx, replybridge.ServiceDependencies{})
	if err != nil {
		return err
	}
	agent, err := replybridge.NewClientBroker(svc, nil)
	if err != nil {
		return errors.Join(err, svc.Close())
	}
	defer func() {
		_ = agent.Close()
		_ = svc.Close()
	}()

	if err := legacy.Register(agent, legacy.NewService(seed)); err != nil {
		return err
	}

	if ready != nil {
		go func() {
			select {
			case <-svc.Running():
				ready()
			case <-ctx.Done():
			}
		}()
	}

	log.Info("Agent started", replybridge.LogFields{
		"tenant_id":     conf.TenantID,
		"pubsub_system": conf.PubSubSystem,
		"route_store":   conf.RouteStore,
	})
	return agent.Start(ctx)
}
