package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/replybridge"
	"github.com/drblury/replybridge/examples/legacy"
)

var (
	flagServeAddr    string
	flagServeTenants []string
)

func init() {
	serveCmd.Flags().StringVarP(&flagServeAddr, "listen", "l", ":8080", "HTTP listen address")
	serveCmd.Flags().StringSliceVarP(&flagServeTenants, "tenant", "t", nil, "Tenants to accept in addition to the configured ones")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /weatherforecast and /customers over HTTP, answered by tenant agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		ln, err := net.Listen("tcp", flagServeAddr)
		if err != nil {
			return err
		}
		return runServe(ctx, ln, flagServeTenants, cmd.ErrOrStderr())
	},
}

// runServe answers HTTP requests on ln until ctx is done.
func runServe(ctx context.Context, ln net.Listener, tenants []string, logOut io.Writer) error {
	conf, err := loadConfig("")
	if err != nil {
		_ = ln.Close()
		return err
	}
	conf.Tenants = append(conf.Tenants, tenants...)

	return withServer(ctx, conf, logOut, func(ctx context.Context, server *replybridge.ServerBroker) error {
		srv := &http.Server{
			Handler:           newAPIHandler(server),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

type apiHandler struct {
	server *replybridge.ServerBroker
}

func newAPIHandler(server *replybridge.ServerBroker) http.Handler {
	h := &apiHandler{server: server}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /weatherforecast", h.weatherForecast)
	mux.HandleFunc("GET /customers", h.customers)
	return mux
}

func (h *apiHandler) weatherForecast(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenantId")
	if tenant == "" {
		h.reply(w, r, nil, replybridge.ErrTenantRequired)
		return
	}
	q := legacy.ForecastQuery{Date: r.URL.Query().Get("date")}
	forecast, err := replybridge.SendJSON[legacy.WeatherForecast](r.Context(), h.server, tenant, legacy.CommandGetWeatherForecast, q)
	h.reply(w, r, forecast, err)
}

func (h *apiHandler) customers(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenantId")
	if tenant == "" {
		h.reply(w, r, nil, replybridge.ErrTenantRequired)
		return
	}
	q := legacy.CustomersQuery{Country: r.URL.Query().Get("country")}
	res, err := replybridge.SendJSON[legacy.CustomersResult](r.Context(), h.server, tenant, legacy.CommandGetCustomers, q)
	h.reply(w, r, res.Customers, err)
}

// statusClientClosedRequest is nginx's code for a caller that went away
// before the answer was ready.
const statusClientClosedRequest = 499

func (h *apiHandler) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	status := http.StatusOK
	if err != nil && r.Context().Err() != nil {
		// nobody is left to read a body
		w.WriteHeader(statusClientClosedRequest)
		return
	}
	if err != nil {
		status = statusFor(err)
		v = map[string]string{"error": err.Error()}
	}
	body, mErr := replybridge.Marshal(v)
	if mErr != nil {
		http.Error(w, mErr.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, replybridge.ErrTenantRequired):
		return http.StatusBadRequest
	case errors.Is(err, replybridge.ErrCancelled):
		return statusClientClosedRequest
	case errors.Is(err, replybridge.ErrUnknownTenant):
		return http.StatusNotFound
	case errors.Is(err, replybridge.ErrExpired):
		return http.StatusGatewayTimeout
	case errors.Is(err, replybridge.ErrRegistryFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, replybridge.ErrCommandFailed), errors.Is(err, replybridge.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
