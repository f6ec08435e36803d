package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valter-silva-au/ai-kanban/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long: `Start the HTTP server that messaging webhooks, close events and operators
use to trigger analyses, stage changes and moves.

Routes:
  POST /v1/cards/{cardID}/analyze   analyze a transcript or apply an analysis
  POST /v1/cards/{cardID}/stage     set a lifecycle stage manually
  POST /v1/cards/{cardID}/move      move a card to a column
  GET  /v1/cards/{cardID}           read a card
  GET  /v1/cards/{cardID}/history   read a card's analysis history
  GET  /metrics                     Prometheus metrics
  GET  /healthz                     liveness`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("engine not initialized")
		}
		addr := serveAddr
		if addr == "" && Config != nil {
			addr = Config.ServerAddr
		}

		deps := server.Deps{Engine: Engine, Gatherer: Gatherer, Logger: logger()}
		if Store != nil {
			deps.Cards = Store
			deps.History = Store
		}
		httpSrv := server.New(deps).HTTPServer(addr)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger().Info("http server listening", zap.String("addr", addr))
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("running http server: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		logger().Info("http server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default server.addr from config)")
	rootCmd.AddCommand(serveCmd)
}
