package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"smartreply-crm/internal/accounts"
	"smartreply-crm/internal/analytics"
	"smartreply-crm/internal/api"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/bot"
	"smartreply-crm/internal/botconfig"
	"smartreply-crm/internal/broadcast"
	"smartreply-crm/internal/cache"
	"smartreply-crm/internal/crm"
	"smartreply-crm/internal/database"
	"smartreply-crm/internal/eventlog"
	"smartreply-crm/internal/inbox"
	"smartreply-crm/internal/templates"
	"smartreply-crm/internal/webhook"
	"smartreply-crm/internal/whatsapp"
	"smartreply-crm/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and broadcast scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := database.Open(cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			log.Info().Str("driver", cfg.DBDriver).Msg("database ready")

			var stats cache.Store
			if cfg.RedisAddr != "" {
				client, err := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
				if err != nil {
					log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("stats cache unavailable, continuing without it")
				} else {
					defer client.Close()
					stats = client
				}
			}

			hub := ws.NewHub(log)
			go hub.Run(ctx)

			waClient := whatsapp.NewClient(cfg.GraphAPIURL, cfg.GraphAPITimeout)
			events := eventlog.NewRecorder(db, log)
			contacts := crm.NewService(db, hub)
			box := inbox.NewService(db, contacts, waClient, events, hub, log)
			accountSvc := accounts.NewService(db)
			bots := botconfig.NewService(db)
			responder := bot.NewResponder(bots, box, events, log)
			campaigns := broadcast.NewService(db, waClient, events, cfg.BroadcastConcurrency, log)
			scheduler := broadcast.NewScheduler(campaigns, cfg.BroadcastInterval, log)
			webhookHandler := webhook.NewHandler(cfg.VerifyToken, cfg.AppSecret, accountSvc, box, responder, events, log)

			router := api.NewRouter(api.Deps{
				Log:         log,
				CORSOrigins: cfg.CORSOrigins,
				Auth:        auth.NewService(db, cfg.JWTSecret, cfg.TokenTTL, cfg.GhostTokenTTL),
				Accounts:    accountSvc,
				Contacts:    contacts,
				Inbox:       box,
				Broadcasts:  campaigns,
				Scheduler:   scheduler,
				Templates:   templates.NewService(db, waClient, log),
				BotConfigs:  bots,
				Analytics:   analytics.NewService(db, events, stats, cfg.StatsCacheTTL, log),
				Hub:         hub,
				Webhook:     webhookHandler,
			})

			if n, err := campaigns.ReclaimStale(ctx, cfg.BroadcastStaleAfter); err != nil {
				log.Error().Err(err).Msg("reclaim stale campaigns")
			} else if n > 0 {
				log.Warn().Int64("campaigns", n).Msg("stale broadcast campaigns returned to pending")
			}
			scheduler.Start(ctx)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				log.Info().Str("port", cfg.Port).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				scheduler.Stop()
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			scheduler.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("http shutdown")
			}
			webhookHandler.Wait()
			log.Info().Msg("stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}
