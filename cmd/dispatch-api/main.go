// README: Entry point; loads config, wires stores, notifiers and services, then serves HTTP until signalled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ridedispatch/internal/config"
	httptransport "ridedispatch/internal/http"
	"ridedispatch/internal/logger"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/matching"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(config.LogConfig{}).WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := connect(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init backends")
	}
	defer deps.close()

	hub := notify.NewHub(log)
	defer hub.Close()

	fanout := notify.NewMulti().AddOrders("websocket", hub)
	if deps.kafka != nil {
		fanout.AddOrders("kafka", deps.kafka).AddCandidates("kafka", deps.kafka)
	}
	if deps.fcm != nil {
		fanout.AddCandidates("fcm", deps.fcm)
	}

	orderSvc := order.NewService(deps.orders, fanout, log.WithField("module", "order"))
	locationSvc := location.NewService(deps.presence, cfg.Presence.TTL)
	matchingSvc := matching.NewService(orderSvc, locationSvc, fanout, cfg.Matching, log.WithField("module", "matching"))

	server := httptransport.NewServer(cfg.HTTP, httptransport.ServerDeps{
		Order:    orderSvc,
		Matching: matchingSvc,
		Location: locationSvc,
		Hub:      hub,
		Verifier: deps.verifier,
		Log:      log,
	})
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("http server stopped")
		stop()
		deps.close()
		os.Exit(1)
	}
}
