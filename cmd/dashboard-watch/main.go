package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delivery-tracking/internal/auth"
	"delivery-tracking/internal/client"
	"delivery-tracking/internal/config"
	"delivery-tracking/internal/gateway"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/mapview"
	"delivery-tracking/internal/models"
)

// Консольный дашборд: подписывается на события и печатает изменения маркеров
func main() {
	cfg := config.Load()
	log := logger.New(&cfg.Logger)
	defer log.Close()

	url := flag.String("url", "ws://localhost:"+cfg.Server.Port+"/ws", "gateway websocket url")
	resync := flag.Duration("resync", time.Minute, "full snapshot re-sync interval")
	flag.Parse()

	token, err := auth.NewJWTAuthenticator(&cfg.Auth).IssueToken(models.AdminActor(), 24*time.Hour)
	if err != nil {
		log.WithError(err).Fatal("Failed to issue token")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, err := client.Dial(ctx, *url, token)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect dashboard")
	}
	defer conn.Close()

	markers := mapview.NewMarkers(mapview.NewLogView(log.Component("map")))
	dashboard := client.NewDashboard(markers, log)

	// Периодическая пересинхронизация компенсирует вытесненные из очереди события
	go func() {
		ticker := time.NewTicker(*resync)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case <-ticker.C:
				if _, err := conn.Send(gateway.FrameRequestSnapshot, nil); err != nil {
					log.WithError(err).Warn("Failed to request snapshot")
				}
			}
		}
	}()

	if err := dashboard.Run(ctx, conn); err != nil {
		log.WithError(err).Error("Dashboard disconnected")
	}
	log.WithField("markers", len(markers.List())).Info("Dashboard stopped")
}
