package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"delivery-tracking/internal/auth"
	"delivery-tracking/internal/client"
	"delivery-tracking/internal/config"
	"delivery-tracking/internal/gateway"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
)

// Симулятор курьеров: открывает соединение на каждого курьера и шлет координаты
func main() {
	cfg := config.Load()
	log := logger.New(&cfg.Logger)
	defer log.Close()

	url := flag.String("url", "ws://localhost:"+cfg.Server.Port+"/ws", "gateway websocket url")
	first := flag.Int64("first", 1, "first agent id")
	count := flag.Int("count", 5, "number of simulated couriers")
	period := flag.Duration("period", 5*time.Second, "report period")
	jitter := flag.Duration("jitter", time.Second, "max random delay added to the period")
	lat := flag.Float64("lat", 19.4326, "start latitude")
	lng := flag.Float64("lng", -99.1332, "start longitude")
	flag.Parse()

	authenticator := auth.NewJWTAuthenticator(&cfg.Auth)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		agentID := *first + int64(i)
		entry := log.WithField("agent_id", agentID)

		token, err := authenticator.IssueToken(models.CourierActor(agentID), 24*time.Hour)
		if err != nil {
			entry.WithError(err).Fatal("Failed to issue token")
		}

		conn, err := client.Dial(ctx, *url, token)
		if err != nil {
			entry.WithError(err).Error("Failed to connect courier")
			continue
		}

		if _, err := conn.Send(gateway.FrameSetWorkingState, gateway.SetWorkingStatePayload{Active: true}); err != nil {
			entry.WithError(err).Error("Failed to start shift")
		}

		source := client.NewRandomWalk(*lat, *lng, 0.0005, agentID)
		reporter := client.NewReporter(conn, source, *period, *jitter, log)

		wg.Add(2)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := reporter.Run(ctx, conn.Done()); err != nil {
				entry.WithError(err).Warn("Reporter stopped")
			}
		}()
		// ответы сервера нужно вычитывать, иначе не обрабатываются ping
		go func() {
			defer wg.Done()
			for frame := range conn.Frames() {
				if frame.Type == gateway.FrameError {
					entry.WithField("payload", string(frame.Payload)).Warn("Gateway rejected report")
				}
			}
		}()
	}

	wg.Wait()
	log.Info("Courier simulator stopped")
}
