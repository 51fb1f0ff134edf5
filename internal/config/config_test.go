package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Hub.QueueSize != 256 {
		t.Fatalf("hub queue size = %d, want 256", cfg.Hub.QueueSize)
	}
	if cfg.Gateway.PingInterval != 25*time.Second {
		t.Fatalf("ping interval = %v, want 25s", cfg.Gateway.PingInterval)
	}
	if cfg.Kafka.Topics.Events != "tracking-events" {
		t.Fatalf("events topic = %q", cfg.Kafka.Topics.Events)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HUB_QUEUE_SIZE", "8")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("WS_PONG_WAIT", "5s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := Load()

	if cfg.Hub.QueueSize != 8 {
		t.Fatalf("hub queue size = %d, want 8", cfg.Hub.QueueSize)
	}
	if cfg.Database.Enabled {
		t.Fatalf("database should be disabled")
	}
	if cfg.Gateway.PongWait != 5*time.Second {
		t.Fatalf("pong wait = %v, want 5s", cfg.Gateway.PongWait)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HUB_QUEUE_SIZE", "many")
	t.Setenv("REDIS_ENABLED", "perhaps")
	t.Setenv("WS_PING_INTERVAL", "-3s")

	cfg := Load()

	if cfg.Hub.QueueSize != 256 {
		t.Fatalf("hub queue size = %d, want default", cfg.Hub.QueueSize)
	}
	if !cfg.Redis.Enabled {
		t.Fatalf("redis should fall back to enabled")
	}
	if cfg.Gateway.PingInterval != 25*time.Second {
		t.Fatalf("ping interval = %v, want default", cfg.Gateway.PingInterval)
	}
}
