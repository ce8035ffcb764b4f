package kafka

import "time"

type InvalidationConfig struct {
	Enabled bool

	Brokers []string
	Topic   string
	GroupID string
	// Origin identifies this instance on published events.
	Origin string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

func DefaultConfig() InvalidationConfig {
	return InvalidationConfig{
		Brokers:          []string{"localhost:9092"},
		Topic:            "hotkey-invalidation",
		GroupID:          "hotkey-invalidator",
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
}
