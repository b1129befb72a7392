// Package conf holds the platform's configuration surface. A single
// Config value is built once at startup (by cmd/hashgraph-node, via
// viper) and passed down explicitly to every component that needs it -
// there is no package-level mutable settings singleton.
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface for one node.
type Config struct {
	Throttle7          bool
	Throttle7Threshold float64
	Throttle7Extra     float64
	Throttle7MaxBytes  int

	EventIntakeQueueThrottleSize int
	ThrottleTransactionQueueSize int
	MaxTransactionBytesPerEvent  int

	SignedStateFreq int

	DelayShuffle time.Duration
	TCPNoDelay   bool
	SocketIPTOS  int

	TimeoutSyncClientSocket    time.Duration
	TimeoutSyncClientConnect   time.Duration
	TimeoutServerAcceptConnect time.Duration

	UseLoopbackIP  bool
	BufferSize     int
	SleepHeartbeat time.Duration

	RescueChildlessInverseProbability int
	RandomEventProbability            float64
	EnableBetaMirror                  bool

	FallenBehindThreshold         float64
	StaleEventPreventionThreshold float64

	MaximumVirtualMapSize int
	FlushInterval         time.Duration

	JoinWaitMS time.Duration
}

// Default returns the configuration used when no override is supplied.
func Default() Config {
	return Config{
		Throttle7:          false,
		Throttle7Threshold: 0.5,
		Throttle7Extra:     0.1,
		Throttle7MaxBytes:  128 * 1024,

		EventIntakeQueueThrottleSize: 10_000,
		ThrottleTransactionQueueSize: 100_000,
		MaxTransactionBytesPerEvent:  245_000,

		SignedStateFreq: 1,

		DelayShuffle: 100 * time.Millisecond,
		TCPNoDelay:   true,
		SocketIPTOS:  0,

		TimeoutSyncClientSocket:    5 * time.Second,
		TimeoutSyncClientConnect:   5 * time.Second,
		TimeoutServerAcceptConnect: 5 * time.Second,

		UseLoopbackIP:  false,
		BufferSize:     8192,
		SleepHeartbeat: 500 * time.Millisecond,

		RescueChildlessInverseProbability: 10,
		RandomEventProbability:            0.05,
		EnableBetaMirror:                  false,

		FallenBehindThreshold:         0.5,
		StaleEventPreventionThreshold: 1.5,

		MaximumVirtualMapSize: 1 << 20,
		FlushInterval:         30 * time.Second,

		JoinWaitMS: 250 * time.Millisecond,
	}
}

// Load layers a config file (and environment variables, prefixed
// HASHGRAPH_) over the defaults using viper.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("HASHGRAPH")
	v.AutomaticEnv()

	bindDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	cfg.Throttle7 = v.GetBool("throttle7")
	cfg.Throttle7Threshold = v.GetFloat64("throttle7_threshold")
	cfg.Throttle7Extra = v.GetFloat64("throttle7_extra")
	cfg.Throttle7MaxBytes = v.GetInt("throttle7_max_bytes")

	cfg.EventIntakeQueueThrottleSize = v.GetInt("event_intake_queue_throttle_size")
	cfg.ThrottleTransactionQueueSize = v.GetInt("throttle_transaction_queue_size")
	cfg.MaxTransactionBytesPerEvent = v.GetInt("max_transaction_bytes_per_event")

	cfg.SignedStateFreq = v.GetInt("signed_state_freq")

	cfg.DelayShuffle = v.GetDuration("delay_shuffle")
	cfg.TCPNoDelay = v.GetBool("tcp_no_delay")
	cfg.SocketIPTOS = v.GetInt("socket_ip_tos")

	cfg.TimeoutSyncClientSocket = v.GetDuration("timeout_sync_client_socket")
	cfg.TimeoutSyncClientConnect = v.GetDuration("timeout_sync_client_connect")
	cfg.TimeoutServerAcceptConnect = v.GetDuration("timeout_server_accept_connect")

	cfg.UseLoopbackIP = v.GetBool("use_loopback_ip")
	cfg.BufferSize = v.GetInt("buffer_size")
	cfg.SleepHeartbeat = v.GetDuration("sleep_heartbeat")

	cfg.RescueChildlessInverseProbability = v.GetInt("rescue_childless_inverse_probability")
	cfg.RandomEventProbability = v.GetFloat64("random_event_probability")
	cfg.EnableBetaMirror = v.GetBool("enable_beta_mirror")

	cfg.FallenBehindThreshold = v.GetFloat64("fallen_behind_threshold")
	cfg.StaleEventPreventionThreshold = v.GetFloat64("stale_event_prevention_threshold")

	cfg.MaximumVirtualMapSize = v.GetInt("maximum_virtual_map_size")
	cfg.FlushInterval = v.GetDuration("flush_interval")
	cfg.JoinWaitMS = v.GetDuration("join_wait_ms")

	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("throttle7", cfg.Throttle7)
	v.SetDefault("throttle7_threshold", cfg.Throttle7Threshold)
	v.SetDefault("throttle7_extra", cfg.Throttle7Extra)
	v.SetDefault("throttle7_max_bytes", cfg.Throttle7MaxBytes)
	v.SetDefault("event_intake_queue_throttle_size", cfg.EventIntakeQueueThrottleSize)
	v.SetDefault("throttle_transaction_queue_size", cfg.ThrottleTransactionQueueSize)
	v.SetDefault("max_transaction_bytes_per_event", cfg.MaxTransactionBytesPerEvent)
	v.SetDefault("signed_state_freq", cfg.SignedStateFreq)
	v.SetDefault("delay_shuffle", cfg.DelayShuffle)
	v.SetDefault("tcp_no_delay", cfg.TCPNoDelay)
	v.SetDefault("socket_ip_tos", cfg.SocketIPTOS)
	v.SetDefault("timeout_sync_client_socket", cfg.TimeoutSyncClientSocket)
	v.SetDefault("timeout_sync_client_connect", cfg.TimeoutSyncClientConnect)
	v.SetDefault("timeout_server_accept_connect", cfg.TimeoutServerAcceptConnect)
	v.SetDefault("use_loopback_ip", cfg.UseLoopbackIP)
	v.SetDefault("buffer_size", cfg.BufferSize)
	v.SetDefault("sleep_heartbeat", cfg.SleepHeartbeat)
	v.SetDefault("rescue_childless_inverse_probability", cfg.RescueChildlessInverseProbability)
	v.SetDefault("random_event_probability", cfg.RandomEventProbability)
	v.SetDefault("enable_beta_mirror", cfg.EnableBetaMirror)
	v.SetDefault("fallen_behind_threshold", cfg.FallenBehindThreshold)
	v.SetDefault("stale_event_prevention_threshold", cfg.StaleEventPreventionThreshold)
	v.SetDefault("maximum_virtual_map_size", cfg.MaximumVirtualMapSize)
	v.SetDefault("flush_interval", cfg.FlushInterval)
	v.SetDefault("join_wait_ms", cfg.JoinWaitMS)
}
