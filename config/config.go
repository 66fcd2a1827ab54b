package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

const envPrefix = "MINICHAT_"

// Config holds settings read from the environment. Command line flags in main
// default to these values.
type Config struct {
	// broker
	BrokerURL            string
	Username             string
	Password             string
	ReconnectMaxAttempts int

	// topics
	SelfTopic  string
	HostTopic  string
	GuestTopic string

	// history endpoint, empty to disable
	HistoryURL     string
	HistoryTimeout time.Duration

	OfflineQueue bool
	OutboxSize   int
	Color        string
	TagOwnEcho   bool
	MetricsAddr  string
}

// Load loads configuration from MINICHAT_* environment variables.
func Load() Config {
	cfg := Config{
		BrokerURL:            getenv("BROKER_URL", "tcp://127.0.0.1:1883"),
		Username:             getenv("USERNAME", ""),
		Password:             getenv("PASSWORD", ""),
		ReconnectMaxAttempts: getInt("RECONNECT_MAX_ATTEMPTS", 10),

		HostTopic:  getenv("HOST_TOPIC", "chat/host"),
		GuestTopic: getenv("GUEST_TOPIC", "chat/guest"),

		HistoryURL:     strings.TrimRight(getenv("HISTORY_URL", ""), "/"),
		HistoryTimeout: getDuration("HISTORY_TIMEOUT", 5*time.Second),

		OfflineQueue: getBool("OFFLINE_QUEUE", false),
		OutboxSize:   getInt("OUTBOX_SIZE", 64),
		Color:        getenv("COLOR", "black"),
		TagOwnEcho:   getBool("TAG_OWN_ECHO", false),
		MetricsAddr:  getenv("METRICS_ADDR", ""),
	}

	// a guest client publishes on the guest topic unless told otherwise.
	cfg.SelfTopic = getenv("SELF_TOPIC", cfg.GuestTopic)
	return cfg
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	s := getenv(key, "")
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		glog.Warningf("config: invalid %s%s `%s`, using default %d", envPrefix, key, s, def)
		return def
	}
	return v
}

func getBool(key string, def bool) bool {
	s := getenv(key, "")
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		glog.Warningf("config: invalid %s%s `%s`, using default %t", envPrefix, key, s, def)
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	s := getenv(key, "")
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		glog.Warningf("config: invalid %s%s `%s`, using default %s", envPrefix, key, s, def)
		return def
	}
	return v
}
