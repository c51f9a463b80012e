package recursor

import (
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// PortEnvVar overrides the configured listener port when set.
const PortEnvVar = "RECURSOR_PORT"

// Config is the daemon configuration, loaded from a TOML file with
// environment overrides applied afterwards.
type Config struct {
	Listen        string `toml:"listen"`         // UDP listen address
	Workers       int    `toml:"workers"`        // worker pool size
	TimeoutMS     int    `toml:"timeout_ms"`     // per-exchange timeout
	BudgetMS      int    `toml:"budget_ms"`      // per-resolve wall clock budget
	TTLCapS       int    `toml:"ttl_cap_s"`      // cache TTL cap (all three tables)
	MetricsListen string `toml:"metrics_listen"` // optional HTTP metrics address
	Debug         bool   `toml:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:    DefaultListenAddr,
		Workers:   DefaultWorkers,
		TimeoutMS: int(DefaultTimeout / time.Millisecond),
		BudgetMS:  int(DefaultBudget / time.Millisecond),
	}
}

// LoadConfig reads a TOML config file. A missing path returns defaults.
func LoadConfig(path string) (cfg *Config, err error) {
	cfg = DefaultConfig()
	if path != "" {
		_, err = toml.DecodeFile(path, cfg)
	}
	return
}

// ListenAddr returns the effective listen address with the single
// environment override applied.
func (cfg *Config) ListenAddr() (addr string) {
	addr = cfg.Listen
	if addr == "" {
		addr = DefaultListenAddr
	}
	if port := os.Getenv(PortEnvVar); port != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		addr = net.JoinHostPort(host, port)
	}
	return
}

// Apply transfers the tunables onto a resolver.
func (cfg *Config) Apply(r *Resolver) {
	if cfg.TimeoutMS > 0 {
		r.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	if cfg.BudgetMS > 0 {
		r.Budget = time.Duration(cfg.BudgetMS) * time.Millisecond
	}
	if cfg.TTLCapS > 0 {
		r.Cache().TTLCap = time.Duration(cfg.TTLCapS) * time.Second
	}
}
