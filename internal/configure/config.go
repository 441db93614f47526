package configure

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Level      string `mapstructure:"level" json:"level"`
	ConfigFile string `mapstructure:"config_file" json:"config_file"`
	NoHeader   bool   `mapstructure:"noheader" json:"noheader"`

	Network string `mapstructure:"network" json:"network"`

	Providers []Provider `mapstructure:"providers" json:"providers"`
	Protocols []Protocol `mapstructure:"protocols" json:"protocols"`

	Monitor struct {
		NetworkIntervalSeconds  int `mapstructure:"network_interval_seconds" json:"network_interval_seconds"`
		ProtocolIntervalSeconds int `mapstructure:"protocol_interval_seconds" json:"protocol_interval_seconds"`
		HealthIntervalSeconds   int `mapstructure:"health_interval_seconds" json:"health_interval_seconds"`
		CleanupIntervalSeconds  int `mapstructure:"cleanup_interval_seconds" json:"cleanup_interval_seconds"`
		RetentionHours          int `mapstructure:"retention_hours" json:"retention_hours"`
		SeriesCap               int `mapstructure:"series_cap" json:"series_cap"`
		RPCTimeoutMs            int `mapstructure:"rpc_timeout_ms" json:"rpc_timeout_ms"`
		ProbeTimeoutMs          int `mapstructure:"probe_timeout_ms" json:"probe_timeout_ms"`
		ReconnectDelayMs        int `mapstructure:"reconnect_delay_ms" json:"reconnect_delay_ms"`

		Thresholds Thresholds `mapstructure:"thresholds" json:"thresholds"`
	} `mapstructure:"monitor" json:"monitor"`

	Alerts struct {
		RecentLimit int `mapstructure:"recent_limit" json:"recent_limit"`
	} `mapstructure:"alerts" json:"alerts"`

	API struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"api" json:"api"`

	Monitoring struct {
		Enabled bool       `mapstructure:"enabled" json:"enabled"`
		Bind    string     `mapstructure:"bind" json:"bind"`
		Labels  []KeyValue `mapstructure:"labels" json:"labels"`
	} `mapstructure:"monitoring" json:"monitoring"`

	Health struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"health" json:"health"`

	Events struct {
		NATS struct {
			Enabled bool   `mapstructure:"enabled" json:"enabled"`
			URL     string `mapstructure:"url" json:"url"`
			Subject string `mapstructure:"subject" json:"subject"`
		} `mapstructure:"nats" json:"nats"`
	} `mapstructure:"events" json:"events"`

	Pod struct {
		Name string `mapstructure:"name" json:"name"`
	} `mapstructure:"pod" json:"pod"`
}

// Provider is one redundant RPC endpoint pair. URLs are keyed by network
// name; a provider without a URL for the selected network is skipped.
type Provider struct {
	Name          string            `mapstructure:"name" json:"name"`
	RPC           map[string]string `mapstructure:"rpc" json:"rpc"`
	WS            map[string]string `mapstructure:"ws" json:"ws"`
	RateLimitHint int               `mapstructure:"rate_limit_hint" json:"rate_limit_hint"`
}

// Protocol is a tracked on-chain program.
type Protocol struct {
	Name            string   `mapstructure:"name" json:"name"`
	ProgramID       string   `mapstructure:"program_id" json:"program_id"`
	HealthEndpoints []string `mapstructure:"health_endpoints" json:"health_endpoints"`
}

// Thresholds holds the status classification cut-offs. The defaults mirror
// the values the product has always shipped with; all are overridable.
type Thresholds struct {
	NetworkLatencyDownMs     int64   `mapstructure:"network_latency_down_ms" json:"network_latency_down_ms"`
	NetworkLatencyDegradedMs int64   `mapstructure:"network_latency_degraded_ms" json:"network_latency_degraded_ms"`
	NetworkMinTPS            float64 `mapstructure:"network_min_tps" json:"network_min_tps"`

	ProtocolLatencyDownMs     int64 `mapstructure:"protocol_latency_down_ms" json:"protocol_latency_down_ms"`
	ProtocolLatencyDegradedMs int64 `mapstructure:"protocol_latency_degraded_ms" json:"protocol_latency_degraded_ms"`
}

type KeyValue struct {
	Key   string `mapstructure:"key" json:"key"`
	Value string `mapstructure:"value" json:"value"`
}

func checkErr(err error) {
	if err != nil {
		zap.S().Fatalw("config", "error", err)
	}
}

func New() *Config {
	initLogging("fatal")

	config := viper.New()

	// Default config
	b, _ := json.Marshal(defaultConfig())

	tmp := viper.New()
	defaults := bytes.NewReader(b)
	tmp.SetConfigType("json")
	checkErr(tmp.ReadConfig(defaults))
	checkErr(config.MergeConfigMap(tmp.AllSettings()))

	// Flags
	pflag.String("config", "config.yaml", "Config file location")
	pflag.Bool("noheader", false, "Disable the startup header")
	pflag.Parse()
	checkErr(config.BindPFlags(pflag.CommandLine))

	// File
	config.SetConfigFile(config.GetString("config"))
	config.AddConfigPath(".")
	if err := config.ReadInConfig(); err == nil {
		checkErr(config.MergeInConfig())
	}

	BindEnvs(config, Config{})

	// Environment
	config.AutomaticEnv()
	config.SetEnvPrefix("NETMON")
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AllowEmptyEnv(true)

	c := &Config{}
	checkErr(config.Unmarshal(&c))

	initLogging(c.Level)

	return c
}

func defaultConfig() Config {
	c := Config{
		Level:      "info",
		ConfigFile: "config.yaml",
		Network:    "devnet",
	}

	c.Providers = []Provider{
		{
			Name: "solana",
			RPC: map[string]string{
				"devnet":  "https://api.devnet.solana.com",
				"testnet": "https://api.testnet.solana.com",
				"mainnet": "https://api.mainnet-beta.solana.com",
			},
			WS: map[string]string{
				"devnet":  "wss://api.devnet.solana.com",
				"testnet": "wss://api.testnet.solana.com",
				"mainnet": "wss://api.mainnet-beta.solana.com",
			},
			RateLimitHint: 10,
		},
		{
			Name: "serum",
			RPC: map[string]string{
				"mainnet": "https://solana-api.projectserum.com",
			},
			WS: map[string]string{
				"mainnet": "wss://solana-api.projectserum.com",
			},
			RateLimitHint: 10,
		},
	}

	c.Protocols = []Protocol{
		{
			Name:      "serum-dex",
			ProgramID: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			HealthEndpoints: []string{
				"https://status.solana.com/api/v2/status.json",
			},
		},
		{
			Name:      "raydium-amm",
			ProgramID: "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8",
		},
	}

	c.Monitor.NetworkIntervalSeconds = 10
	c.Monitor.ProtocolIntervalSeconds = 30
	c.Monitor.HealthIntervalSeconds = 60
	c.Monitor.CleanupIntervalSeconds = 3600
	c.Monitor.RetentionHours = 24
	c.Monitor.SeriesCap = 1000
	c.Monitor.RPCTimeoutMs = 10000
	c.Monitor.ProbeTimeoutMs = 5000
	c.Monitor.ReconnectDelayMs = 5000

	c.Monitor.Thresholds = Thresholds{
		NetworkLatencyDownMs:      5000,
		NetworkLatencyDegradedMs:  2000,
		NetworkMinTPS:             1000,
		ProtocolLatencyDownMs:     3000,
		ProtocolLatencyDegradedMs: 1000,
	}

	c.Alerts.RecentLimit = 100

	c.API.Enabled = true
	c.API.Bind = "0.0.0.0:3000"
	c.Health.Enabled = true
	c.Health.Bind = "0.0.0.0:9200"
	c.Monitoring.Enabled = true
	c.Monitoring.Bind = "0.0.0.0:9100"

	c.Events.NATS.Subject = "netmon.events"

	return c
}

func BindEnvs(config *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}
		switch v.Kind() {
		case reflect.Struct:
			BindEnvs(config, v.Interface(), append(parts, tv)...)
		default:
			_ = config.BindEnv(strings.Join(append(parts, tv), "."))
		}
	}
}
