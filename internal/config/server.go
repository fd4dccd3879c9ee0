package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/webrtc/v4"
)

// Default server configuration values
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxParticipants = 8
	DefaultMessageRate     = 50
	DefaultMessageBurst    = 100
	DefaultMaxChatLength   = 2000
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLiveKitTokenTTL = 6 * time.Hour
	DefaultTURNTTL         = time.Hour
	DefaultTURNPrefix      = "warpcall"
)

// Duration is a time.Duration that reads "90s"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LiveKitConfig enables SFU mode. Tokens are only issued when key and secret are set.
type LiveKitConfig struct {
	URL       string   `toml:"url"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	TokenTTL  Duration `toml:"token_ttl"`
}

// Enabled reports whether LiveKit tokens can be minted.
func (c LiveKitConfig) Enabled() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// ServerConfig holds the signaling server configuration.
type ServerConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	MaxParticipants int      `toml:"max_participants"`
	AutoCreateRooms bool     `toml:"auto_create_rooms"`
	MessageRate     float64  `toml:"message_rate"`
	MessageBurst    int      `toml:"message_burst"`
	MaxChatLength   int      `toml:"max_chat_length"`
	LogLevel        string   `toml:"log_level"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	ICE     ICEConfig     `toml:"ice"`
	LiveKit LiveKitConfig `toml:"livekit"`

	// ICEServers is resolved from ICE by LoadServer.
	ICEServers []webrtc.ICEServer `toml:"-"`
}

// ServerOptions carries CLI flag overrides. Zero values and nil pointers mean
// "not set".
type ServerOptions struct {
	ConfigFile      string
	ListenAddr      string
	AllowedOrigins  []string
	MaxParticipants *int
	AutoCreateRooms *bool
	LogLevel        string
}

// DefaultServerConfig returns the built-in defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      DefaultListenAddr,
		MaxParticipants: DefaultMaxParticipants,
		AutoCreateRooms: true,
		MessageRate:     DefaultMessageRate,
		MessageBurst:    DefaultMessageBurst,
		MaxChatLength:   DefaultMaxChatLength,
		LogLevel:        "info",
		ShutdownTimeout: Duration{DefaultShutdownTimeout},
		ICE: ICEConfig{
			STUNURLs:           []string{DefaultSTUN},
			TURNUsernamePrefix: DefaultTURNPrefix,
			TURNCredentialTTL:  Duration{DefaultTURNTTL},
		},
		LiveKit: LiveKitConfig{
			TokenTTL: Duration{DefaultLiveKitTokenTTL},
		},
	}
}

// LoadServer reads configuration with the following priority:
// 1. CLI flags (passed via ServerOptions) - highest priority
// 2. Environment variables
// 3. TOML config file
// 4. Hardcoded defaults - lowest priority
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	return loadServer(opts, os.LookupEnv)
}

func loadServer(opts ServerOptions, lookupEnv func(string) (string, bool)) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	file := opts.ConfigFile
	if file == "" {
		file, _ = lookupEnv("WARPCALL_CONFIG")
	}
	if file != "" {
		if _, err := toml.DecodeFile(file, &cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	if err := applyServerEnv(&cfg, lookupEnv); err != nil {
		return nil, err
	}
	applyServerOptions(&cfg, opts)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	servers, err := cfg.ICE.Servers()
	if err != nil {
		return nil, fmt.Errorf("ice config: %w", err)
	}
	cfg.ICEServers = servers

	return &cfg, nil
}

func applyServerEnv(cfg *ServerConfig, lookupEnv func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = cleanList([]string{v})
		}
	}

	if port, ok := lookupEnv("PORT"); ok && port != "" {
		cfg.ListenAddr = ":" + strings.TrimPrefix(port, ":")
	}
	str("WARPCALL_LISTEN_ADDR", &cfg.ListenAddr)
	list("WARPCALL_ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	str("LOG_LEVEL", &cfg.LogLevel)

	intVar := func(key string, dst *int) error {
		if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	durationVar := func(key string, dst *Duration) error {
		if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			dst.Duration = d
		}
		return nil
	}

	if err := intVar("WARPCALL_MAX_PARTICIPANTS", &cfg.MaxParticipants); err != nil {
		return err
	}
	if err := intVar("WARPCALL_MESSAGE_BURST", &cfg.MessageBurst); err != nil {
		return err
	}
	if err := intVar("WARPCALL_MAX_CHAT_LENGTH", &cfg.MaxChatLength); err != nil {
		return err
	}
	if v, ok := lookupEnv("WARPCALL_AUTO_CREATE_ROOMS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WARPCALL_AUTO_CREATE_ROOMS: %w", err)
		}
		cfg.AutoCreateRooms = b
	}
	if v, ok := lookupEnv("WARPCALL_MESSAGE_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WARPCALL_MESSAGE_RATE: %w", err)
		}
		cfg.MessageRate = f
	}
	if err := durationVar("WARPCALL_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := durationVar("WARPCALL_TURN_TTL", &cfg.ICE.TURNCredentialTTL); err != nil {
		return err
	}
	if err := durationVar("LIVEKIT_TOKEN_TTL", &cfg.LiveKit.TokenTTL); err != nil {
		return err
	}

	str("WARPCALL_ICE_SERVERS_JSON", &cfg.ICE.ServersJSON)
	list("WARPCALL_STUN_URLS", &cfg.ICE.STUNURLs)
	list("WARPCALL_TURN_URLS", &cfg.ICE.TURNURLs)
	str("WARPCALL_TURN_USERNAME", &cfg.ICE.TURNUsername)
	str("WARPCALL_TURN_CREDENTIAL", &cfg.ICE.TURNCredential)
	str("WARPCALL_TURN_SECRET", &cfg.ICE.TURNSecret)

	str("LIVEKIT_URL", &cfg.LiveKit.URL)
	str("LIVEKIT_API_KEY", &cfg.LiveKit.APIKey)
	str("LIVEKIT_API_SECRET", &cfg.LiveKit.APISecret)
	return nil
}

func applyServerOptions(cfg *ServerConfig, opts ServerOptions) {
	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}
	if len(opts.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = cleanList(opts.AllowedOrigins)
	}
	if opts.MaxParticipants != nil {
		cfg.MaxParticipants = *opts.MaxParticipants
	}
	if opts.AutoCreateRooms != nil {
		cfg.AutoCreateRooms = *opts.AutoCreateRooms
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
}

func (c *ServerConfig) validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.MaxParticipants < 0 {
		return errors.New("max participants must be >= 0")
	}
	if c.MessageRate < 0 {
		return errors.New("message rate must be >= 0")
	}
	if c.LiveKit.Enabled() && c.LiveKit.URL == "" {
		return errors.New("livekit: url is required when api key and secret are set")
	}
	if strings.Contains(c.ICE.TURNUsernamePrefix, ":") {
		return errors.New("ice: turn username prefix must not contain ':'")
	}
	return nil
}
