package mqtt311

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the structure of client configuration data parsed from
// a YAML source, for embedding the client in daemons and CLIs.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Connect ConnectConfig `yaml:"connect"`
}

// ClientConfig holds construction-time client settings.
type ClientConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	MaxPacketSize  int           `yaml:"max_packet_size"`
	MaxHandlers    int           `yaml:"max_handlers"`
	MaxInboundQoS2 int           `yaml:"max_inbound_qos2"`
}

// ConnectConfig holds the CONNECT exchange parameters.
type ConnectConfig struct {
	ClientID     string  `yaml:"client_id"`
	CleanSession *bool   `yaml:"clean_session"`
	KeepAlive    *uint16 `yaml:"keep_alive"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	WillTopic    string `yaml:"will_topic"`
	WillMessage  string `yaml:"will_message"`
	WillQoS      byte   `yaml:"will_qos"`
	WillRetained bool   `yaml:"will_retained"`
	MQTTVersion  byte   `yaml:"mqtt_version"`
}

// LoadConfig parses a Config from YAML.
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Connect.WillQoS > 2 {
		return nil, ErrInvalidQoS
	}

	return &cfg, nil
}

// LoadConfigFile parses a Config from a YAML file.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadConfig(f)
}

// ClientOptions converts the client section into construction options.
func (c *Config) ClientOptions() []Option {
	var opts []Option

	if c.Client.CommandTimeout > 0 {
		opts = append(opts, WithCommandTimeout(c.Client.CommandTimeout))
	}
	if c.Client.MaxPacketSize > 0 {
		opts = append(opts, WithMaxPacketSize(c.Client.MaxPacketSize))
	}
	if c.Client.MaxHandlers > 0 {
		opts = append(opts, WithMaxHandlers(c.Client.MaxHandlers))
	}
	if c.Client.MaxInboundQoS2 > 0 {
		opts = append(opts, WithMaxInboundQoS2(c.Client.MaxInboundQoS2))
	}

	return opts
}

// ConnectOptions converts the connect section into ConnectOptions.
// Absent fields fall back to DefaultConnectOptions.
func (c *Config) ConnectOptions() ConnectOptions {
	opts := DefaultConnectOptions()

	opts.ClientID = c.Connect.ClientID
	if c.Connect.CleanSession != nil {
		opts.CleanSession = *c.Connect.CleanSession
	}
	if c.Connect.KeepAlive != nil {
		opts.KeepAlive = *c.Connect.KeepAlive
	}
	opts.Username = c.Connect.Username
	if c.Connect.Password != "" {
		opts.Password = []byte(c.Connect.Password)
	}
	opts.WillTopic = c.Connect.WillTopic
	if c.Connect.WillMessage != "" {
		opts.WillMessage = []byte(c.Connect.WillMessage)
	}
	opts.WillQoS = c.Connect.WillQoS
	opts.WillRetained = c.Connect.WillRetained
	opts.MQTTVersion = c.Connect.MQTTVersion

	return opts
}
