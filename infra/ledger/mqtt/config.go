package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config defines the connection parameters of the ledger client and bridge.
type Config struct {
	Broker      string        `json:"broker" yaml:"broker" default:"tcp://localhost:1883"`
	ClientID    string        `json:"client_id" yaml:"client_id"`
	Username    string        `json:"username" yaml:"username"`
	Password    string        `json:"password" yaml:"password"`
	TopicPrefix string        `json:"topic_prefix" yaml:"topic_prefix" default:"flexsim/ledger"`
	QoS         byte          `json:"qos" yaml:"qos" default:"1" validate:"lte=2"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" default:"10s"`
	MaxRetries  int           `json:"max_retries" yaml:"max_retries" default:"3"`
	BackoffMS   int           `json:"backoff_ms" yaml:"backoff_ms" default:"100"`
	UseTLS      bool          `json:"use_tls" yaml:"use_tls"`
	ClientCert  string        `json:"client_cert" yaml:"client_cert"`
	ClientKey   string        `json:"client_key" yaml:"client_key"`
	CABundle    string        `json:"ca_bundle" yaml:"ca_bundle"`
	TLSConfig   *tls.Config   `json:"-" yaml:"-"`
}

func (c Config) requestTopic() string { return c.TopicPrefix + "/requests" }

func (c Config) eventTopic() string { return c.TopicPrefix + "/events" }

func (c Config) responseTopic(clientID string) string {
	return c.TopicPrefix + "/responses/" + clientID
}

func (c *Config) setDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "flexsim/ledger"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// pahoClient is the subset of paho.Client used here.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s holds no certificate", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
