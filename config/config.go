package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Carrier  CarrierConfig  `yaml:"carrier"`
	Sender   SenderConfig   `yaml:"sender"`
	Shipdesk ShipdeskConfig `yaml:"shipdesk"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type KafkaConfig struct {
	Host                        string `yaml:"host"`
	Port                        int    `yaml:"port"`
	OrderStatusUpdatedTopicName string `yaml:"order_status_updated_topic_name"`
}

func (k KafkaConfig) Addr() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

type CarrierConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMS int    `yaml:"timeout_ms"`

	// DemoMode swaps in the in-memory carrier. It must be set explicitly;
	// a missing api_key alone is a configuration error, not demo mode.
	DemoMode bool `yaml:"demo_mode"`
}

func (c CarrierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Sender identifies the shipping-from side. All five values are required;
// the sender resolver fails fast naming the missing one.
type SenderConfig struct {
	CityRef         string `yaml:"city_ref"`
	WarehouseRef    string `yaml:"warehouse_ref"`
	CounterpartyRef string `yaml:"counterparty_ref"`
	ContactRef      string `yaml:"contact_ref"`
	Phone           string `yaml:"phone"`
}

type ShipdeskConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// Cron specs. Defaults: directory sync daily at 04:00, waybill status
	// sync every 5 minutes.
	DirectorySyncSchedule string `yaml:"directory_sync_schedule"`
	WaybillSyncSchedule   string `yaml:"waybill_sync_schedule"`

	WaybillSyncLimit          int `yaml:"waybill_sync_limit"`
	StatusTTLSeconds          int `yaml:"status_ttl_seconds"`
	CarrierRateLimitPerMinute int `yaml:"carrier_rate_limit_per_minute"`

	DefaultPayerType     string `yaml:"default_payer_type"`
	DefaultPaymentMethod string `yaml:"default_payment_method"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
