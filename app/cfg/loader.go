package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"feed_user" description:"Database user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" default:"feed_password" description:"Database password (required)" required:"true"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"job_feed" description:"Database name"`

	// Kafka configuration
	KafkaBrokers          string `long:"kafka-brokers" env:"KAFKA_BROKERS" default:"localhost:9092" description:"Comma-separated Kafka bootstrap servers"`
	KafkaTopic            string `long:"kafka-topic" env:"AD_TOPIC" default:"ad-events" description:"Topic with job-ad change events"`
	KafkaGroupID          string `long:"kafka-group-id" env:"AD_GROUP_ID" default:"job-feed" description:"Consumer group id for the feed ingester"`
	KafkaBackfillGroupID  string `long:"kafka-backfill-group-id" env:"SOURCE_BACKFILL_GROUP_ID" default:"job-feed-source-backfill" description:"Consumer group id for the source backfill consumer"`
	KafkaCAPath           string `long:"kafka-ca-path" env:"KAFKA_CA_PATH" description:"Path to CA certificate for Kafka TLS (optional)"`
	KafkaCertPath         string `long:"kafka-cert-path" env:"KAFKA_CERTIFICATE_PATH" description:"Path to client certificate for Kafka TLS (optional)"`
	KafkaKeyPath          string `long:"kafka-key-path" env:"KAFKA_PRIVATE_KEY_PATH" description:"Path to client key for Kafka TLS (optional)"`
	SourceBackfillEnabled bool   `long:"source-backfill" env:"SOURCE_BACKFILL_ENABLED" description:"Enable the source backfill consumer"`

	// Feed configuration
	AdURLBase          string `long:"ad-url-base" env:"AD_URL_BASE" default:"https://jobs.example.com/ads" description:"Public base URL for ad detail pages"`
	ExcludedFeedSource string `long:"excluded-feed-source" env:"EXCLUDED_FEED_SOURCE" default:"PARTNER" description:"Origin tag that is persisted but never served"`
	DirectSource       string `long:"direct-source" env:"DIRECT_SOURCE" default:"DIR" description:"Origin tag of directly registered ads, never serialized as active"`
	DefaultPageSize    int    `long:"default-page-size" env:"DEFAULT_PAGE_SIZE" default:"1000" description:"Feed page size when the client does not ask for one"`
	MaxPageSize        int    `long:"max-page-size" env:"MAX_PAGE_SIZE" default:"10000" description:"Upper bound for the pageSize query parameter"`

	// Auth configuration
	AuthIssuer   string `long:"auth-issuer" env:"AUTH_ISSUER" default:"job-feed" description:"JWT issuer"`
	AuthAudience string `long:"auth-audience" env:"AUTH_AUDIENCE" default:"feed-api-v1" description:"JWT audience"`
	AuthSecret   string `long:"auth-secret" env:"PRIVATE_SECRET" default:"" description:"HMAC secret for signing consumer tokens (required)" required:"true"`
	ElectorPath  string `long:"elector-path" env:"ELECTOR_PATH" default:"NOLEADERELECTION" description:"Host:port of the leader elector sidecar"`

	// Application configuration
	Port     string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl  string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://feed.example.com)"`
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Oslo)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBHost:                raw.DBHost,
		DBPort:                raw.DBPort,
		DBUser:                raw.DBUser,
		DBPassword:            raw.DBPassword,
		DBName:                raw.DBName,
		KafkaBrokers:          raw.KafkaBrokers,
		KafkaTopic:            raw.KafkaTopic,
		KafkaGroupID:          raw.KafkaGroupID,
		KafkaBackfillGroupID:  raw.KafkaBackfillGroupID,
		KafkaCAPath:           raw.KafkaCAPath,
		KafkaCertPath:         raw.KafkaCertPath,
		KafkaKeyPath:          raw.KafkaKeyPath,
		SourceBackfillEnabled: raw.SourceBackfillEnabled,
		AdURLBase:             raw.AdURLBase,
		ExcludedFeedSource:    raw.ExcludedFeedSource,
		DirectSource:          raw.DirectSource,
		DefaultPageSize:       raw.DefaultPageSize,
		MaxPageSize:           raw.MaxPageSize,
		AuthIssuer:            raw.AuthIssuer,
		AuthAudience:          raw.AuthAudience,
		AuthSecret:            raw.AuthSecret,
		ElectorPath:           raw.ElectorPath,
		Port:                  raw.Port,
		BaseUrl:               raw.BaseUrl,
		Timezone:              raw.Timezone,
		Debug:                 raw.Debug,
		Version:               GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
