// Package config loads service configuration from flags, environment
// variables and defaults through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	Port       string
	Module     string
	Service    string
	CacheTTL   time.Duration
	LogLevel   string
	LogFormat  string
	JWTSecret  string
	Database   Database
	Payment    Payment
	Notify     Notify
	ShutdownIn time.Duration
}

type Database struct {
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdle     time.Duration
	ConnMaxLifetime time.Duration
}

// DSN returns the postgres connection string or "" when postgres is not configured.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type Payment struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

type Notify struct {
	WorkerInterval time.Duration
	BatchSize      int
	RateLimit      float64
	RateBurst      int
	DedupeWindow   time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration

	SMSURL          string
	SMSAPIKey       string
	SMSSender       string
	SMSBackupURL    string
	SMSBackupAPIKey string

	WhatsAppURL     string
	WhatsAppToken   string
	WhatsAppPhoneID string

	PushURL       string
	PushServerKey string

	MailgunDomain string
	MailgunAPIKey string
	MailgunFrom   string
}

// Opt is a single command-line option bound to a viper key.
type Opt struct {
	Key     string
	Env     string
	Default any
	Desc    string
}

// Options lists every configuration key. Env names keep the historical
// unprefixed names so existing deployments keep working.
var Options = []Opt{
	{"port", "PORT", "8080", "HTTP listen port"},
	{"module-name", "MODULE_NAME", "ERP-eCommerce", "module name reported by /healthz"},
	{"cache-ttl", "CACHE_TTL", 45 * time.Second, "first-page list cache TTL"},
	{"log-level", "LOG_LEVEL", "info", "log level: debug, info, warn, error"},
	{"log-format", "LOG_FORMAT", "auto", "log format: auto, console, json, logfmt"},
	{"auth-jwt-secret", "AUTH_JWT_SECRET", "", "HS256 secret for bearer tokens; empty disables auth"},
	{"shutdown-timeout", "SHUTDOWN_TIMEOUT", 15 * time.Second, "graceful shutdown timeout"},

	{"database-url", "DATABASE_URL", "", "postgres connection URL"},
	{"db-host", "DB_HOST", "", "postgres host"},
	{"db-port", "DB_PORT", "5432", "postgres port"},
	{"db-user", "DB_USER", "postgres", "postgres user"},
	{"db-password", "DB_PASSWORD", "postgres", "postgres password"},
	{"db-name", "DB_NAME", "erp_ecommerce", "postgres database"},
	{"db-sslmode", "DB_SSLMODE", "disable", "postgres sslmode"},
	{"sqlite-path", "SQLITE_PATH", "", "sqlite file used when postgres is not configured (empty: in-memory)"},
	{"db-max-open-conns", "DB_MAX_OPEN_CONNS", 60, "max open connections"},
	{"db-max-idle-conns", "DB_MAX_IDLE_CONNS", 20, "max idle connections"},
	{"db-conn-max-idle", "DB_CONN_MAX_IDLE", 5 * time.Minute, "max connection idle time"},
	{"db-conn-max-lifetime", "DB_CONN_MAX_LIFETIME", 30 * time.Minute, "max connection lifetime"},

	{"payment-base-url", "PAYMENT_BASE_URL", "https://api.paystack.co", "payment gateway API base URL"},
	{"payment-secret-key", "PAYMENT_SECRET_KEY", "", "payment gateway secret key"},
	{"payment-timeout", "PAYMENT_TIMEOUT", 15 * time.Second, "payment gateway HTTP timeout"},

	{"notify-worker-interval", "NOTIFY_WORKER_INTERVAL", 5 * time.Second, "outbound queue poll interval"},
	{"notify-batch-size", "NOTIFY_BATCH_SIZE", 20, "outbound queue batch size"},
	{"notify-rate-limit", "NOTIFY_RATE_LIMIT", 5.0, "messages per second per tenant"},
	{"notify-rate-burst", "NOTIFY_RATE_BURST", 20, "per tenant burst"},
	{"notify-dedupe-window", "NOTIFY_DEDUPE_WINDOW", 10 * time.Minute, "identical message suppression window"},
	{"notify-max-attempts", "NOTIFY_MAX_ATTEMPTS", 3, "delivery attempts per queued message"},
	{"notify-retry-backoff", "NOTIFY_RETRY_BACKOFF", time.Minute, "delay before a failed message is retried, multiplied by attempts"},
	{"notify-sms-url", "NOTIFY_SMS_URL", "", "primary SMS API endpoint"},
	{"notify-sms-api-key", "NOTIFY_SMS_API_KEY", "", "primary SMS API key"},
	{"notify-sms-sender", "NOTIFY_SMS_SENDER", "", "SMS sender id"},
	{"notify-sms-backup-url", "NOTIFY_SMS_BACKUP_URL", "", "backup SMS API endpoint"},
	{"notify-sms-backup-api-key", "NOTIFY_SMS_BACKUP_API_KEY", "", "backup SMS API key"},
	{"notify-whatsapp-url", "NOTIFY_WHATSAPP_URL", "https://graph.facebook.com/v19.0", "WhatsApp Cloud API base URL"},
	{"notify-whatsapp-token", "NOTIFY_WHATSAPP_TOKEN", "", "WhatsApp access token"},
	{"notify-whatsapp-phone-id", "NOTIFY_WHATSAPP_PHONE_ID", "", "WhatsApp sender phone number id"},
	{"notify-push-url", "NOTIFY_PUSH_URL", "https://fcm.googleapis.com/fcm/send", "push endpoint"},
	{"notify-push-server-key", "NOTIFY_PUSH_SERVER_KEY", "", "push server key"},
	{"notify-mailgun-domain", "NOTIFY_MAILGUN_DOMAIN", "", "mailgun sending domain"},
	{"notify-mailgun-api-key", "NOTIFY_MAILGUN_API_KEY", "", "mailgun API key"},
	{"notify-mailgun-from", "NOTIFY_MAILGUN_FROM", "", "email From address"},
}

// New returns a viper instance with defaults and env bindings for every option.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, o := range Options {
		v.SetDefault(o.Key, o.Default)
		_ = v.BindEnv(o.Key, o.Env)
	}
	return v
}

// BindFlags registers every option as a flag on cmd and binds it to v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	fs := cmd.Flags()
	for _, o := range Options {
		switch d := o.Default.(type) {
		case string:
			fs.String(o.Key, d, o.Desc)
		case int:
			fs.Int(o.Key, d, o.Desc)
		case float64:
			fs.Float64(o.Key, d, o.Desc)
		case time.Duration:
			fs.Duration(o.Key, d, o.Desc)
		default:
			// if you get a panic here, add the type above.
			panic(fmt.Errorf("unknown option type %T for %s", o.Default, o.Key))
		}
		if err := v.BindPFlag(o.Key, fs.Lookup(o.Key)); err != nil {
			panic(err)
		}
	}
}

// Load reads the resolved configuration for service.
func Load(v *viper.Viper, service string) Config {
	return Config{
		Port:       v.GetString("port"),
		Module:     v.GetString("module-name"),
		Service:    service,
		CacheTTL:   v.GetDuration("cache-ttl"),
		LogLevel:   v.GetString("log-level"),
		LogFormat:  v.GetString("log-format"),
		JWTSecret:  v.GetString("auth-jwt-secret"),
		ShutdownIn: v.GetDuration("shutdown-timeout"),
		Database: Database{
			URL:             strings.TrimSpace(v.GetString("database-url")),
			Host:            strings.TrimSpace(v.GetString("db-host")),
			Port:            v.GetString("db-port"),
			User:            v.GetString("db-user"),
			Password:        v.GetString("db-password"),
			Name:            v.GetString("db-name"),
			SSLMode:         v.GetString("db-sslmode"),
			SQLitePath:      v.GetString("sqlite-path"),
			MaxOpenConns:    v.GetInt("db-max-open-conns"),
			MaxIdleConns:    v.GetInt("db-max-idle-conns"),
			ConnMaxIdle:     v.GetDuration("db-conn-max-idle"),
			ConnMaxLifetime: v.GetDuration("db-conn-max-lifetime"),
		},
		Payment: Payment{
			BaseURL:   v.GetString("payment-base-url"),
			SecretKey: v.GetString("payment-secret-key"),
			Timeout:   v.GetDuration("payment-timeout"),
		},
		Notify: Notify{
			WorkerInterval:  v.GetDuration("notify-worker-interval"),
			BatchSize:       v.GetInt("notify-batch-size"),
			RateLimit:       v.GetFloat64("notify-rate-limit"),
			RateBurst:       v.GetInt("notify-rate-burst"),
			DedupeWindow:    v.GetDuration("notify-dedupe-window"),
			MaxAttempts:     v.GetInt("notify-max-attempts"),
			RetryBackoff:    v.GetDuration("notify-retry-backoff"),
			SMSURL:          v.GetString("notify-sms-url"),
			SMSAPIKey:       v.GetString("notify-sms-api-key"),
			SMSSender:       v.GetString("notify-sms-sender"),
			SMSBackupURL:    v.GetString("notify-sms-backup-url"),
			SMSBackupAPIKey: v.GetString("notify-sms-backup-api-key"),
			WhatsAppURL:     v.GetString("notify-whatsapp-url"),
			WhatsAppToken:   v.GetString("notify-whatsapp-token"),
			WhatsAppPhoneID: v.GetString("notify-whatsapp-phone-id"),
			PushURL:         v.GetString("notify-push-url"),
			PushServerKey:   v.GetString("notify-push-server-key"),
			MailgunDomain:   v.GetString("notify-mailgun-domain"),
			MailgunAPIKey:   v.GetString("notify-mailgun-api-key"),
			MailgunFrom:     v.GetString("notify-mailgun-from"),
		},
	}
}
