package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	Port        string
	LogLevel    string
	PublicDir   string
	StoreDriver string
	ClaimWindow time.Duration
	SeedCoupons []string

	DataFile    string
	StrictStore bool

	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	MigrationsDir string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	KafkaBrokers           string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaInstanceID        string
	KafkaTopicPartitions   string
	KafkaDLQPartitions     string
	KafkaReplicationFactor string
	EventDrivenEnabled     string
}

func Load() *Config {
	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Config{
		Port:        getEnv("PORT", "5000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		PublicDir:   getEnv("PUBLIC_DIR", "public"),
		StoreDriver: getEnv("STORE_DRIVER", DriverFile),
		ClaimWindow: parseDuration(os.Getenv("CLAIM_WINDOW"), time.Hour),
		SeedCoupons: splitList(getEnv("SEED_COUPONS", "COUPON1,COUPON2,COUPON3")),

		DataFile:    getEnv("DATA_FILE", "data.json"),
		StrictStore: getEnv("STRICT_STORE", "false") == "true",

		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "coupondb"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        parseInt(os.Getenv("REDIS_DB"), 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "coupon:"),

		KafkaBrokers:           getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "coupon-drop"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "coupon-drop-consumers"),
		KafkaInstanceID:        instanceID,
		KafkaTopicPartitions:   getEnv("KAFKA_TOPIC_PARTITIONS", "3"),
		KafkaDLQPartitions:     getEnv("KAFKA_DLQ_PARTITIONS", "1"),
		KafkaReplicationFactor: getEnv("KAFKA_REPLICATION_FACTOR", "1"),
		EventDrivenEnabled:     getEnv("EVENT_DRIVEN_ENABLED", "false"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) TopicPartitions() int {
	return parseInt(c.KafkaTopicPartitions, 3)
}

func (c *Config) DLQPartitions() int {
	return parseInt(c.KafkaDLQPartitions, 1)
}

func (c *Config) ReplicationFactor() int16 {
	value := parseInt(c.KafkaReplicationFactor, 1)
	return int16(value)
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
