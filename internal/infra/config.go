package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xela07ax/netops-governor/internal/audit"
	"github.com/xela07ax/netops-governor/internal/batch"
	"github.com/xela07ax/netops-governor/internal/executor"
	"github.com/xela07ax/netops-governor/internal/reputation"
)

// Config: корневая структура конфигурации governor.
type Config struct {
	Server       ServerConfig   `mapstructure:"server"`
	Database     DatabaseConfig `mapstructure:"database"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Auth         AuthConfig     `mapstructure:"auth"`
	Engine       EngineConfig   `mapstructure:"engine"`
	Batch        batch.Config   `mapstructure:"batch"`
	Executor     ExecutorConfig `mapstructure:"executor"`
	ExecutionLog audit.Config   `mapstructure:"execution_log"`
	Notify       NotifyConfig   `mapstructure:"notify"`
	Logger       LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL включает in-memory хранилище.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и наборы ограничений).
// Пустой Addr отключает синхронизацию между инстансами.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	Issuer         string        `mapstructure:"issuer"`
	PublicKey      []byte
	PrivateKey     []byte
}

// EngineConfig — настройки движка решений и отчета о репутации.
type EngineConfig struct {
	InstanceID    string           `mapstructure:"instance_id"`
	AgentScope    string           `mapstructure:"agent_scope"`
	InitialEAS    float64          `mapstructure:"initial_eas"`
	PolicyPath    string           `mapstructure:"policy_path"`
	InventoryPath string           `mapstructure:"inventory_path"` // пусто: без обогащения
	HistoryWindow time.Duration    `mapstructure:"history_window"`
	Reputation    ReputationConfig `mapstructure:"reputation"`
}

type ReputationConfig struct {
	Weights  reputation.Weights `mapstructure:"weights"`
	HalfLife time.Duration      `mapstructure:"half_life"`
	Window   time.Duration      `mapstructure:"window"`
}

// ExecutorConfig: mode "grpc" ходит в device-сервис, "simulator" для локальной имитации.
type ExecutorConfig struct {
	Mode                       string        `mapstructure:"mode"`
	GRPCTarget                 string        `mapstructure:"grpc_target"`
	PerDevice                  int           `mapstructure:"per_device"`
	QueueTimeout               time.Duration `mapstructure:"queue_timeout"`
	executor.ReliabilityConfig `mapstructure:",squash"`
}

type NotifyConfig struct {
	SlackWebhookURL string        `mapstructure:"slack_webhook_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// Пустой path означает поиск config.yaml в . и ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.Engine.InitialEAS < 0 || cfg.Engine.InitialEAS > 1 {
		return nil, fmt.Errorf("engine.initial_eas %v: must be within [0,1]", cfg.Engine.InitialEAS)
	}

	// 6. Ключи: PEM из ENV (Docker/K8s) или файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.issuer", "netops-governor")
	v.SetDefault("engine.agent_scope", "default")
	v.SetDefault("engine.initial_eas", 0.0)
	v.SetDefault("engine.policy_path", "./configs/policy.yaml")
	v.SetDefault("engine.reputation.weights.eas", reputation.DefaultWeights.EAS)
	v.SetDefault("engine.reputation.weights.verdicts", reputation.DefaultWeights.Verdicts)
	v.SetDefault("engine.reputation.weights.execution", reputation.DefaultWeights.Execution)
	v.SetDefault("engine.reputation.half_life", 7*24*time.Hour)
	v.SetDefault("engine.reputation.window", 30*24*time.Hour)
	v.SetDefault("batch.max_parallel", 5)
	v.SetDefault("batch.rollback_on_failure", true)
	v.SetDefault("executor.mode", "simulator")
	v.SetDefault("executor.call_timeout", 60*time.Second)
	v.SetDefault("executor.retry_attempts", 3)
	v.SetDefault("executor.per_device", 1)
	v.SetDefault("executor.queue_timeout", 30*time.Second)
	v.SetDefault("execution_log.buffer_size", 1000)
	v.SetDefault("execution_log.batch_size", 100)
	v.SetDefault("execution_log.flush_interval", 1*time.Second)
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource: ENV с самим ключом имеет приоритет над файлом
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
