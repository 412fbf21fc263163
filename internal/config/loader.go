package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// GlobalConfig 全局配置实例
	GlobalConfig *Config
)

// LoadConfig 加载配置文件
// configPath: 配置文件目录，如果为空则使用默认路径
// env: 环境标识，支持 development, test, production
func LoadConfig(configPath, env string) (*Config, error) {
	if env == "" {
		env = getEnvFromEnvironment()
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// 根据环境选择配置文件
	configFile := getConfigFileName(configPath, env)
	v.SetConfigFile(configFile)

	// 设置环境变量前缀
	v.SetEnvPrefix("BOMSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvironmentVariables(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	GlobalConfig = &config

	return &config, nil
}

// getEnvFromEnvironment 从环境变量获取环境标识
func getEnvFromEnvironment() string {
	env := os.Getenv("BOMSYNC_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "development" // 默认开发环境
	}
	return env
}

// getDefaultConfigPath 获取默认配置文件路径
func getDefaultConfigPath() string {
	if configPath := os.Getenv("BOMSYNC_CONFIG_PATH"); configPath != "" {
		return configPath
	}
	return "configs"
}

// getConfigFileName 根据环境获取配置文件名
func getConfigFileName(configPath, env string) string {
	var configFile string

	switch env {
	case "production", "prod":
		configFile = filepath.Join(configPath, "config.prod.yaml")
	case "test", "testing":
		configFile = filepath.Join(configPath, "config.test.yaml")
	default:
		configFile = filepath.Join(configPath, "config.yaml")
	}

	// 检查文件是否存在，如果不存在则使用默认配置文件
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := filepath.Join(configPath, "config.yaml")
		if _, err := os.Stat(defaultConfig); err == nil {
			return defaultConfig
		}
	}

	return configFile
}

// bindEnvironmentVariables 绑定环境变量
func bindEnvironmentVariables(v *viper.Viper) {
	// 数据库配置
	v.BindEnv("database.mysql.host", "BOMSYNC_MYSQL_HOST")
	v.BindEnv("database.mysql.port", "BOMSYNC_MYSQL_PORT")
	v.BindEnv("database.mysql.username", "BOMSYNC_MYSQL_USERNAME")
	v.BindEnv("database.mysql.password", "BOMSYNC_MYSQL_PASSWORD")
	v.BindEnv("database.mysql.database", "BOMSYNC_MYSQL_DATABASE")

	v.BindEnv("database.redis.host", "BOMSYNC_REDIS_HOST")
	v.BindEnv("database.redis.port", "BOMSYNC_REDIS_PORT")
	v.BindEnv("database.redis.password", "BOMSYNC_REDIS_PASSWORD")

	// 对象存储凭证
	v.BindEnv("storage.s3.endpoint", "BOMSYNC_S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "BOMSYNC_S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "BOMSYNC_S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "BOMSYNC_S3_SECRET_ACCESS_KEY")

	// 队列
	v.BindEnv("queue.url", "BOMSYNC_RABBITMQ_URL")

	v.BindEnv("server.port", "BOMSYNC_SERVER_PORT")
	v.BindEnv("app.environment", "BOMSYNC_APP_ENVIRONMENT")
}

// setDefaults 设置导入相关的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "s3")
	v.SetDefault("storage.bom_dir", "bom")
	v.SetDefault("storage.bom_file_name", "project.bom")
	v.SetDefault("storage.nc_dir", "nc")
	v.SetDefault("storage.nc_file_name", "nc.zip")
	v.SetDefault("storage.work_dir", os.TempDir())
	v.SetDefault("storage.s3.region", "us-east-1")

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.name", "bom_import")
	v.SetDefault("queue.concurrency", 1)
	v.SetDefault("queue.buffer_size", 100)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.max_backoff", 60*time.Second)

	v.SetDefault("import.chunk_size", 100)
	v.SetDefault("import.tag_max_rounds", 10)
	v.SetDefault("import.tag_length", 10)
	v.SetDefault("import.progress_store", "memory")
	v.SetDefault("import.progress_ttl", 24*time.Hour)
	v.SetDefault("import.report_step_percent", 10)

	v.SetDefault("monitor.metrics.path", "/metrics")
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.Mode != "debug" && config.Server.Mode != "release" && config.Server.Mode != "test" {
		return fmt.Errorf("invalid server mode: %s", config.Server.Mode)
	}

	if config.Database.MySQL.Host == "" {
		return fmt.Errorf("mysql host is required")
	}

	if config.Database.MySQL.Database == "" {
		return fmt.Errorf("mysql database name is required")
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	if !contains(validLogLevels, config.Log.Level) {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Log.Format) {
		return fmt.Errorf("invalid log format: %s", config.Log.Format)
	}

	validLogOutputs := []string{"stdout", "stderr", "file"}
	if !contains(validLogOutputs, config.Log.Output) {
		return fmt.Errorf("invalid log output: %s", config.Log.Output)
	}

	if config.Log.Output == "file" && config.Log.FilePath == "" {
		return fmt.Errorf("log file path is required when output is file")
	}

	// 存储配置
	switch config.Storage.Driver {
	case "s3":
		if config.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
	case "local":
		if strings.TrimSpace(config.Storage.LocalRoot) == "" {
			return fmt.Errorf("storage.local_root is required when driver is local")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s", config.Storage.Driver)
	}

	// 队列配置
	switch config.Queue.Driver {
	case "memory":
	case "rabbitmq":
		if config.Queue.URL == "" {
			return fmt.Errorf("queue.url is required when driver is rabbitmq")
		}
	default:
		return fmt.Errorf("invalid queue driver: %s", config.Queue.Driver)
	}

	if config.Import.ChunkSize <= 0 {
		return fmt.Errorf("import.chunk_size must be positive")
	}
	if config.Import.TagMaxRounds <= 0 {
		return fmt.Errorf("import.tag_max_rounds must be positive")
	}

	validProgressStores := []string{"memory", "redis"}
	if !contains(validProgressStores, config.Import.ProgressStore) {
		return fmt.Errorf("invalid progress store: %s", config.Import.ProgressStore)
	}
	if config.Import.ProgressStore == "redis" && config.Database.Redis.Host == "" {
		return fmt.Errorf("redis host is required when progress store is redis")
	}

	return nil
}

// contains 检查切片是否包含指定元素
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return GlobalConfig
}
