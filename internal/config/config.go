package config

import (
	"fmt"
	"time"
)

// Config 应用配置结构体 [这里的字段和配置文件中一级字段保持一致，否则会没有值]
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`     // 服务器配置
	Database DatabaseConfig `yaml:"database" mapstructure:"database"` // 数据库配置
	Log      LogConfig      `yaml:"log" mapstructure:"log"`           // 日志配置
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`   // 对象存储配置
	Queue    QueueConfig    `yaml:"queue" mapstructure:"queue"`       // 导入队列配置
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`     // BOM导入配置
	Monitor  MonitorConfig  `yaml:"monitor" mapstructure:"monitor"`   // 监控配置
	App      AppConfig      `yaml:"app" mapstructure:"app"`           // 应用配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                         // 服务器主机地址
	Port           int           `yaml:"port" mapstructure:"port"`                         // 服务器端口
	Mode           string        `yaml:"mode" mapstructure:"mode"`                         // 运行模式: debug, release, test
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`         // 读取超时时间
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`       // 写入超时时间
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 空闲超时时间
	MaxHeaderBytes int           `yaml:"max_header_bytes" mapstructure:"max_header_bytes"` // 最大请求头字节数
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql" mapstructure:"mysql"` // MySQL配置
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"` // Redis配置
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`                             // 数据库主机
	Port            int           `yaml:"port" mapstructure:"port"`                             // 数据库端口
	Username        string        `yaml:"username" mapstructure:"username"`                     // 用户名
	Password        string        `yaml:"password" mapstructure:"password"`                     // 密码
	Database        string        `yaml:"database" mapstructure:"database"`                     // 数据库名
	Charset         string        `yaml:"charset" mapstructure:"charset"`                       // 字符集
	ParseTime       bool          `yaml:"parse_time" mapstructure:"parse_time"`                 // 是否解析时间
	Loc             string        `yaml:"loc" mapstructure:"loc"`                               // 时区
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`         // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`         // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`   // 连接最大生存时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"` // 连接最大空闲时间
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`                   // 日志级别
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`                     // Redis主机
	Port         int           `yaml:"port" mapstructure:"port"`                     // Redis端口
	Password     string        `yaml:"password" mapstructure:"password"`             // Redis密码
	Database     int           `yaml:"database" mapstructure:"database"`             // Redis数据库索引
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`           // 连接池大小
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"` // 最小空闲连接数
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`     // 连接超时
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`     // 读取超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`   // 写入超时
	PoolTimeout  time.Duration `yaml:"pool_timeout" mapstructure:"pool_timeout"`     // 连接池超时
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`     // 空闲超时
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式: json, text
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: stdout, stderr, file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 日志文件保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩日志文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// StorageConfig 对象存储配置
// BOM包约定路径: projects/{projectId}/{bom_dir}/{bom_file_name}
// NC压缩包约定路径: projects/{projectId}/{nc_dir}/{nc_file_name} (可选)
type StorageConfig struct {
	Driver      string   `yaml:"driver" mapstructure:"driver"`               // 存储驱动: s3, local
	S3          S3Config `yaml:"s3" mapstructure:"s3"`                       // S3兼容存储配置
	LocalRoot   string   `yaml:"local_root" mapstructure:"local_root"`       // 本地存储根目录(driver=local)
	BOMDir      string   `yaml:"bom_dir" mapstructure:"bom_dir"`             // BOM文件目录名
	BOMFileName string   `yaml:"bom_file_name" mapstructure:"bom_file_name"` // BOM文件名
	NCDir       string   `yaml:"nc_dir" mapstructure:"nc_dir"`               // NC压缩包目录名
	NCFileName  string   `yaml:"nc_file_name" mapstructure:"nc_file_name"`   // NC压缩包文件名
	WorkDir     string   `yaml:"work_dir" mapstructure:"work_dir"`           // 下载/解压临时目录
}

// S3Config S3兼容对象存储配置(兼容MinIO)
type S3Config struct {
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`                   // 服务端点
	Region          string `yaml:"region" mapstructure:"region"`                       // 区域
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`                       // 桶名
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`         // 访问密钥ID
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"` // 访问密钥
	UseSSL          bool   `yaml:"use_ssl" mapstructure:"use_ssl"`                     // 是否启用SSL
}

// QueueConfig 导入队列配置
type QueueConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`           // 队列驱动: memory, rabbitmq
	URL         string        `yaml:"url" mapstructure:"url"`                 // RabbitMQ连接地址
	Name        string        `yaml:"name" mapstructure:"name"`               // 队列名称
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"` // 并发Worker数量(每个Worker同一时刻只处理一个任务)
	BufferSize  int           `yaml:"buffer_size" mapstructure:"buffer_size"` // 内存队列缓冲区大小
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"` // 瞬时错误最大重试次数
	MaxBackoff  time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"` // 最大重试退避时间
}

// ImportConfig BOM导入配置
type ImportConfig struct {
	ChunkSize         int           `yaml:"chunk_size" mapstructure:"chunk_size"`                   // 每个事务处理的记录数
	TagMaxRounds      int           `yaml:"tag_max_rounds" mapstructure:"tag_max_rounds"`           // 标签生成最大重试轮数
	TagLength         int           `yaml:"tag_length" mapstructure:"tag_length"`                   // 标签长度
	ProgressStore     string        `yaml:"progress_store" mapstructure:"progress_store"`           // 进度存储: memory, redis
	ProgressTTL       time.Duration `yaml:"progress_ttl" mapstructure:"progress_ttl"`               // 进度数据过期时间
	ReportStepPercent int           `yaml:"report_step_percent" mapstructure:"report_step_percent"` // 进度上报步长(百分比)
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"` // 指标监控配置
}

// MetricsConfig 指标监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"` // 是否启用指标监控
	Path    string `yaml:"path" mapstructure:"path"`       // 指标接口路径
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`               // 应用名称
	Version     string `yaml:"version" mapstructure:"version"`         // 应用版本
	Environment string `yaml:"environment" mapstructure:"environment"` // 运行环境
}

// GetAddress 获取服务器完整地址
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment 判断是否为开发环境
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction 判断是否为生产环境
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// GetMySQLDSN 获取MySQL数据源名称
func (m *MySQLConfig) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		m.Username, m.Password, m.Host, m.Port, m.Database, m.Charset, m.ParseTime, m.Loc)
}

// GetRedisAddress 获取Redis地址
func (r *RedisConfig) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
