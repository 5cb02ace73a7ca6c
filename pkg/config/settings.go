package config

import "time"

type RedisConfig struct {
	Url      string `mapstructure:"url" json:"url"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	PassWord string `mapstructure:"passWord" json:"passWord"`
	DB       int    `mapstructure:"db" json:"db"`
}

// Enabled Host 或 Url 任一配置即视为启用
func (r RedisConfig) Enabled() bool {
	return r.Url != "" || r.Host != ""
}

// DatabaseConfig 数据库连接配置
// Driver 支持 mysql / postgres / sqlite，DSN 非空时直接使用
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver" json:"driver"`
	DSN          string        `mapstructure:"dsn" json:"dsn"`
	Host         string        `mapstructure:"host" json:"host"`
	Port         int           `mapstructure:"port" json:"port"`
	User         string        `mapstructure:"user" json:"user"`
	Password     string        `mapstructure:"password" json:"password"`
	DbName       string        `mapstructure:"dbname" json:"dbname"`
	LogLevel     string        `mapstructure:"logLevel" json:"logLevel"`
	SlowSQL      time.Duration `mapstructure:"slowSql" json:"slowSql"`
	MaxOpenConns int           `mapstructure:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns int           `mapstructure:"maxIdleConns" json:"maxIdleConns"`
}

type MongoDB struct {
	Link       string `mapstructure:"link" json:"link"`
	Database   string `mapstructure:"database" json:"database"`
	Collection string `mapstructure:"collection" json:"collection"`
}

type Upload struct {
	BasePath string `mapstructure:"basePath" json:"basePath"` // 本地存储路径，如 ./temp
	BaseURL  string `mapstructure:"baseURL" json:"baseURL"`   // 访问URL，如 http://localhost:8887/static
}

// ServiceConfig 基础设施配置，嵌入到应用配置中
type ServiceConfig struct {
	DB      DatabaseConfig `mapstructure:"database" json:"database"`
	RedisDB RedisConfig    `mapstructure:"redis" json:"redis"`
	Mongo   MongoDB        `mapstructure:"mongo" json:"mongo"`
	Upload  Upload         `mapstructure:"upload" json:"upload"`
}
