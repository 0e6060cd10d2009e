package config

import (
	"encoding/json"
	"log"
	"os"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Auth     AuthConfig     `json:"auth"`
	Kafka    KafkaConfig    `json:"kafka"`
	Redis    RedisConfig    `json:"redis"`
}

type ServerConfig struct {
	Addr string `json:"addr"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	TokenExpiry   int    `json:"token_expiry"`   // in hours
	RefreshExpiry int    `json:"refresh_expiry"` // in hours
}

type KafkaConfig struct {
	Brokers  []string `json:"brokers"`
	Topic    string   `json:"topic"`    // 聊天消息 topic
	GroupID  string   `json:"group_id"` // 持久化 worker 消费组
	Username string   `json:"username"`
	Password string   `json:"password"`
	UseTLS   bool     `json:"use_tls"`
	CertFile string   `json:"cert_file"`
	KeyFile  string   `json:"key_file"`
	CAFile   string   `json:"ca_file"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func LoadConfig() (config Config, err error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.json"
	}
	file, err := os.Open(path)
	if err != nil {
		return config, err
	}
	defer func(file *os.File) {
		closeErr := file.Close()
		if closeErr != nil {
			log.Printf("Error closing config file: %v", closeErr)
		}
	}(file)
	decoder := json.NewDecoder(file)
	err = decoder.Decode(&config)
	if err != nil {
		return config, err
	}
	return config, nil
}
