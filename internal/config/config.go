package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	JWT     JWTConfig     `mapstructure:"jwt"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Game    GameConfig    `mapstructure:"game"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ArchiveConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres
	DSN    string `mapstructure:"dsn"`    // empty disables the archive
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type GameConfig struct {
	ReaperInterval         time.Duration `mapstructure:"reaperInterval"`
	PresenceTimeout        time.Duration `mapstructure:"presenceTimeout"`
	StartDelay             time.Duration `mapstructure:"startDelay"`
	EnforceDecisionTimeout bool          `mapstructure:"enforceDecisionTimeout"`
}

var GlobalConfig *Config

func LoadConfig(path string) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("jwt.expire", 24)
	viper.SetDefault("archive.driver", "sqlite")
	viper.SetDefault("game.reaperInterval", "15s")
	viper.SetDefault("game.presenceTimeout", "45s")
	viper.SetDefault("game.startDelay", "2s")
	viper.SetDefault("game.enforceDecisionTimeout", true)

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	GlobalConfig = &cfg
}
