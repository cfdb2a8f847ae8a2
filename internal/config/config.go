package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap/zapcore"
)

const (
	DEFAULT_BAUD_RATE       = 19200
	DEFAULT_MAX_LINE_LENGTH = 200
	MIN_REPORT_INTERVAL     = 100
)

type Config struct {
	LogLevel             zapcore.Level
	MQTT                 MQTTConfig    `mapstructure:"mqtt"`
	Redis                RedisConfig   `mapstructure:"redis"`
	Inputs               []InputConfig `mapstructure:"inputs"`
	SchemaFile           string        `mapstructure:"schema_file"`
	ReportIntervalMillis uint32        `mapstructure:"report_interval_millis"`
	SnapshotCron         string        `mapstructure:"snapshot_cron"`
	Port                 uint          `mapstructure:"port"`
	HttpLog              bool          `mapstructure:"http_log"`
}

// InputConfig describes one VE.Direct port. Exactly one of Device and
// ReplayFile is set.
type InputConfig struct {
	Name          string
	Device        string
	BaudRate      int    `mapstructure:"baud_rate"`
	Topic         string
	ReplayFile    string `mapstructure:"replay_file"`
	MaxLineLength int    `mapstructure:"max_line_length"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	ClientId          string `mapstructure:"client_id"`
	BaseTopic         string `mapstructure:"base_topic"`
	Retain            bool   `mapstructure:"retain"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type RedisConfig struct {
	Enable    bool
	Addr      string
	Password  string
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

var (
	baseTopicRegexp = regexp.MustCompile("^[a-z0-9_]+$")
	topicPathRegexp = regexp.MustCompile("^[a-z0-9_-]+(/[a-z0-9_-]+)*$")
	inputNameRegexp = regexp.MustCompile("^[a-z0-9_-]+$")
)

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	if !baseTopicRegexp.MatchString(lowerBaseTopic) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckMQTTTopicPath validates a relative topic like "solar/100-50".
func CheckMQTTTopicPath(topic string) (string, error) {
	lowerTopic := strings.ToLower(topic)
	if !topicPathRegexp.MatchString(lowerTopic) {
		return "", errors.New("invalid topic path. levels can only contain letters, numbers, dashes and underscores")
	}
	return lowerTopic, nil
}

// Validate checks the configuration and fills in per-input defaults.
func (cfg *Config) Validate() error {

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	if cfg.MQTT.HADiscoveryEnable {
		hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
		if err != nil {
			return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.HADiscoveryTopic = hadBaseTopic
	}

	// check bounds
	if cfg.ReportIntervalMillis < MIN_REPORT_INTERVAL {
		return fmt.Errorf("config param report_interval_millis should be >= %d", MIN_REPORT_INTERVAL)
	}
	if cfg.SnapshotCron != "" {
		if _, err := quartz.NewCronTrigger(cfg.SnapshotCron); err != nil {
			return fmt.Errorf("config param snapshot_cron is invalid: %w", err)
		}
	}
	if cfg.Redis.Enable && cfg.Redis.Addr == "" {
		return errors.New("config param redis.addr is required when redis is enabled")
	}

	// inputs
	if len(cfg.Inputs) == 0 {
		return errors.New("at least one input must be configured")
	}
	names := make(map[string]bool, len(cfg.Inputs))
	for i := range cfg.Inputs {
		input := &cfg.Inputs[i]
		input.Name = strings.ToLower(input.Name)
		if !inputNameRegexp.MatchString(input.Name) {
			return fmt.Errorf("input #%d: invalid name '%s'. can only contain letters, numbers, dashes and underscores", i, input.Name)
		}
		if names[input.Name] {
			return fmt.Errorf("input %s: duplicated name", input.Name)
		}
		names[input.Name] = true

		if (input.Device == "") == (input.ReplayFile == "") {
			return fmt.Errorf("input %s: exactly one of device and replay_file must be set", input.Name)
		}
		if input.Topic == "" {
			input.Topic = input.Name
		}
		topic, err := CheckMQTTTopicPath(input.Topic)
		if err != nil {
			return fmt.Errorf("input %s: %w", input.Name, err)
		}
		input.Topic = topic
		if input.BaudRate == 0 {
			input.BaudRate = DEFAULT_BAUD_RATE
		}
		if input.MaxLineLength <= 0 {
			input.MaxLineLength = DEFAULT_MAX_LINE_LENGTH
		}
	}

	return nil
}
