package util

import (
	"github.com/berfenger/vedirect2mqtt/internal/config"

	"go.uber.org/zap"
)

const TEST_SCHEMA_FILE = "configs/victron_data_def.json"

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "vedirect",
			HADiscoveryTopic: "homeassistant",
		},
		Inputs: []config.InputConfig{
			{
				Name:          "bmv-712",
				Topic:         "bmv-712",
				Device:        "/dev/ttyUSB0",
				BaudRate:      config.DEFAULT_BAUD_RATE,
				MaxLineLength: config.DEFAULT_MAX_LINE_LENGTH,
			},
			{
				Name:          "solar_100_50",
				Topic:         "solar/100-50",
				Device:        "/dev/ttyUSB1",
				BaudRate:      config.DEFAULT_BAUD_RATE,
				MaxLineLength: config.DEFAULT_MAX_LINE_LENGTH,
			},
		},
		SchemaFile:           TEST_SCHEMA_FILE,
		ReportIntervalMillis: 200,
		Port:                 8080,
	}
}
