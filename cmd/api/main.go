package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/vedirect2mqtt/internal/adapter/actor"
	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/actor"
	"github.com/berfenger/vedirect2mqtt/internal/core/port"
	"github.com/berfenger/vedirect2mqtt/internal/core/service"
	"github.com/berfenger/vedirect2mqtt/internal/redis"
	"github.com/berfenger/vedirect2mqtt/internal/server"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("vedirect2mqtt", zap.String("version", versioninfo.Short()))

	// field definitions are shared by every input
	schema, err := vedirect.LoadSchemaFile(cfg.SchemaFile)
	if err != nil {
		var schemaErr *vedirect.SchemaError
		if errors.As(err, &schemaErr) {
			logger.Error("invalid field definitions", zap.String("file", schemaErr.Source), zap.Error(schemaErr.Reason))
		} else {
			logger.Error("could not load field definitions", zap.Error(err))
		}
		// deferred calls do not run on exit
		_ = logger.Sync()
		os.Exit(1)
	}
	for _, field := range schema.Fields() {
		if !vedirect.KnownTypeTag(field.Type) {
			logger.Warn("field type not supported, values will be ignored", zap.String("field", field.Name), zap.String("type", string(field.Type)))
		}
	}
	logger.Info("field definitions loaded", zap.Int("fields", len(schema.Fields())))

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, mqttActorProvider(cfg, logger), redisActorProvider(cfg, logger),
			inputPollerProvider(schema, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("could not spawn master actor", zap.Error(err))
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => VEDIRECT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("VEDIRECT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("vedirect")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func inputPollerProvider(schema *vedirect.Schema, logger *zap.Logger) actor.InputPollerProvider {
	return func(input config.InputConfig) port.InputPoller {
		return service.NewInputPoller(input, schema, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func redisActorProvider(cfg *config.Config, logger *zap.Logger) actor.RedisActorProvider {
	if !cfg.Redis.Enable {
		return nil
	}
	return func(es *eventstream.EventStream) *adactor.RedisActor {
		return adactor.NewRedisActor(redis.NewStore(cfg.Redis), es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "vedirect")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("redis.enable", false)
	viper.SetDefault("redis.key_prefix", redis.DEFAULT_KEY_PREFIX)
	viper.SetDefault("schema_file", "configs/victron_data_def.json")
	viper.SetDefault("report_interval_millis", 1000)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Redis.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
