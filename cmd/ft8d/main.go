// ft8d is the station daemon: it loads config.json, wires the core engine,
// starts it, and serves the HTTP/WebSocket adapter until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kb5ft8/ft8d/pkg/config"
	"github.com/kb5ft8/ft8d/pkg/engine"
	"github.com/kb5ft8/ft8d/pkg/logging"
	"github.com/kb5ft8/ft8d/pkg/model"
	"github.com/kb5ft8/ft8d/pkg/wsbus"
)

var (
	configPath = flag.String("config", "config.json", "configuration file path")
	dataDir    = flag.String("data", ".", "directory for frame archives and the worked-station index")
	logPath    = flag.String("log", "", "log file path (empty: stderr only)")
	logLevel   = flag.String("level", "info", "log level: debug|info|warn|error")
	noStart    = flag.Bool("no-start", false, "wire everything but wait for an API start call")
	version    = flag.Bool("version", false, "show version and exit")
)

const Version = "0.1.0"

func main() {
	flag.Parse()
	if *version {
		fmt.Printf("ft8d %s\n", Version)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ft8d: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logging.Init(logging.Config{
		FilePath: *logPath,
		Console:  true,
		Level:    logging.ParseLevel(*logLevel),
	}); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	log := logging.Component("main")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	eng, err := engine.NewCoreEngine(cfg, engine.Options{
		FrameLogDir:  *dataDir,
		WorkedDBPath: *dataDir + "/worked.db",
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warnf("close: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !*noStart {
		if err := eng.Start(ctx); err != nil {
			// The API can still bring the engine up once the operator fixes
			// whatever failed; don't exit.
			log.Errorf("initial start: %v", err)
		}
	}

	var mqttPub *wsbus.MQTTPublisher
	if cfg.MQTT != nil && cfg.MQTT.Enabled {
		mqttPub = wsbus.NewMQTTPublisher(wsbus.MQTTConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			TopicRoot: cfg.MQTT.TopicRoot,
		})
	}

	srv := wsbus.NewServer(eng, mqttPub)
	log.Infof("ft8d %s listening on %s:%d", Version, cfg.Server.Host, cfg.Server.Port)
	serveErr := srv.Run(ctx, cfg.Server.Host, cfg.Server.Port)

	if eng.State() != model.EngineIdle {
		if err := eng.Stop(); err != nil {
			log.Warnf("shutdown stop: %v", err)
		}
	}
	return serveErr
}
