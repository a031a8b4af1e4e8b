// Command auditor subscribes to the gateway's event subjects and writes each
// event to the structured log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/logging"
	"github.com/whisper/dm-gateway/internal/messaging"
)

type Config struct {
	NATSURL  string `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func main() {
	envFile := pflag.String("env-file", "", "load variables from this dotenv file first")
	pflag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "auditor: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return err
		}
	}
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logging.NewLogger(cfg.LogLevel, "dm-auditor")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Name = "dm-auditor"
	nc, err := messaging.NewNATSClient(natsCfg, log)
	if err != nil {
		return err
	}
	defer nc.Close()

	err = nc.SubscribeEvents(func(subject string, data []byte) {
		ev, err := messaging.DecodeEvent(subject, data)
		if err != nil {
			log.Warn("undecodable event", zap.String("subject", subject), zap.Error(err))
			return
		}
		log.Info("event", zap.String("subject", subject), zap.Any("payload", ev))
	})
	if err != nil {
		return err
	}
	log.Info("auditor subscribed", zap.String("subject", messaging.SubjectAll))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("auditor stopping")
	return nil
}
