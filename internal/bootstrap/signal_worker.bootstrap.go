package bootstrap

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/signalbridge/signal-bridge/internal/config"
	"github.com/signalbridge/signal-bridge/internal/entity"
	"github.com/signalbridge/signal-bridge/internal/infrastructure"
	"github.com/signalbridge/signal-bridge/internal/repository"
	"github.com/signalbridge/signal-bridge/internal/service/exchange"
	"github.com/signalbridge/signal-bridge/internal/service/executor"
	"github.com/signalbridge/signal-bridge/internal/util"
)

// StartSignalWorker consumes queued webhook signals from JetStream and
// executes them through the same pipeline the gateway uses.
func StartSignalWorker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tradingDB, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["trading"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, tradingDB, config.Env.Database["trading"].PingInterval)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	tradeRepo := repository.NewTradeRepository(tradingDB)
	settingsRepo := repository.NewSettingsRepository(tradingDB)

	dedupGuard, err := executor.NewRedisDedupGuard(config.Env.Redis.CacheDSN, config.Env.Webhook.DedupTTL)
	util.ContinueOrFatal(err)

	bybit := exchange.NewBybitExchange(config.Env.Exchange)
	executorService := executor.NewService(bybit, tradeRepo, settingsRepo, dedupGuard, config.Env.Trading.DefaultPositionSize)
	asyncIntake := executor.NewAsyncIntake(js, executorService)

	subscribers := []entity.Subscriber{asyncIntake}
	for _, v := range subscribers {
		err = v.JetstreamEventSubscribe(ctx)
		util.ContinueOrFatal(err)
	}

	logrus.Info("signal worker started")

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"trading database": func(ctx context.Context) error {
			cancel()
			return tradingDB.Close()
		},
		"redis": func(ctx context.Context) error {
			return dedupGuard.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}
