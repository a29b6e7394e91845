package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/signalbridge/signal-bridge/internal/config"
	"github.com/signalbridge/signal-bridge/internal/entity"
	httpHandler "github.com/signalbridge/signal-bridge/internal/handler/gateway/http"
	"github.com/signalbridge/signal-bridge/internal/infrastructure"
	"github.com/signalbridge/signal-bridge/internal/repository"
	"github.com/signalbridge/signal-bridge/internal/service/exchange"
	"github.com/signalbridge/signal-bridge/internal/service/executor"
	"github.com/signalbridge/signal-bridge/internal/util"
)

// StartSignalGateway runs the webhook-facing HTTP service: synchronous
// signal execution plus the async intake publisher.
func StartSignalGateway(cmd *cobra.Command, args []string) {
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

	publishers := []entity.Publisher{asyncIntake}
	for _, v := range publishers {
		err = v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	gatewayHandler := httpHandler.NewGatewayHTTPHandler(executorService, asyncIntake, bybit, tradeRepo, settingsRepo)
	httpMux := http.NewServeMux()
	gatewayHandler.Register(httpMux)
	infrastructure.RegisterHealthRoutes(httpMux)

	httpPort := fmt.Sprintf(":%s", config.Env.Port["signal_gateway_http"])
	httpServer := infrastructure.NewHTTPServer(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, httpMux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"trading database": func(ctx context.Context) error {
			cancel()
			return tradingDB.Close()
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
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
