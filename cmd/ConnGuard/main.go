// Package main is the entry point of the ConnGuard service.
// It wires the connection resilience core behind a Kratos HTTP admin server.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"ConnGuard/internal/biz"
	"ConnGuard/internal/conf"
	zapLogger "ConnGuard/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "ConnGuard"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, registry *biz.ConnectionRegistry, sweeper *biz.StatusSweeper, rc *conf.Resilience) *kratos.App {
	helper := log.NewHelper(logger)
	var sweepCron *cron.Cron

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.AfterStart(func(ctx context.Context) error {
			if rc != nil && rc.Registry != nil && rc.Registry.AutoStart {
				if _, err := registry.StartAll(ctx); err != nil {
					// 持久化状态不可用时仍允许手动打开连接
					helper.Errorw("msg", "failed to start persisted connections", "error", err)
				}
			}
			spec := ""
			if rc != nil {
				spec = rc.SweepSpec
			}
			c, err := StartStatusSweepCron(sweeper, spec, logger)
			if err != nil {
				return err
			}
			sweepCron = c
			return nil
		}),
		kratos.BeforeStop(func(ctx context.Context) error {
			if sweepCron != nil {
				<-sweepCron.Stop().Done()
			}
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			registry.Shutdown(shutdownCtx)
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable and CLI flag support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := zapLogger.NewKratosAdapter(zapLog)

	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	zapLogger.NewLogHelper(logger).Startup("ConnGuard service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"database.driver", bc.Data.Database.Driver,
		"bridge.url", bc.Transport.Bridge.URL,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Resilience, bc.Transport, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
