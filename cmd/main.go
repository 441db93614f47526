package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/bugsnag/panicwrap"
	"github.com/solforge/netmon/internal/app"
	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/configure"
	"github.com/solforge/netmon/internal/global"
	"github.com/solforge/netmon/internal/health"
	"github.com/solforge/netmon/internal/monitor"
	"github.com/solforge/netmon/internal/monitoring"
	"go.uber.org/zap"
)

var (
	Version = "development"
	Unix    = ""
	Time    = "unknown"
	User    = "unknown"
)

func init() {
	if i, err := strconv.Atoi(Unix); err == nil {
		Time = time.Unix(int64(i), 0).Format(time.RFC3339)
	}
}

func main() {
	config := configure.New()

	exitStatus, err := panicwrap.BasicWrap(func(s string) {
		zap.S().Error(s)
	})
	if err != nil {
		zap.S().Error("failed to setup panic handler: ", err)
		os.Exit(2)
	}

	if exitStatus >= 0 {
		os.Exit(exitStatus)
	}

	if !config.NoHeader {
		zap.S().Info("solforge netmon")
		zap.S().Infof("Version: %s", Version)
		zap.S().Infof("build.Time: %s", Time)
		zap.S().Infof("build.User: %s", User)
	}

	zap.S().Debug("MaxProcs: ", runtime.GOMAXPROCS(0))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	c, cancel := context.WithCancel(context.Background())

	gCtx := global.New(c, config)
	gCtx.Inst().Events = bus.New()
	gCtx.Inst().Monitoring = monitoring.NewPrometheus(gCtx)

	mon, err := monitor.New(gCtx)
	if err != nil {
		zap.S().Fatalw("failed to build monitor", "error", err)
	}

	if err := mon.Start(); err != nil {
		zap.S().Fatalw("failed to start monitoring", "error", err)
	}

	var forwarder *bus.Forwarder
	if config.Events.NATS.Enabled {
		forwarder, err = bus.Forward(gCtx, gCtx.Inst().Events, config.Events.NATS.URL, config.Events.NATS.Subject)
		if err != nil {
			zap.S().Fatalw("failed to connect to nats", "error", err)
		}
	}

	dones := []<-chan struct{}{}

	if gCtx.Config().API.Enabled {
		_, done := app.New(gCtx, mon)
		dones = append(dones, done)
	}
	if gCtx.Config().Health.Enabled {
		dones = append(dones, health.New(gCtx, mon))
	}
	if gCtx.Config().Monitoring.Enabled {
		dones = append(dones, monitoring.New(gCtx))
	}

	zap.S().Info("running")

	done := make(chan struct{})
	go func() {
		<-sig
		cancel()
		go func() {
			select {
			case <-time.After(time.Minute):
			case <-sig:
			}
			zap.S().Fatal("force shutdown")
		}()

		zap.S().Info("shutting down")

		for _, ch := range dones {
			<-ch
		}

		if err := mon.Stop(); err != nil {
			zap.S().Warnw("monitor stop", "error", err)
		}

		if forwarder != nil {
			forwarder.Close()
		}

		close(done)
	}()

	<-done

	zap.S().Info("shutdown")
	os.Exit(0)
}
