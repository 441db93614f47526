package health

import (
	"time"

	"github.com/solforge/netmon/internal/global"
	"github.com/solforge/netmon/internal/monitor"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func New(gctx global.Context, mon *monitor.Monitor) <-chan struct{} {
	server := fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			defer func() {
				l := zap.S().With(
					"status", ctx.Response.StatusCode(),
					"duration", time.Since(start)/time.Millisecond,
					"entrypoint", "health",
				)
				if err := recover(); err != nil {
					l.Error("panic in handler: ", err)
				} else {
					l.Debug("")
				}
			}()

			ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
			ctx.SetStatusCode(200)

			if !mon.Running() {
				ctx.SetBodyString("Monitor Stopped")
				ctx.SetStatusCode(503)
			} else if mon.ConnectedProviders() == 0 {
				ctx.SetBodyString("No Providers Connected")
				ctx.SetStatusCode(503)
			}
		},
		GetOnly:          true,
		DisableKeepalive: true,
	}

	go func() {
		if err := server.ListenAndServe(gctx.Config().Health.Bind); err != nil {
			zap.S().Fatal("failed to start health bind: ", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		<-gctx.Done()
		_ = server.Shutdown()
		close(done)
	}()
	return done
}
