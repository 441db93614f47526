package app

import (
	"os"
	"time"

	"github.com/fasthttp/router"
	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
	"github.com/solforge/netmon/internal/global"
	"github.com/solforge/netmon/internal/monitor"
	"github.com/solforge/netmon/internal/util"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Server struct {
	gctx   global.Context
	mon    *monitor.Monitor
	router *router.Router
}

func New(gctx global.Context, mon *monitor.Monitor) (*Server, <-chan struct{}) {
	srv := &Server{
		gctx:   gctx,
		mon:    mon,
		router: router.New(),
	}

	srv.routes()

	locked := false

	server := fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			defer func() {
				l := zap.S().With(
					"status", ctx.Response.StatusCode(),
					"path", util.B2S(ctx.Request.RequestURI()),
					"duration", time.Since(start)/time.Millisecond,
					"method", util.B2S(ctx.Method()),
					"entrypoint", "api",
				)
				if err := recover(); err != nil {
					l.Error("panic in handler: ", err)
				} else {
					l.Debug("")
				}
			}()
			ctx.Response.Header.Set("X-Pod-Name", gctx.Config().Pod.Name)

			if locked {
				ctx.SetStatusCode(fasthttp.StatusLocked)
				ctx.SetBodyString("This server is going down for restart!")
				return
			}

			srv.router.Handler(ctx)
		},
		ReadTimeout:     time.Second * 30,
		WriteTimeout:    time.Second * 30,
		IdleTimeout:     time.Second * 30,
		CloseOnShutdown: true,
	}

	go func() {
		if err := server.ListenAndServe(gctx.Config().API.Bind); err != nil {
			zap.S().Fatal("failed to start server: ", err)
		}
	}()

	// Watch for file-based shutdown signal
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.S().Fatal("failed to create file watcher: ", err)
	}

	if _, err := os.Create("shutdown"); err != nil {
		zap.S().Fatal("failed to create kill file: ", err)
	}

	if err = watcher.Add("shutdown"); err != nil {
		zap.S().Fatal("failed to add file to watcher: ", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
		case <-watcher.Events:
			zap.S().Infow("received api shutdown signal via file system, shuttering")
		}

		locked = true

		_ = server.Shutdown()

		watcher.Close()
		close(done)
	}()

	return srv, done
}

type ErrorResponse struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	b, err := json.Marshal(&ErrorResponse{
		Status:     fasthttp.StatusMessage(status),
		StatusCode: status,
		Error:      msg,
	})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(b)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(b)
}
