package app

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/util"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const eventStreamHeartbeat = 15 * time.Second

// handleEvents streams live monitor events over SSE. An optional comma
// separated "types" query narrows the subscription.
func (s *Server) handleEvents(ctx *fasthttp.RequestCtx) {
	var types []bus.EventType
	if raw := util.B2S(ctx.QueryArgs().Peek("types")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, bus.EventType(t))
			}
		}
	}

	sub := s.gctx.Inst().Events.Subscribe(64, types...)

	setupEventStream(ctx, func(w *bufio.Writer) {
		defer sub.Close()

		heartbeat := time.NewTicker(eventStreamHeartbeat)
		defer heartbeat.Stop()

		seq := 0
		for {
			select {
			case <-s.gctx.Done():
				return
			case <-heartbeat.C:
				if _, err := w.WriteString(":heartbeat\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case ev, ok := <-sub.Ch:
				if !ok {
					return
				}

				b, err := json.Marshal(ev)
				if err != nil {
					zap.S().Errorw("failed to encode event for stream", "error", err)
					continue
				}

				sb := strings.Builder{}
				sb.WriteString(fmt.Sprintf("event: %s\ndata: ", ev.Type))
				sb.Write(b)
				sb.WriteString(fmt.Sprintf("\nid: %d\n\n", seq))

				if _, err = w.WriteString(sb.String()); err != nil {
					return
				}
				if err = w.Flush(); err != nil {
					return
				}

				seq++
			}
		}
	})
}

func setupEventStream(ctx *fasthttp.RequestCtx, writer fasthttp.StreamWriter) {
	ctx.SetStatusCode(200)

	ctx.Response.ImmediateHeaderFlush = true
	ctx.Response.SetConnectionClose()

	ctx.Response.Header.Set("Content-Type", "text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Transfer-Encoding", "chunked")
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Cache-Control")
	ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	ctx.SetBodyStreamWriter(writer)
}
