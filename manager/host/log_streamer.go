package host

import (
	"bufio"
	"context"
	"log/slog"

	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

// StartLogStreamer forwards every line the host writes to stderr to the debug log. It returns when
// stderr is closed or ctx is done, in which case stderr is closed.
func StartLogStreamer(ctx context.Context, h *types.Host) {
	if h.Stderr == nil {
		return
	}

	ctx = slogcontext.With(ctx, "host", h.ID)
	stop := context.AfterFunc(ctx, func() {
		_ = h.Stderr.Close()
	})
	defer stop()

	scanner := bufio.NewScanner(h.Stderr)
	for scanner.Scan() {
		slogcontext.Log(ctx, slog.LevelDebug, scanner.Text())
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		slogcontext.Log(ctx, slog.LevelDebug, "streaming logs from host failed", "error", err.Error())
	}
}
