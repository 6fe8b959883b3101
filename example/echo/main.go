// Command echo serves length-framed packets back to their sender.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/testwire"
)

func echo(ctx context.Context, t *testwire.Transport) {
	slog.Info("peer connected", "addr", t.RemoteAddr())
	for {
		packet, err := t.Read()
		if err != nil {
			if !errors.Is(err, testwire.ErrEndOfStream) && !errors.Is(err, testwire.ErrConnectionClosed) {
				slog.Error("read failed", "addr", t.RemoteAddr(), "error", err)
			}
			slog.Info("peer disconnected", "addr", t.RemoteAddr())
			return
		}
		if err := t.Write(packet); err != nil {
			slog.Error("write failed", "addr", t.RemoteAddr(), "error", err)
			return
		}
	}
}

func main() {
	server, err := testwire.Listen("127.0.0.1", 12345)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	codec, err := testwire.NewBinarySizeCodec(2, nil)
	if err != nil {
		slog.Error("invalid size codec", "error", err)
		os.Exit(1)
	}

	handler := testwire.TransportHandler(echo,
		testwire.SizeCodecOption(codec),
		testwire.MessageMaxSize(64*1024),
	)
	if err := server.Serve(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
	}
}
