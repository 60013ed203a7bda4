// Command echoserver is a trivial TCP echo server built on greenrt: one
// listener fiber accepts connections, and one fiber per connection echoes
// back whatever it reads until the peer disconnects.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/greenrt/greenrt"
)

func main() {
	host := flag.String("host", "127.0.0.1", "address to listen on")
	port := flag.Int("port", 9000, "port to listen on")
	flag.Parse()

	if err := greenrt.Init(); err != nil {
		greenrt.Logger.Fatal().Err(err).Msg("init failed")
	}
	defer greenrt.Shutdown()

	done := make(chan error, 1)
	err := greenrt.SpawnGreenFn(func(ctx context.Context, arg any) {
		done <- greenrt.ListenTCP(ctx, *host, *port, handleConn, nil)
	}, nil, false)
	if err != nil {
		greenrt.Logger.Fatal().Err(err).Msg("spawn failed")
	}

	if err := <-done; err != nil {
		greenrt.Logger.Fatal().Err(err).Msg("listen failed")
		os.Exit(1)
	}

	greenrt.Logger.Info().Str("host", *host).Int("port", *port).Msg("echoserver listening")
	select {}
}

func handleConn(ctx context.Context, h *greenrt.TCPHandle, arg any) {
	buf := make([]byte, 4096)
	for {
		n, err := greenrt.ReadTCP(ctx, h, buf)
		if err != nil {
			greenrt.CloseTCP(ctx, h)
			return
		}
		if _, err := greenrt.WriteTCP(ctx, h, buf[:n]); err != nil {
			greenrt.CloseTCP(ctx, h)
			return
		}
	}
}
