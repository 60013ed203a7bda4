// Command catfile reads a file through greenrt's fiber-blocking file API
// and writes its contents to stdout, a minimal exercise of OpenFile/
// ReadFile/CloseFile end to end.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/greenrt/greenrt"
)

func main() {
	flag.Parse()
	path := flag.Arg(0)
	if path == "" {
		greenrt.Logger.Fatal().Msg("usage: catfile <path>")
	}

	if err := greenrt.Init(); err != nil {
		greenrt.Logger.Fatal().Err(err).Msg("init failed")
	}
	defer greenrt.Shutdown()

	done := make(chan error, 1)
	err := greenrt.SpawnGreenFn(func(ctx context.Context, arg any) {
		done <- catFile(ctx, path)
	}, nil, false)
	if err != nil {
		greenrt.Logger.Fatal().Err(err).Msg("spawn failed")
	}

	if err := <-done; err != nil {
		greenrt.Logger.Fatal().Err(err).Msg("read failed")
		os.Exit(1)
	}
}

func catFile(ctx context.Context, path string) error {
	handle, err := greenrt.OpenFile(ctx, path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer greenrt.CloseFile(ctx, handle)

	buf := make([]byte, 32*1024)
	var offset int64
	for {
		n, err := greenrt.ReadFile(ctx, handle, buf, offset)
		if n > 0 {
			if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
				return werr
			}
			offset += int64(n)
		}
		if err == greenrt.ErrEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
