// Command janus-server is a thin example binary demonstrating the
// janusbroker server dispatcher: it registers one custom handler and
// serves the six built-in requests until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corvidlabs/janusbroker/internal/logging"
	"github.com/corvidlabs/janusbroker/pkg/manifest"
	"github.com/corvidlabs/janusbroker/pkg/server"
	"github.com/corvidlabs/janusbroker/pkg/wire"
)

func main() {
	socketPath := flag.String("socket-path", "/tmp/janus_example_server.sock", "Unix datagram socket path")
	flag.Parse()

	logger := logging.New(nil)

	m := &manifest.Manifest{
		Version:     "1.0.0",
		Name:        "janusbroker example API",
		Description: "example server for the janusbroker CLI demos",
		Models: map[string]*manifest.Model{
			"time": {
				Type: "object",
				Properties: map[string]*manifest.ArgumentSpec{
					"unix": {Type: "integer"},
				},
			},
		},
	}

	d := server.New(server.Config{
		SocketPath:        *socketPath,
		CleanupOnStart:    true,
		CleanupOnShutdown: true,
		Implementation:    "janusbroker-go",
		Version:           "1.0.0",
		Manifest:          m,
		Logger:            logger,
	})

	if err := d.RegisterHandler("time", server.NewObjectHandler(func(*wire.Request) (map[string]any, error) {
		return map[string]any{"unix": time.Now().Unix()}, nil
	})); err != nil {
		log.Fatalf("failed to register time handler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("shutting down janus-server")
		d.Stop(context.Background())
		cancel()
	}()

	fmt.Printf("janus-server listening on %s\n", *socketPath)
	if err := d.Start(ctx); err != nil {
		log.Fatalf("dispatcher exited with error: %v", err)
	}
}
