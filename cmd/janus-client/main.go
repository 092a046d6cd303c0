// Command janus-client is a thin example binary exercising the
// janusbroker client facade against a running janus-server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/corvidlabs/janusbroker/pkg/client"
)

func main() {
	socketPath := flag.String("socket-path", "/tmp/janus_example_server.sock", "Unix datagram socket path")
	flag.Parse()

	c, err := client.New(client.Config{
		ServerPath:     *socketPath,
		DefaultTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to build client: %v", err)
	}
	defer c.Close()

	resp, err := c.Send(context.Background(), "ping", nil, 0)
	if err != nil {
		log.Fatalf("ping failed: %v", err)
	}
	fmt.Printf("ping response: %+v\n", resp.Result)

	resp, err = c.Send(context.Background(), "echo", map[string]any{"message": "hello from janus-client"}, 0)
	if err != nil {
		log.Fatalf("echo failed: %v", err)
	}
	fmt.Printf("echo response: %+v\n", resp.Result)

	resp, err = c.Send(context.Background(), "time", nil, 0)
	if err != nil {
		log.Fatalf("time failed: %v", err)
	}
	fmt.Printf("time response: %+v\n", resp.Result)
}
