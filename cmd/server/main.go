package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/server"
)

func main() {
	log.Println("Starting chat relay...")

	config := server.NewConfigFromEnv()

	hub := relay.NewHub(relay.NewRegistry(), relay.NewEnricher())
	go hub.Run(context.Background())

	gateway := server.NewGateway(hub, *config)
	httpServer := server.CreateServer(config.Port, server.SetupRoutes(gateway))

	go func() {
		if err := server.StartServer(httpServer); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		config.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer)
			},
			"relay-hub": func(_ context.Context) error {
				return gateway.Shutdown(config.ShutdownTimeout)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Chat relay exited with code: %d", exitCode)
	os.Exit(exitCode)
}
