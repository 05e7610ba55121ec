// Command presence-cli is a small example client: it registers a
// session, heartbeats, and prints broadcasts as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parokia/presence/clients/go/presence"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "server base URL")
		address  = flag.String("address", "", "client address to register (required)")
		hostname = flag.String("hostname", "", "hostname label (defaults to machine hostname)")
		interval = flag.Duration("interval", 30*time.Second, "heartbeat interval")
		send     = flag.String("send", "", "send one broadcast and exit")
	)
	flag.Parse()

	if *address == "" {
		fmt.Fprintln(os.Stderr, "-address is required")
		os.Exit(1)
	}

	client := presence.NewClient(*server, *address, *hostname)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *send != "" {
		id, err := client.Send(ctx, "user", *address, *send)
		if err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
			os.Exit(1)
		}
		fmt.Println("sent", id)
		return
	}

	err := client.Run(ctx, *interval, func(msg presence.Message) {
		fmt.Printf("[%s] %s: %s\n",
			time.UnixMilli(msg.SentAt).Format(time.RFC3339),
			msg.Sender.Kind, msg.Body)
	})
	if err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "client stopped:", err)
		os.Exit(1)
	}
}
