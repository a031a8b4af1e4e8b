// Command loadtest drives load against the DM gateway:
//
//   - saturate: open N idle sessions and hold them
//   - dm:       pairs of users exchanging messages and read receipts
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/whisper/dm-gateway/loadtest/client"
	"github.com/whisper/dm-gateway/loadtest/stats"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "dm":
		runDM(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    open N idle sessions and hold them")
	fmt.Println("  dm          pairs of users exchange messages and read receipts")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// target holds the flags every scenario shares.
type target struct {
	url    *string
	secret *string
	issuer *string
}

func targetFlags(fs *pflag.FlagSet) target {
	return target{
		url:    fs.String("url", "ws://localhost:8080/ws", "WebSocket endpoint"),
		secret: fs.String("jwt-secret", os.Getenv("JWT_SECRET"), "secret used to sign session tokens"),
		issuer: fs.String("jwt-issuer", "whisper", "token issuer"),
	}
}

// connect signs a token for a fresh user, dials and waits for admission.
func (t target) connect(ctx context.Context, collector *stats.Collector) (*client.Client, error) {
	token, err := client.Token([]byte(*t.secret), *t.issuer, uuid.NewString(), time.Hour)
	if err != nil {
		return nil, err
	}
	c, err := client.New(ctx, *t.url, token)
	if err != nil {
		collector.AddError()
		return nil, err
	}
	if err := c.WaitConnected(ctx); err != nil {
		collector.AddError()
		_ = c.Close()
		return nil, err
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)
	return c, nil
}
