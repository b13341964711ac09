// Command querydeck is the CLI and HTTP front end of the querydeck
// database access layer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/koustreak/querydeck/internal/cli"

	_ "github.com/koustreak/querydeck/internal/database/clickhouse"
	_ "github.com/koustreak/querydeck/internal/database/mysql"
	_ "github.com/koustreak/querydeck/internal/database/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
