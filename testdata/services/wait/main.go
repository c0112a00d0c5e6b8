// wait runs until it receives SIGINT or SIGTERM, then exits 0. Used to
// exercise shutdown paths.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Println("wait: running")
	<-ctx.Done()
	fmt.Println("wait: shutting down")
}
