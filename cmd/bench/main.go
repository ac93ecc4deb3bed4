package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ryandielhenn/subalive/pkg/transport"
)

func main() {
	addr := flag.String("addr", "localhost:8000", "receiver address")
	n := flag.Int("n", 5000, "alive calls")
	modulus := flag.Int("mod", 256, "counter modulus")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call timeout")
	flag.Parse()

	client := transport.NewClient(transport.ClientConfig{Addr: *addr, Timeout: *timeout})
	start := time.Now()
	for i := 0; i < *n; i++ {
		if _, err := client.Alive(context.Background(), i%*modulus); err != nil {
			fmt.Fprintf(os.Stderr, "call %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	dur := time.Since(start)
	fmt.Printf("Completed %d alive calls in %s (%.2f ops/s)\n", *n, dur, float64(*n)/dur.Seconds())
}
