// fail exits with the code given as its first argument (default 1),
// optionally after sleeping for EXIT_AFTER. Used to exercise failure
// propagation.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func main() {
	code := 1
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "fail: bad exit code %q\n", os.Args[1])
			os.Exit(2)
		}
		code = n
	}

	if d := os.Getenv("EXIT_AFTER"); d != "" {
		dur, err := time.ParseDuration(d)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fail: EXIT_AFTER: %v\n", err)
			os.Exit(2)
		}
		time.Sleep(dur)
	}

	fmt.Printf("fail: exiting with code %d\n", code)
	os.Exit(code)
}
