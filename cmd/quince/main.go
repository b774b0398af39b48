// Command quince is a minimal QUIC client and server for manual testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/m-lab/go/flagx"
)

func main() {
	flagx.ArgsFromEnv(flag.CommandLine)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "client":
		err = clientCommand(os.Args[2:])
	case "server":
		err = serverCommand(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: quince <client|server> [options]")
}
