package main

import (
	"fmt"
	"os"

	"github.com/c4m-data/actionhub/cmd/actionhub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
