package main

import (
	"os"

	"github.com/ismaiel54/alert-trade-router/cmd/alertctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
