package main

import (
	"os"

	"github.com/ferdinandre/tradingdemo/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
