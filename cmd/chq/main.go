// Package main provides the chq command.
package main

import (
	"os"

	"github.com/ethanyzhang/clickhouse-http-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
