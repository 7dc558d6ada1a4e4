// Package main is the entry point for the changeguard binary.
package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"

	"changeguard/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
