package main

import (
	"os"

	"df2redis/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
