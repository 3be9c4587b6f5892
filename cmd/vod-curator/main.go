package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"vod-curator/internal/cli"
)

func main() {
	_ = godotenv.Load()
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
