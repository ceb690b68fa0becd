package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/inklet/inklet/internal/cli"
)

func main() {
	// Missing .env is fine; it only supplies ambient defaults.
	_ = godotenv.Load()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
