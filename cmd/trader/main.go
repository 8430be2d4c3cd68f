package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ensemble-trader/internal/cli"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/security"
)

func main() {
	// A missing .env is fine; the environment and config files still apply.
	_ = godotenv.Load()

	logger := logging.NewLogger()
	if err := cli.NewRootCmd(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", security.MaskSecrets(err.Error()))
		os.Exit(1)
	}
}
