package main

import (
	"os"

	"github.com/bitrise-io/go-utils/v2/log"
)

func main() {
	logger := log.NewLogger()
	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}
