package main

import (
	"os"

	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if err := newTool(logger).Root.Execute(); err != nil {
		logger.Error().Err(err).Msg("ashevict")
		os.Exit(1)
	}
}
