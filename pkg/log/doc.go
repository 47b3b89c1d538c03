/*
Package log provides structured logging for vaultfs using zerolog.

The package wraps zerolog behind a small surface: a global Logger
initialized via Init, child-logger helpers that attach common fields, and
level helpers for one-off messages. Storage components log through
WithComponent so every line carries its origin; block-level paths add the
block id as a block_id field.

# Usage

	log.Init(log.Config{Level: log.InfoLevel})

	logger := log.WithComponent("blockcache")
	logger.Warn().Str("block_id", id.String()).Msg("flush failed, latched")
*/
package log
