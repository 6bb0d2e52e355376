// Package logging configures the gateway's structured log.
//
// blinkyd logs with log/slog. One logger is built at startup from the
// logging section of config.yaml and handed down; packages that want a
// component tag derive a child with With:
//
//	log := logging.New(cfg.Logging, version)
//	bridgeLog := log.With("component", "bridge")
//	bridgeLog.Info("scan ingested", "address", addr, "rssi", rssi)
//
// Every entry carries service=blinkyd and the build version. Format is
// JSON by default (the gateway usually runs under a supervisor that
// ships logs) with a text mode for watching a terminal during
// development.
//
// Peripheral addresses and scanner IDs are fine to log; operator
// credentials, JWT secrets, and broker passwords are not.
package logging
