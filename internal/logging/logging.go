// Package logging constructs the process-wide zap logger used by every
// handler. Log lines for per-packet failures carry packet_type and
// origin_endpoint fields per spec §7, so a misbehaving peer can be traced
// without exposing a stack trace to the network.
package logging

import "go.uber.org/zap"

// New builds a production zap logger. debug selects a more verbose,
// console-friendly development configuration.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// PacketFields returns the standard structured fields attached to every
// per-packet log line.
func PacketFields(packetType byte, origin string) []zap.Field {
	return []zap.Field{
		zap.Uint8("packet_type", packetType),
		zap.String("origin_endpoint", origin),
	}
}
