// Package config holds the recognized node settings from spec §6. A
// Settings value is populated by the process bootstrap (out of scope) and
// passed by value into constructors, mirroring the teacher's Options-struct
// pattern (node.Options, peer.Options) of defaulting inside the
// constructor rather than at the call site.
package config

import "time"

// Settings collects every recognized configuration option.
type Settings struct {
	Port     uint16
	SeedPort uint16 // 0 means unset
	Debug    bool
	DataDir  string

	AEADNonceLength         int
	AEADTagLength           int
	ChunkSize               int
	K                       int
	Alpha                   int
	Replication             int
	DHTReplicationForRecords int
	HandshakeClockSkew      time.Duration
	MaxPayloadBytes         int
	FetchMaxPayloadBytes    int

	FindNodeTimeout time.Duration
	FetchTimeout    time.Duration
	GetValueTimeout time.Duration
}

// Default returns the settings described in spec §6 with data_dir set to
// the given base directory.
func Default(dataDir string) Settings {
	return Settings{
		Port:                     0,
		SeedPort:                 0,
		Debug:                    false,
		DataDir:                  dataDir,
		AEADNonceLength:          12,
		AEADTagLength:            16,
		ChunkSize:                262144,
		K:                        20,
		Alpha:                    3,
		Replication:              3,
		DHTReplicationForRecords: 5,
		HandshakeClockSkew:       60 * time.Second,
		MaxPayloadBytes:          5 * 1024 * 1024,
		FetchMaxPayloadBytes:     10 * 1024 * 1024,
		FindNodeTimeout:          5 * time.Second,
		FetchTimeout:             5 * time.Second,
		GetValueTimeout:          3 * time.Second,
	}
}
