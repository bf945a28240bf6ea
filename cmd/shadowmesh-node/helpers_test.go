package main

import (
	"testing"

	"go.uber.org/zap"

	"github.com/shadowmesh/core/internal/config"
)

func testConfig(t *testing.T) config.Settings {
	t.Helper()
	return config.Default(t.TempDir())
}

func newTestLogger() (*zap.Logger, error) {
	return zap.NewDevelopment()
}
