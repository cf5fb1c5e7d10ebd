package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nousim/internal/infra/config"
	"nousim/internal/usecase/eventbus"
)

func TestInitJournal(t *testing.T) {
	tests := []struct {
		name      string
		maxAge    time.Duration
		retention string
	}{
		{"scheduled", time.Hour, "@hourly"},
		{"keep forever", 0, "@hourly"},
		{"no schedule", time.Hour, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Journal.Enabled = true
			cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
			cfg.Journal.MaxAge = tt.maxAge
			cfg.Journal.Retention = tt.retention
			require.NoError(t, config.Validate(cfg))

			bus := eventbus.New(discard)
			defer bus.Close()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			jr, err := initJournal(ctx, cfg.Journal, bus, discard)
			require.NoError(t, err)
			require.NotNil(t, jr)
			assert.NoError(t, jr.Close())
		})
	}
}

func TestInitJournal_Disabled(t *testing.T) {
	bus := eventbus.New(discard)
	defer bus.Close()

	jr, err := initJournal(context.Background(), config.JournalConfig{}, bus, discard)
	require.NoError(t, err)
	assert.Nil(t, jr)
}
