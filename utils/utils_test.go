package utils

import (
	"testing"

	"github.com/beyondbrewing/brewery-kmc/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	saved := struct {
		level   string
		bins    int
		cache   int64
		prog    bool
		workers int
	}{config.KMC_LOG_LEVEL, config.KMC_BINS, config.KMC_CACHE_SIZE, config.KMC_PROGRESS, config.KMC_WORKERS}
	t.Cleanup(func() {
		config.KMC_LOG_LEVEL = saved.level
		config.KMC_BINS = saved.bins
		config.KMC_CACHE_SIZE = saved.cache
		config.KMC_PROGRESS = saved.prog
		config.KMC_WORKERS = saved.workers
	})

	v := viper.New()
	v.Set("KMC_LOG_LEVEL", "debug")
	v.Set("KMC_BINS", "16")
	v.Set("KMC_CACHE_SIZE", 1<<30)
	v.Set("KMC_PROGRESS", "true")
	LoadConfig(v)

	assert.Equal(t, "debug", config.KMC_LOG_LEVEL)
	assert.Equal(t, 16, config.KMC_BINS)
	assert.Equal(t, int64(1<<30), config.KMC_CACHE_SIZE)
	assert.True(t, config.KMC_PROGRESS)
	assert.Equal(t, saved.workers, config.KMC_WORKERS, "unset keys keep their defaults")
}
