package utils

import (
	"fmt"
	"log"

	"github.com/beyondbrewing/brewery-kmc/config"
	"github.com/spf13/viper"
)

func ImportEnv() {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Panicln(fmt.Errorf("fatal error config file: %s", err))
		}
	}

	LoadConfig(viper.GetViper())
}

// LoadConfig copies every KMC_* key set in v into the config package.
func LoadConfig(v *viper.Viper) {
	if v.IsSet("KMC_LOG_LEVEL") {
		config.KMC_LOG_LEVEL = v.GetString("KMC_LOG_LEVEL")
	}
	if v.IsSet("KMC_LOG_FORMAT") {
		config.KMC_LOG_FORMAT = v.GetString("KMC_LOG_FORMAT")
	}
	if v.IsSet("KMC_WORKERS") {
		config.KMC_WORKERS = v.GetInt("KMC_WORKERS")
	}
	if v.IsSet("KMC_BINS") {
		config.KMC_BINS = v.GetInt("KMC_BINS")
	}
	if v.IsSet("KMC_READ_BUFFER") {
		config.KMC_READ_BUFFER = v.GetInt("KMC_READ_BUFFER")
	}
	if v.IsSet("KMC_CACHE_SIZE") {
		config.KMC_CACHE_SIZE = v.GetInt64("KMC_CACHE_SIZE")
	}
	if v.IsSet("KMC_BATCH_SIZE") {
		config.KMC_BATCH_SIZE = v.GetInt("KMC_BATCH_SIZE")
	}
	if v.IsSet("KMC_PROGRESS") {
		config.KMC_PROGRESS = v.GetBool("KMC_PROGRESS")
	}
	if v.IsSet("KMC_OUTPUT_FMT") {
		config.KMC_OUTPUT_FMT = v.GetString("KMC_OUTPUT_FMT")
	}
}
