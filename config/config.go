package config

// injected configurations
var (
	APP_NAME    string = "brewery-kmc"
	APP_VERSION string = "0.0.1"
)

// value changed by paramaters from config
var (
	KMC_LOG_LEVEL  string = "info"
	KMC_LOG_FORMAT string = "json"

	KMC_WORKERS     int    = 0 // 0 = one per CPU
	KMC_BINS        int    = 64
	KMC_READ_BUFFER int    = 1 << 20
	KMC_CACHE_SIZE  int64  = 64 << 20
	KMC_BATCH_SIZE  int    = 10_000
	KMC_PROGRESS    bool   = false
	KMC_OUTPUT_FMT  string = "kmc2"
)
