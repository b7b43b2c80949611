package config

import "time"

// Central place for defaults and timing constants shared by the loader, the
// watcher and the CLI.

const (
	// EnvPrefix is prepended to a macro name to form its environment
	// variable, e.g. NODECFG_INFLUXDB_URL.
	EnvPrefix = "NODECFG_"

	DefaultInfluxURL   = "http://localhost:8086"
	DefaultSensorList  = "aht20,bmp280"
	DefaultDelayBefore = 1000 // ms

	// Below this the node spends most of its time on the radio.
	MinRecommendedDelay = 100 // ms

	// Operation time-outs
	ProbeTimeout = 5 * time.Second // InfluxDB ping + query
	MQTTTimeout  = 5 * time.Second // MQTT publish

	// Watch mode
	WatchDebounce        = 250 * time.Millisecond
	PublishRetryInterval = 10 * time.Second // after a failed MQTT publish
)
