// internal/config/config.go
package config

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	Serial     SerialConfig     `yaml:"serial"`
	NetScanner NetScannerConfig `yaml:"netscanner"`
	GPIO       GPIOConfig       `yaml:"gpio"`
	Notify     NotifyConfig     `yaml:"notify"`
	Ops        OpsConfig        `yaml:"ops"`
}

// ---- SERVER ----

type ServerConfig struct {
	Listen            string `yaml:"listen"`
	DownloadBlockSize int    `yaml:"download_block_size"`
}

// ---- LOG ----

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ---- STORAGE ----

type StorageConfig struct {
	// Disabled storage makes START answer ERROR 3.
	Disabled     bool   `yaml:"disabled"`
	SnapshotPath string `yaml:"snapshot_path"`
	CacheSize    int    `yaml:"cache_size"`
}

// ---- SERIAL BOARDS ----

type SerialConfig struct {
	Enabled bool `yaml:"enabled"`

	// Ports to probe. Empty means every port the OS reports.
	Ports []string `yaml:"ports"`

	BaudRate       int `yaml:"baud_rate"`
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	MaxRetries     int `yaml:"max_retries"`
}

// ---- NETWORK PRESSURE SCANNER ----

type NetScannerConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Address    string  `yaml:"address"`
	BoardID    uint8   `yaml:"board_id"`
	SampleHz   float64 `yaml:"sample_hz"`
	TimeoutMs  int     `yaml:"timeout_ms"`
	MaxRetries int     `yaml:"max_retries"`
}

// ---- GPIO (Modbus TCP digital inputs) ----

type GPIOConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Endpoint  string  `yaml:"endpoint"`
	UnitID    uint8   `yaml:"unit_id"`
	Address   uint16  `yaml:"address"`
	BoardID   uint8   `yaml:"board_id"`
	SampleHz  float64 `yaml:"sample_hz"`
	TimeoutMs int     `yaml:"timeout_ms"`
}

// ---- NOTIFICATIONS ----

type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ---- OPS HTTP ----

type OpsConfig struct {
	Listen string `yaml:"listen"`
}
