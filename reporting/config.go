package reporting

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/Zereker/testwire"
)

// Config describes a master and the slaves reporting to it.
//
//	[master]
//	host = "0.0.0.0"
//	port = 9000
//	buffer_size = 4096
//	max_record_size = 1048576
//
//	[slave]
//	host = "10.0.0.1"
//	port = 9000
//	retries = 5          # -1 or absent: unlimited
//	retry_delay = "500ms"
type Config struct {
	Master MasterConfig `toml:"master"`
	Slave  SlaveConfig  `toml:"slave"`
}

// MasterConfig configures a MasterReporter.
type MasterConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	BufferSize    int    `toml:"buffer_size"`
	MaxRecordSize int    `toml:"max_record_size"`
}

// SlaveConfig configures a SlaveReporter.
type SlaveConfig struct {
	Host              string        `toml:"host"`
	Port              int           `toml:"port"`
	Retries           *int          `toml:"retries"`
	RetryDelay        time.Duration `toml:"retry_delay"`
	BackoffMultiplier float64       `toml:"backoff_multiplier"`
	MaxRetryDelay     time.Duration `toml:"max_retry_delay"`
	QueueSize         int           `toml:"queue_size"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
}

// DefaultConfig returns a loopback master on an OS-assigned port and a
// slave retrying every second without limit.
func DefaultConfig() Config {
	return Config{
		Master: MasterConfig{
			Host:          "127.0.0.1",
			BufferSize:    defaultBufferSize,
			MaxRecordSize: defaultMaxRecordSize,
		},
		Slave: SlaveConfig{
			Host:              "127.0.0.1",
			RetryDelay:        defaultRetryDelay,
			BackoffMultiplier: 1.0,
			QueueSize:         defaultQueueSize,
		},
	}
}

// ParseConfig decodes TOML data over DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse reporting config")
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads and decodes the TOML file at path over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "load reporting config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Master.Port < 0 || c.Master.Port > 65535 {
		return errors.Errorf("master.port %d out of range", c.Master.Port)
	}
	if c.Slave.Port < 0 || c.Slave.Port > 65535 {
		return errors.Errorf("slave.port %d out of range", c.Slave.Port)
	}
	if c.Master.BufferSize < 0 {
		return errors.Errorf("master.buffer_size %d is negative", c.Master.BufferSize)
	}
	if c.Master.MaxRecordSize < 0 {
		return errors.Errorf("master.max_record_size %d is negative", c.Master.MaxRecordSize)
	}
	if c.Slave.RetryDelay < 0 {
		return errors.Errorf("slave.retry_delay %s is negative", c.Slave.RetryDelay)
	}
	if c.Slave.Retries != nil && *c.Slave.Retries < UnlimitedRetries {
		return errors.Errorf("slave.retries %d is invalid", *c.Slave.Retries)
	}
	return nil
}

// NewMaster builds the configured MasterReporter; extra options are applied last.
func (c MasterConfig) NewMaster(logger testwire.Logger, opt ...MasterOption) *MasterReporter {
	opts := []MasterOption{
		MasterLoggerOption(logger),
		MasterBufferSizeOption(c.BufferSize),
		MasterMaxRecordSizeOption(c.MaxRecordSize),
	}
	return NewMasterReporter(c.Host, c.Port, append(opts, opt...)...)
}

// NewSlave builds the configured SlaveReporter; extra options are applied last.
func (c SlaveConfig) NewSlave(logger testwire.Logger, opt ...SlaveOption) *SlaveReporter {
	retries := UnlimitedRetries
	if c.Retries != nil {
		retries = *c.Retries
	}
	opts := []SlaveOption{
		SlaveLoggerOption(logger),
		SlaveRetriesOption(retries),
		SlaveRetryDelayOption(c.RetryDelay),
		SlaveBackoffOption(c.BackoffMultiplier, c.MaxRetryDelay),
		SlaveQueueSizeOption(c.QueueSize),
		SlaveWriteTimeoutOption(c.WriteTimeout),
	}
	return NewSlaveReporter(c.Host, c.Port, append(opts, opt...)...)
}
