package wlan

import (
	"errors"
	"math"
	"time"
)

const (
	DefaultStations     = 10
	DefaultDataRateMbps = 110
	DefaultPacketSize   = 1500
	DefaultMaxQueueSize = 100
	DefaultPhyRateMbps  = 150
	DefaultOverhead     = 100 * time.Microsecond
	DefaultStepInterval = time.Millisecond
	DefaultRetryLimit   = 7
	DefaultCwMin        = 15
	DefaultCwMax        = 1023
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid wlan config")

// Config describes the cell. Zero values are replaced by ApplyDefaults.
type Config struct {
	Stations int
	// DataRateMbps is the offered load of every station.
	DataRateMbps float64
	PacketSize   int
	MaxQueueSize int

	// PhyRateMbps and Overhead determine the airtime of one opportunity.
	PhyRateMbps float64
	Overhead    time.Duration
	// StepInterval is how often the model advances.
	StepInterval time.Duration

	RetryLimit int
	CwMin      uint32
	CwMax      uint32

	// FuzzTime bounds the random start offset of each source.
	FuzzTime time.Duration
	Seed     uint64
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Stations == 0 {
		c.Stations = DefaultStations
	}
	if c.DataRateMbps == 0 {
		c.DataRateMbps = DefaultDataRateMbps
	}
	if c.PacketSize == 0 {
		c.PacketSize = DefaultPacketSize
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.PhyRateMbps == 0 {
		c.PhyRateMbps = DefaultPhyRateMbps
	}
	if c.Overhead == 0 {
		c.Overhead = DefaultOverhead
	}
	if c.StepInterval == 0 {
		c.StepInterval = DefaultStepInterval
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.CwMin == 0 {
		c.CwMin = DefaultCwMin
	}
	if c.CwMax == 0 {
		c.CwMax = DefaultCwMax
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Stations < 1:
		return errors.Join(ErrInvalidConfig, errors.New("stations must be positive"))
	case c.DataRateMbps < 0:
		return errors.Join(ErrInvalidConfig, errors.New("data rate must not be negative"))
	case c.PacketSize < 1:
		return errors.Join(ErrInvalidConfig, errors.New("packet size must be positive"))
	case c.MaxQueueSize < 1:
		return errors.Join(ErrInvalidConfig, errors.New("queue size must be positive"))
	case c.PhyRateMbps <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("phy rate must be positive"))
	case c.StepInterval <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("step interval must be positive"))
	case c.FuzzTime < 0:
		return errors.Join(ErrInvalidConfig, errors.New("fuzz time must not be negative"))
	}
	return nil
}

// Airtime is the duration of one transmission opportunity.
func (c Config) Airtime() time.Duration {
	// bits / (Mbit/s) is microseconds; scale to nanoseconds.
	payload := time.Duration(math.Round(float64(8*c.PacketSize) * 1e3 / c.PhyRateMbps))
	return payload + c.Overhead
}
