package acquisition

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

const (
	minCounterBits = 8
	maxCounterBits = 32

	// DefaultRingSize is the number of frame slots allocated when none is configured.
	DefaultRingSize = 8
	// DefaultCounterBits is the width of the hardware frame counter of uc480 class drivers.
	DefaultCounterBits = 32
	// DefaultPlausibleGapCeiling is the largest forward counter jump, exclusive, still treated as
	// frames silently lost in transit rather than a counter restart. A jump of 1024 frames is
	// roughly 30 seconds at the fastest frame rates these sensors reach in full frame mode.
	DefaultPlausibleGapCeiling = 1024
	// DefaultEventQueueSize bounds the queue between a callback driver and the reader.
	DefaultEventQueueSize = 64
	// DefaultPollInterval is how often a polling driver is asked for a finished buffer.
	DefaultPollInterval = time.Millisecond
	// DefaultReadTimeout is used by reads that pass a negative timeout.
	DefaultReadTimeout = 5 * time.Second
)

// Config is the native config of one acquisition camera.
type Config struct {
	Width               int               `json:"width_px"`
	Height              int               `json:"height_px"`
	BytesPerPixel       int               `json:"bytes_per_pixel,omitempty"`
	RingSize            int               `json:"ring_size,omitempty"`
	CounterBits         int               `json:"counter_bits,omitempty"`
	PlausibleGapCeiling uint32            `json:"plausible_gap_ceiling,omitempty"`
	FrameskipBehavior   FrameskipBehavior `json:"frameskip_behavior,omitempty"`
	EventQueueSize      int               `json:"event_queue_size,omitempty"`
	PollInterval        time.Duration     `json:"poll_interval,omitempty"`
	ReadTimeout         time.Duration     `json:"read_timeout,omitempty"`
}

// WithDefaults returns a copy of the config with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.BytesPerPixel == 0 {
		c.BytesPerPixel = 1
	}
	if c.RingSize == 0 {
		c.RingSize = DefaultRingSize
	}
	if c.CounterBits == 0 {
		c.CounterBits = DefaultCounterBits
	}
	if c.PlausibleGapCeiling == 0 {
		c.PlausibleGapCeiling = DefaultPlausibleGapCeiling
		// out of range widths are left for Validate to report
		if c.CounterBits >= minCounterBits && c.CounterBits <= maxCounterBits {
			if limit := uint64(1) << (c.CounterBits - 1); uint64(c.PlausibleGapCeiling) >= limit {
				c.PlausibleGapCeiling = uint32(limit - 1)
			}
		}
	}
	if c.FrameskipBehavior == "" {
		c.FrameskipBehavior = FrameskipSkip
	}
	if c.EventQueueSize == 0 {
		c.EventQueueSize = DefaultEventQueueSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Validate ensures all parts of the config are valid. Zero values are allowed wherever
// WithDefaults fills them in.
func (c *Config) Validate(path string) ([]string, error) {
	if c.Width <= 0 {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "width_px")
	}
	if c.Height <= 0 {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "height_px")
	}
	if c.BytesPerPixel < 0 || c.RingSize < 0 || c.EventQueueSize < 0 {
		return nil, goutils.NewConfigValidationError(path,
			errors.New("bytes_per_pixel, ring_size and event_queue_size cannot be negative"))
	}
	if c.PollInterval < 0 || c.ReadTimeout < 0 {
		return nil, goutils.NewConfigValidationError(path, errors.New("poll_interval and read_timeout cannot be negative"))
	}
	if c.CounterBits != 0 && (c.CounterBits < minCounterBits || c.CounterBits > maxCounterBits) {
		return nil, goutils.NewConfigValidationError(path,
			errors.Errorf("counter_bits must be in [%d, %d], got %d", minCounterBits, maxCounterBits, c.CounterBits))
	}
	withDefaults := c.WithDefaults()
	if limit := uint64(1) << (withDefaults.CounterBits - 1); uint64(withDefaults.PlausibleGapCeiling) >= limit {
		return nil, goutils.NewConfigValidationError(path,
			errors.Errorf("plausible_gap_ceiling must be below %d for a %d bit counter", limit, withDefaults.CounterBits))
	}
	if c.FrameskipBehavior != "" {
		if err := c.FrameskipBehavior.Validate(); err != nil {
			return nil, goutils.NewConfigValidationError(path, err)
		}
	}
	return nil, nil
}

// DecodeConfig converts a free-form attribute map, as found in YAML or JSON camera files, into
// a Config. Durations may be given as strings such as "250ms".
func DecodeConfig(attributes map[string]interface{}) (*Config, error) {
	conf := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           conf,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "decoding camera attributes")
	}
	return conf, nil
}
