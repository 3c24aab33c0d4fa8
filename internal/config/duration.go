package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseDuration parses a Go duration string that may start with a whole
// number of days, such as "30d" or "1d12h".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	i := strings.IndexByte(s, 'd')
	if i < 0 {
		return time.ParseDuration(s)
	}

	days, err := strconv.Atoi(s[:i])
	if err != nil || days < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	d := time.Duration(days) * day

	if rest := s[i+1:]; rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}

		d += extra
	}

	return d, nil
}

// mustDuration parses a value that Validate has already accepted.
func mustDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// RenewalInterval returns the scheduler check interval.
func (c *Config) RenewalInterval() time.Duration { return mustDuration(c.Renewal.Interval) }

// RenewalThreshold returns the credential age past which the scheduler
// renews.
func (c *Config) RenewalThreshold() time.Duration { return mustDuration(c.Renewal.Threshold) }

// NetworkTimeout returns the per-request HTTP timeout.
func (c *Config) NetworkTimeout() time.Duration { return mustDuration(c.Network.Timeout) }

// PurgeAfter returns how long a bookmark stays archived before purge
// deletes it.
func (c *Config) PurgeAfter() time.Duration { return mustDuration(c.Maintenance.PurgeAfter) }
