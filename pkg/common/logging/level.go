// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LevelEndpoint is the HTTP path serving the log level override.
const LevelEndpoint = "/logging-level"

const (
	_levelParam    = "level"
	_durationParam = "duration"
	_usage         = "usage: GET `/logging-level?level=<level>[&duration=<duration>]`"

	_defaultOverrideDuration = 5 * time.Minute
)

// Config controls the daemon log output.
type Config struct {
	// Level is the baseline level, one of logrus' level names.
	// Empty means info.
	Level string `yaml:"level"`
	// OverrideDuration bounds how long an override from the level
	// endpoint stays active before the baseline is restored. Used when
	// the request does not carry an explicit duration.
	OverrideDuration time.Duration `yaml:"override_duration"`
}

// BaseLevel parses the configured baseline level.
func (c Config) BaseLevel() (log.Level, error) {
	if c.Level == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", c.Level)
	}
	return level, nil
}

// LevelOverride temporarily changes the process log level through an HTTP
// endpoint and restores the configured baseline once the override expires.
// A new override replaces any pending one, so the last request decides both
// the level and the expiry.
type LevelOverride struct {
	mu       sync.Mutex
	base     log.Level
	duration time.Duration
	clk      clock.Clock
	revert   *clock.Timer
}

// NewLevelOverride applies the configured baseline level and returns the
// override endpoint for it.
func NewLevelOverride(cfg Config, clk clock.Clock) (*LevelOverride, error) {
	base, err := cfg.BaseLevel()
	if err != nil {
		return nil, err
	}
	duration := cfg.OverrideDuration
	if duration == 0 {
		duration = _defaultOverrideDuration
	}
	log.SetLevel(base)
	return &LevelOverride{
		base:     base,
		duration: duration,
		clk:      clk,
	}, nil
}

// ServeHTTP reports the current level on a bare GET and installs an
// override when the level param is present.
func (o *LevelOverride) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	levels, ok := values[_levelParam]
	if !ok || len(levels) == 0 {
		fmt.Fprintf(w, "Current level is %s.\n", log.GetLevel())
		return
	}

	level, err := log.ParseLevel(levels[0])
	if err != nil {
		writeError(w, err)
		return
	}

	duration := o.duration
	if ds, ok := values[_durationParam]; ok && len(ds) > 0 {
		duration, err = time.ParseDuration(ds[0])
		if err != nil {
			writeError(w, err)
			return
		}
		if duration <= 0 {
			writeError(w, errors.Errorf("duration %v is not positive", duration))
			return
		}
	}

	o.install(level, duration)

	fmt.Fprintf(w, "Level changed to %s for the next %v.\n", level, duration)
}

func (o *LevelOverride) install(level log.Level, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Cancel the pending revert so an earlier, shorter override cannot
	// cut the new one short.
	if o.revert != nil {
		o.revert.Stop()
	}

	log.WithFields(log.Fields{
		"level":    level,
		"duration": duration,
	}).Info("Overriding log level")
	log.SetLevel(level)

	o.revert = o.clk.AfterFunc(duration, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		log.WithField("level", o.base).Info("Restoring baseline log level")
		log.SetLevel(o.base)
		o.revert = nil
	})
}

func writeError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintln(w, err.Error())
	fmt.Fprintln(w, _usage)
}
