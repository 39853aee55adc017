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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LevelOverrideTestSuite struct {
	suite.Suite

	clk      *clock.Mock
	override *LevelOverride
}

func (s *LevelOverrideTestSuite) SetupTest() {
	s.clk = clock.NewMock()
	var err error
	s.override, err = NewLevelOverride(Config{
		Level:            "info",
		OverrideDuration: time.Minute,
	}, s.clk)
	s.Require().NoError(err)
}

func (s *LevelOverrideTestSuite) TearDownTest() {
	log.SetLevel(log.InfoLevel)
}

func (s *LevelOverrideTestSuite) get(target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.override.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func (s *LevelOverrideTestSuite) TestReportsCurrentLevel() {
	w := s.get(LevelEndpoint)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "info")
}

func (s *LevelOverrideTestSuite) TestOverrideRevertsToBaseline() {
	w := s.get(LevelEndpoint + "?level=debug&duration=10s")
	s.Equal(http.StatusOK, w.Code)
	s.Equal(log.DebugLevel, log.GetLevel())

	s.clk.Add(11 * time.Second)
	s.Equal(log.InfoLevel, log.GetLevel())
}

func (s *LevelOverrideTestSuite) TestDefaultDurationFromConfig() {
	s.get(LevelEndpoint + "?level=debug")
	s.Equal(log.DebugLevel, log.GetLevel())

	s.clk.Add(59 * time.Second)
	s.Equal(log.DebugLevel, log.GetLevel())

	s.clk.Add(2 * time.Second)
	s.Equal(log.InfoLevel, log.GetLevel())
}

func (s *LevelOverrideTestSuite) TestNewOverrideReplacesPendingRevert() {
	s.get(LevelEndpoint + "?level=debug&duration=5s")
	s.get(LevelEndpoint + "?level=warn&duration=1m")

	// The first override's expiry must not fire.
	s.clk.Add(10 * time.Second)
	s.Equal(log.WarnLevel, log.GetLevel())

	s.clk.Add(time.Minute)
	s.Equal(log.InfoLevel, log.GetLevel())
}

func (s *LevelOverrideTestSuite) TestRejectsBadParams() {
	w := s.get(LevelEndpoint + "?level=nope")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "usage:")

	w = s.get(LevelEndpoint + "?level=debug&duration=bogus")
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.get(LevelEndpoint + "?level=debug&duration=-1s")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(log.InfoLevel, log.GetLevel())
}

func TestLevelOverrideTestSuite(t *testing.T) {
	suite.Run(t, new(LevelOverrideTestSuite))
}

func TestBaseLevel(t *testing.T) {
	level, err := Config{}.BaseLevel()
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, level)

	level, err = Config{Level: "warn"}.BaseLevel()
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, level)

	_, err = Config{Level: "loud"}.BaseLevel()
	assert.Error(t, err)
}
