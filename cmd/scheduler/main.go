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

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/uber/borealis/pkg/common/config"
	"github.com/uber/borealis/pkg/common/logging"
	"github.com/uber/borealis/pkg/common/metrics"
	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/driver"
	"github.com/uber/borealis/pkg/scheduler/events"
	"github.com/uber/borealis/pkg/scheduler/offers"
	"github.com/uber/borealis/pkg/scheduler/preemptor"
	"github.com/uber/borealis/pkg/scheduler/reconciliation"
	"github.com/uber/borealis/pkg/scheduler/scheduling"
	"github.com/uber/borealis/pkg/scheduler/state"
	"github.com/uber/borealis/pkg/storage"
)

const (
	_appLogField   = "app"
	_flushInterval = time.Second
)

var (
	version string
	app     = kingpin.New("borealis-scheduler", "Borealis Scheduler")

	debug = app.Flag(
		"debug", "enable debug logging").
		Short('d').
		Default("false").
		Envar("ENABLE_DEBUG_LOGGING").
		Bool()

	cfgFiles = app.Flag(
		"config",
		"YAML config files (can be provided multiple times to merge configs)").
		Short('c').
		Required().
		ExistingFiles()

	httpPort = app.Flag(
		"http-port",
		"Scheduler HTTP port (scheduler.http_port override) "+
			"(set $HTTP_PORT to override)").
		Envar("HTTP_PORT").
		Int()
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetFormatter(
		&logging.LogFieldFormatter{
			Formatter: &log.JSONFormatter{},
			Fields: log.Fields{
				_appLogField: app.Name,
			},
		},
	)

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	log.WithField("files", *cfgFiles).Info("Loading scheduler config")
	var cfg Config
	if err := config.Parse(&cfg, *cfgFiles...); err != nil {
		log.WithField("error", err).Fatal("Cannot parse yaml config")
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if *debug {
		cfg.Logging.Level = log.DebugLevel.String()
	}

	clk := clock.New()

	levelOverride, err := logging.NewLevelOverride(cfg.Logging, clk)
	if err != nil {
		log.WithError(err).Fatal("Cannot configure logging")
	}

	rootScope, scopeCloser, mux := metrics.InitMetricScope(
		&cfg.Metrics, app.Name, _flushInterval)
	defer scopeCloser.Close()
	defer metrics.StartRuntimeCollector(cfg.Metrics.Runtime, rootScope)()

	mux.Handle(logging.LevelEndpoint, levelOverride)

	bus := events.NewBus(
		rootScope,
		events.WithTaskStateChangeHandler(func(e events.TaskStateChange) {
			log.WithFields(log.Fields{
				"task_id": e.Task.ID,
				"from":    e.PreviousState.String(),
				"to":      e.Task.Status.String(),
			}).Debug("Task state changed")
		}),
		events.WithTasksDeletedHandler(func(e events.TasksDeleted) {
			log.WithField("count", len(e.Tasks)).Debug("Tasks deleted")
		}),
		events.WithHostAttributesChangedHandler(func(e events.HostAttributesChanged) {
			log.WithField("host", e.Attributes.Host).Debug("Host attributes changed")
		}),
		events.WithSchedulerActiveHandler(func(events.SchedulerActive) {
			log.Info("Scheduler active")
		}),
	)

	store, err := storage.New(bus, rootScope)
	if err != nil {
		log.WithError(err).Fatal("Cannot create storage")
	}

	queued := driver.NewQueued(&logTransport{}, cfg.Driver, rootScope)
	queued.Start()
	defer queued.Stop()

	resched := state.NewRescheduleCalculator(cfg.Reschedule)
	stateMgr := state.NewManager(queued, resched, clk, rootScope)

	offerMgr, err := offers.NewManager(queued, cfg.Offers, clk, rootScope)
	if err != nil {
		log.WithError(err).Fatal("Cannot create offer manager")
	}
	defer offerMgr.Stop()

	preempt, err := preemptor.NewPreemptor(
		cfg.Preemptor, store, stateMgr, offerMgr, clk, rootScope)
	if err != nil {
		log.WithError(err).Fatal("Cannot create preemptor")
	}
	preempt.Start()
	defer preempt.Stop()

	sched, err := scheduling.NewScheduler(
		cfg.Scheduling, store, stateMgr, offerMgr, queued,
		preempt, scheduling.NewUpdateAgentReserver(), clk, rootScope)
	if err != nil {
		log.WithError(err).Fatal("Cannot create task scheduler")
	}
	sched.Start()
	defer sched.Stop()

	reconciler, err := reconciliation.NewReconciler(
		cfg.Reconciliation, store, queued, clk, rootScope)
	if err != nil {
		log.WithError(err).Fatal("Cannot create reconciler")
	}
	reconciler.Start()
	defer reconciler.Stop()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.WithField("addr", addr).Info("Serving scheduler HTTP endpoints")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Fatal("HTTP server exited")
		}
	}()

	bus.Publish(events.SchedulerActive{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("Shutting down")
}

// logTransport stands in for the external cluster-message transport,
// which attaches at deployment time. Outbound messages are logged and
// acknowledged.
type logTransport struct{}

func (*logTransport) SendLaunch(offerID string, task *api.Task) error {
	log.WithFields(log.Fields{
		"offer_id": offerID,
		"task_id":  task.ID,
		"host":     task.AgentHost,
	}).Info("Launch requested")
	return nil
}

func (*logTransport) SendKill(taskID string) error {
	log.WithField("task_id", taskID).Info("Kill requested")
	return nil
}

func (*logTransport) SendDecline(offerID string, filterDuration time.Duration) error {
	log.WithFields(log.Fields{
		"offer_id":        offerID,
		"filter_duration": filterDuration,
	}).Debug("Offer declined")
	return nil
}

func (*logTransport) SendReconcile(statuses []driver.TaskStatus) error {
	log.WithField("count", len(statuses)).Info("Reconciliation requested")
	return nil
}
