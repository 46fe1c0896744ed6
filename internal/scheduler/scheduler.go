/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package scheduler runs the cooperative reconciliation loop (C7): a
// periodic timer, an optional Docker event subscription, and an explicit
// API kick all funnel into one debounced trigger channel so at most one
// pass runs at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/docker/docker/api/types/events"
	log "github.com/sirupsen/logrus"
)

// DefaultPollInterval matches pollInterval's default.
const DefaultPollInterval = 60 * time.Second

// DefaultDebounceWindow collapses bursts of Docker events into one pass.
const DefaultDebounceWindow = 2 * time.Second

// reconnectBaseDelay/reconnectMaxDelay bound the Docker event stream's
// reconnect backoff after the daemon connection drops.
const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// PassFunc runs one reconciliation pass. The scheduler never runs two
// concurrently.
type PassFunc func(ctx context.Context)

// DockerEventsClient is the subset of *client.Client the loop needs to
// subscribe to container lifecycle events.
type DockerEventsClient interface {
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

// Config configures a Loop.
type Config struct {
	PollInterval      time.Duration
	DebounceWindow    time.Duration
	WatchDockerEvents bool
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	return c
}

// Loop is the event loop / scheduler (C7).
type Loop struct {
	cfg    Config
	run    PassFunc
	docker DockerEventsClient

	trigger chan struct{}

	mu     sync.Mutex
	paused bool

	stop chan struct{}
	done chan struct{}
}

// New constructs a Loop. docker may be nil when WatchDockerEvents is false.
func New(cfg Config, run PassFunc, docker DockerEventsClient) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		cfg:     cfg,
		run:     run,
		docker:  docker,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called, running the debounced
// pass loop and (if configured) the Docker event subscription.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	if l.cfg.WatchDockerEvents && l.docker != nil {
		go l.watchDockerEvents(ctx)
	}

	go l.pollTimer(ctx)

	l.debounceLoop(ctx)
}

// Stop requests the loop to exit; it returns once Run has returned,
// letting an in-flight pass finish its current mutations before the
// scheduler itself stops issuing new triggers.
func (l *Loop) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
}

// KickNow requests an out-of-band pass, subject to the same debounce and
// pause rules as any other trigger.
func (l *Loop) KickNow() {
	l.signal()
}

// Pause suspends the periodic timer and causes all triggers (timer,
// Docker events, kicks) to be dropped until Resume. Resume does not run a
// catch-up pass; the next natural trigger runs normally.
func (l *Loop) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

func (l *Loop) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
}

func (l *Loop) isPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// signal enqueues a trigger, dropping it silently if one is already
// pending (the debounce loop collapses bursts) or if the loop is paused.
func (l *Loop) signal() {
	if l.isPaused() {
		return
	}
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *Loop) pollTimer(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			if l.isPaused() {
				continue
			}
			l.signal()
		}
	}
}

// debounceLoop is the single consumer of trigger: it waits for the first
// signal, then holds a debounce window open to absorb any further signals
// that arrive in a burst, before running exactly one pass. Only one pass
// runs at a time by construction — the next wait begins after run returns.
func (l *Loop) debounceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-l.trigger:
		}

		l.drainDebounceWindow(ctx)
		if ctx.Err() != nil {
			return
		}
		l.run(ctx)
	}
}

func (l *Loop) drainDebounceWindow(ctx context.Context) {
	timer := time.NewTimer(l.cfg.DebounceWindow)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-l.trigger:
			// another signal arrived inside the window; keep waiting for
			// the window to elapse quietly rather than resetting it, so a
			// continuous burst cannot starve the loop indefinitely.
		case <-timer.C:
			return
		}
	}
}

// watchDockerEvents subscribes to the Docker event stream and signals a
// trigger for every container lifecycle event, reconnecting with
// exponential backoff if the stream errors out.
func (l *Loop) watchDockerEvents(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		default:
		}

		msgs, errs := l.docker.Events(ctx, events.ListOptions{})
		streamOK := true
		for streamOK {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case _, ok := <-msgs:
				if !ok {
					streamOK = false
					break
				}
				l.signal()
			case err, ok := <-errs:
				if !ok || err == nil {
					streamOK = false
					break
				}
				log.WithError(err).Warn("docker event stream error, reconnecting")
				streamOK = false
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}
