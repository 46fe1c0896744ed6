package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/stretchr/testify/assert"
)

type fakeDockerEvents struct {
	msgs chan events.Message
	errs chan error
}

func newFakeDockerEvents() *fakeDockerEvents {
	return &fakeDockerEvents{msgs: make(chan events.Message, 8), errs: make(chan error, 1)}
}

func (f *fakeDockerEvents) Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	return f.msgs, f.errs
}

func TestKickNowTriggersAPass(t *testing.T) {
	var calls atomic.Int32
	l := New(Config{PollInterval: time.Hour, DebounceWindow: 10 * time.Millisecond}, func(ctx context.Context) {
		calls.Add(1)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); l.Stop() }()

	l.KickNow()
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestBurstOfKicksCollapsesToOnePass(t *testing.T) {
	var calls atomic.Int32
	l := New(Config{PollInterval: time.Hour, DebounceWindow: 40 * time.Millisecond}, func(ctx context.Context) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); l.Stop() }()

	for range 5 {
		l.KickNow()
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPausedLoopDropsTriggers(t *testing.T) {
	var calls atomic.Int32
	l := New(Config{PollInterval: time.Hour, DebounceWindow: 10 * time.Millisecond}, func(ctx context.Context) {
		calls.Add(1)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); l.Stop() }()

	l.Pause()
	l.KickNow()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	l.Resume()
	l.KickNow()
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestDockerEventTriggersPass(t *testing.T) {
	var calls atomic.Int32
	docker := newFakeDockerEvents()
	l := New(Config{PollInterval: time.Hour, DebounceWindow: 10 * time.Millisecond, WatchDockerEvents: true}, func(ctx context.Context) {
		calls.Add(1)
	}, docker)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); l.Stop() }()

	docker.msgs <- events.Message{}
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestPollTimerTriggersPass(t *testing.T) {
	var calls atomic.Int32
	l := New(Config{PollInterval: 20 * time.Millisecond, DebounceWindow: 5 * time.Millisecond}, func(ctx context.Context) {
		calls.Add(1)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); l.Stop() }()

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
}
