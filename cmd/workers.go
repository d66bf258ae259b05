package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/shm"
	"github.com/zjrosen/forkpool/internal/task"
	"github.com/zjrosen/forkpool/internal/worker"
)

// Entries the CLI spawns. Registered at init so a re-executed child can
// resolve them before main runs.
const (
	entryCountdown = "countdown"
	entryEcho      = "echo"
)

func init() {
	worker.Register(entryCountdown, buildCountdown)
	worker.Register(entryEcho, buildEcho)
}

// buildCountdown expects args: id size. The worker runs one countdown task
// with the given id.
func buildCountdown(args []string) (*worker.Worker, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("countdown: want id and size, got %d args", len(args))
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("countdown: id: %w", err)
	}
	size, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("countdown: size: %w", err)
	}
	w := worker.New(id)
	if err := w.AddTask(task.Countdown(id, size)); err != nil {
		return nil, err
	}
	return w, nil
}

// buildEcho expects args: poll_interval. The worker sends every inbound
// message back unchanged until it is terminated.
func buildEcho(args []string) (*worker.Worker, error) {
	poll := worker.DefaultPollInterval
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return nil, fmt.Errorf("echo: poll interval: %w", err)
		}
		poll = d
	}
	w := worker.New(0,
		worker.WithMode(worker.Bidirectional),
		worker.WithoutTaskRunner(),
		worker.WithPollInterval(poll),
	)
	w.OnMessage(func(_ context.Context, w *worker.Worker, msg shm.Message) {
		// The message is forwarded as encoded, so any payload echoes.
		if err := w.Send(msg); err != nil {
			log.ErrorErr(log.CatWorker, "Echo failed", err, "worker", w.ID())
		}
	})
	return w, nil
}
