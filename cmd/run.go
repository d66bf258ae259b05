package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/forkpool/internal/history"
	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/pool"
	"github.com/zjrosen/forkpool/internal/presentation"
	"github.com/zjrosen/forkpool/internal/pubsub"
)

var (
	runWorkers int
	runSize    int
	runJSON    bool
	runEvents  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run countdown workers in parallel and merge their results",
	Long: `Spawn --workers child processes. Worker i runs a single task with id i that
counts down from size-1 to 0 and sends its result back over shared memory.
Results are harvested as workers exit and merged by worker and task id.

Examples:
  forkpool run
  forkpool run --workers 4 --size 1000 --codec cbor
  forkpool run --events
  forkpool run --json | jq '.results[].values | length'`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 2, "number of worker processes")
	runCmd.Flags().IntVarP(&runSize, "size", "n", 10, "items each countdown task produces")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print results as JSON")
	runCmd.Flags().BoolVar(&runEvents, "events", false, "print worker lifecycle events to stderr")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	if runWorkers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", runWorkers)
	}
	if runSize < 0 {
		return fmt.Errorf("--size must not be negative, got %d", runSize)
	}

	pcfg, err := cfg.PoolConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pool.New(pcfg)
	defer p.Close()
	for i := 0; i < runWorkers; i++ {
		if _, err := p.Add(entryCountdown, strconv.Itoa(i), strconv.Itoa(runSize)); err != nil {
			return err
		}
	}

	stopEvents := func() {}
	if runEvents {
		evCtx, cancel := context.WithCancel(ctx)
		done := printEvents(cmd.ErrOrStderr(), p.Subscribe(evCtx))
		stopEvents = func() {
			cancel()
			<-done
		}
	}
	defer stopEvents()

	rec := startRecording(pcfg.Channel.Namespace, cmd.Name(), pcfg.Channel.Codec.Name())
	log.Info(log.CatPool, "Run started", "run", pcfg.Channel.Namespace, "workers", runWorkers, "size", runSize)

	if err := p.Start(ctx); err != nil {
		_ = p.Stop(context.Background(), syscall.SIGTERM)
		rec.finish(true)
		return err
	}

	batches, err := p.Harvest(ctx)
	stopEvents()
	if err != nil {
		// Interrupted: terminate what is left and record the run as stopped.
		if serr := p.Stop(context.Background(), syscall.SIGTERM); serr != nil {
			log.ErrorErr(log.CatPool, "Stop failed", serr)
		}
		rec.finish(true)
		return err
	}

	merged, mergeErr := pool.MergeResults[[]int](batches)
	for _, b := range batches {
		rec.run.AddWorker(workerRecord(b, merged[b.Index]))
	}
	rec.finish(false)
	if mergeErr != nil {
		return fmt.Errorf("merge results: %w", mergeErr)
	}

	out := presentation.RunOutputDTO{
		Run:     presentation.FromRun(rec.run),
		Results: resultDTOs(merged),
	}
	f := presentation.NewFormatter(cmd.OutOrStdout())
	if runJSON {
		err = f.FormatJSON(out)
	} else {
		err = f.FormatRunOutput(out)
	}
	if err != nil {
		return err
	}

	if rec.run.State() == history.RunStateFailed {
		return fmt.Errorf("run %s failed", rec.run.RunID())
	}
	return nil
}

// printEvents writes each event to w until the subscription closes.
func printEvents(w io.Writer, events <-chan pubsub.Event[pool.Event]) <-chan struct{} {
	done := make(chan struct{})
	f := presentation.NewFormatter(w)
	go func() {
		defer close(done)
		for ev := range events {
			e := ev.Payload
			_ = f.FormatEvent(presentation.EventDTO{
				Type:     string(ev.Type),
				Worker:   e.Index,
				Entry:    e.Entry,
				PID:      e.PID,
				Messages: e.Messages,
				ExitCode: e.ExitCode,
				Error:    errString(e.Err),
			})
		}
	}()
	return done
}

func workerRecord(b pool.Batch, tasks map[int][]int) history.WorkerRecord {
	w := history.WorkerRecord{
		Index:    b.Index,
		PID:      b.PID,
		Entry:    b.Entry,
		ExitCode: b.ExitCode,
		Messages: len(b.Messages),
		Error:    errString(b.Err),
	}
	for _, id := range slices.Sorted(maps.Keys(tasks)) {
		w.Tasks = append(w.Tasks, history.TaskResultRecord{TaskID: id, Items: len(tasks[id])})
	}
	return w
}

// resultDTOs flattens merged results ordered by worker then task.
func resultDTOs[T any](merged pool.Merged[T]) []presentation.ResultDTO {
	out := make([]presentation.ResultDTO, 0, len(merged))
	for _, idx := range slices.Sorted(maps.Keys(merged)) {
		tasks := merged[idx]
		for _, id := range slices.Sorted(maps.Keys(tasks)) {
			out = append(out, presentation.ResultDTO{Worker: idx, Task: id, Values: tasks[id]})
		}
	}
	return out
}
