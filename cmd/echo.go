package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/forkpool/internal/history"
	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/presentation"
	"github.com/zjrosen/forkpool/internal/proc"
)

var (
	echoMessages int
	echoTimeout  time.Duration
	echoJSON     bool
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Exchange messages with a bidirectional worker",
	Long: `Spawn one bidirectional worker, send it --messages messages, collect every
echo it sends back, then stop it with SIGTERM.

Examples:
  forkpool echo
  forkpool echo --messages 100 --codec cbor`,
	Args: cobra.NoArgs,
	RunE: runEcho,
}

func init() {
	echoCmd.Flags().IntVarP(&echoMessages, "messages", "m", 5, "number of messages to send")
	echoCmd.Flags().DurationVar(&echoTimeout, "timeout", 10*time.Second, "give up waiting for echoes after this long")
	echoCmd.Flags().BoolVar(&echoJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(echoCmd)
}

func runEcho(cmd *cobra.Command, _ []string) error {
	if echoMessages < 0 {
		return fmt.Errorf("--messages must not be negative, got %d", echoMessages)
	}
	chcfg, err := cfg.ChannelConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := proc.New(entryEcho, proc.WithChannelConfig(chcfg))
	if err != nil {
		return err
	}
	rec := startRecording(chcfg.Namespace, cmd.Name(), chcfg.Codec.Name())

	poll := cfg.Worker.PollInterval
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	if err := h.StartContext(ctx, poll.String()); err != nil {
		rec.finish(true)
		return err
	}

	echoes, exchangeErr := exchange(ctx, h, echoMessages, echoTimeout, poll)

	if err := h.Stop(syscall.SIGTERM, true); err != nil {
		log.ErrorErr(log.CatProc, "Stop failed", err, "child", h.PID())
	}
	closeErr := h.Close()

	code, _ := h.ExitStatus()
	wr := history.WorkerRecord{
		Index:    0,
		PID:      h.PID(),
		Entry:    h.Entry(),
		ExitCode: code,
		Messages: len(echoes),
		Error:    errString(firstErr(exchangeErr, closeErr)),
	}
	if len(echoes) > 0 {
		wr.Tasks = []history.TaskResultRecord{{TaskID: 0, Items: len(echoes)}}
	}
	rec.run.AddWorker(wr)
	rec.finish(ctx.Err() != nil)

	if exchangeErr != nil {
		return exchangeErr
	}

	results := make([]presentation.ResultDTO, len(echoes))
	for i, e := range echoes {
		results[i] = presentation.ResultDTO{Worker: 0, Task: i, Values: e}
	}
	out := presentation.RunOutputDTO{Run: presentation.FromRun(rec.run), Results: results}
	f := presentation.NewFormatter(cmd.OutOrStdout())
	if echoJSON {
		return f.FormatJSON(out)
	}
	return f.FormatRunOutput(out)
}

// exchange sends n messages and collects echoes until all n came back.
func exchange(ctx context.Context, h *proc.Handle, n int, timeout, poll time.Duration) ([]string, error) {
	for i := 0; i < n; i++ {
		if err := h.Send(fmt.Sprintf("message %d", i)); err != nil {
			return nil, fmt.Errorf("send %d: %w", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	echoes := make([]string, 0, n)
	for len(echoes) < n {
		msgs, err := h.GetMessage()
		if err != nil {
			return echoes, fmt.Errorf("receive: %w", err)
		}
		for _, m := range msgs {
			var s string
			if err := m.Decode(&s); err != nil {
				return echoes, fmt.Errorf("decode echo: %w", err)
			}
			echoes = append(echoes, s)
		}
		if len(echoes) >= n {
			break
		}
		if !h.IsAlive() {
			return echoes, fmt.Errorf("echo worker exited after %d of %d echoes", len(echoes), n)
		}
		select {
		case <-ctx.Done():
			return echoes, fmt.Errorf("waiting for echoes (%d of %d): %w", len(echoes), n, ctx.Err())
		case <-ticker.C:
		}
	}
	return echoes, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
