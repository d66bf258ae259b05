package proc

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/tracing"
)

// EnvEntry names the registered entry a re-executed binary should run.
const EnvEntry = "FORKPOOL_ENTRY"

// exit is swapped in tests.
var exit = os.Exit

// Init must be the first call in main, and in TestMain for packages that spawn
// children. In a parent it returns immediately. In a child it runs the
// requested entry and exits, never returning.
func Init() {
	name := os.Getenv(EnvEntry)
	if name == "" {
		return
	}
	exit(runChild(name, os.Args[1:]))
}

// runChild runs entry name and returns the process exit status.
func runChild(name string, args []string) int {
	cleanupLog, err := log.InitFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "forkpool: child log init: %v\n", err)
		cleanupLog = func() {}
	}
	defer cleanupLog()

	// Termination ends the child at once; work in flight is abandoned.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info(log.CatProc, "Child terminated by signal", "entry", name, "signal", sig)
		exit(0)
	}()

	fn, ok := Lookup(name)
	if !ok {
		log.Error(log.CatProc, "Child entry not registered", "entry", name)
		fmt.Fprintf(os.Stderr, "forkpool: %v: %q\n", ErrEntryNotCallable, name)
		return 1
	}

	ctx, provider, err := tracing.InitFromEnv(context.Background())
	if err != nil {
		log.Warn(log.CatTrace, "Child tracing disabled", "error", err)
	}
	defer func() {
		if provider != nil {
			_ = provider.Shutdown(context.Background())
		}
	}()

	ctx, span := tracing.Start(ctx, tracing.SpanChildRun,
		attribute.String(tracing.AttrEntry, name),
		attribute.Int(tracing.AttrPID, os.Getpid()),
	)

	log.Debug(log.CatProc, "Child running entry", "entry", name, "args", len(args))
	err = fn(ctx, args)
	tracing.End(span, err)

	if err != nil {
		log.ErrorErr(log.CatProc, "Child entry failed", err, "entry", name)
		return 1
	}
	log.Debug(log.CatProc, "Child entry finished", "entry", name)
	return 0
}
