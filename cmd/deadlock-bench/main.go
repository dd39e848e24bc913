// Command deadlock-bench drives the scheduler's benchmark workloads from
// the command line.
package main

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/raintherrien/deadlock"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var (
	flagWorkers int
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "deadlock-bench",
		Short: "Benchmark workloads for the deadlock task scheduler",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().IntVarP(&flagWorkers, "workers", "w", runtime.GOMAXPROCS(0),
		"worker count")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"log scheduler lifecycle events")

	root.AddCommand(newSpinCmd(), newForkJoinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// schedOptions assembles the option list shared by all subcommands.
func schedOptions() []deadlock.Option {
	var opts []deadlock.Option
	if flagVerbose {
		backend := stumpy.L.New(
			stumpy.L.WithStumpy(),
			stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
				os.Stderr.Write(e.Bytes())
				os.Stderr.Write([]byte("}\n"))
				return nil
			})),
		)
		opts = append(opts, deadlock.WithLogger(deadlock.NewLogifaceLogger(backend)))
	}
	return opts
}

func newSpinCmd() *cobra.Command {
	var iterations int

	cmd := &cobra.Command{
		Use:   "spin",
		Short: "Measure the tail-resubmit round-trip on one task",
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 0
			spin := deadlock.NewTask(func(w *deadlock.Worker, self *deadlock.Task) {
				if count++; count >= iterations {
					w.Terminate()
					return
				}
				w.Tail(self)
			})

			begin := time.Now()
			if err := deadlock.MainN(spin, nil, nil, flagWorkers, schedOptions()...); err != nil {
				return err
			}
			elapsed := time.Since(begin)

			fmt.Printf("iterations: %d\n", count)
			fmt.Printf("wall time:  %v\n", elapsed)
			fmt.Printf("per task:   %v\n", elapsed/time.Duration(count))
			return nil
		},
	}
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 5_000_000, "resubmissions to run")
	return cmd
}

func newForkJoinCmd() *cobra.Command {
	var (
		children int
		rounds   int
	)

	cmd := &cobra.Command{
		Use:   "forkjoin",
		Short: "Measure fan-out/join rounds across the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics := deadlock.NewMetrics()
			var completed atomic.Uint64
			round := 0

			var parent *deadlock.Task
			var roundFn deadlock.TaskFn
			roundFn = func(w *deadlock.Worker, _ *deadlock.Task) {
				if round++; round > rounds {
					w.Terminate()
					return
				}
				w.Recapture(parent, roundFn)
				for i := 0; i < children; i++ {
					w.Detach(deadlock.Create(func(*deadlock.Worker, *deadlock.Task) {
						completed.Add(1)
					}, parent))
				}
				w.Detach(parent)
			}
			parent = deadlock.Create(roundFn, nil)

			opts := append(schedOptions(), deadlock.WithMetrics(metrics))
			begin := time.Now()
			if err := deadlock.MainN(parent, nil, nil, flagWorkers, opts...); err != nil {
				return err
			}
			elapsed := time.Since(begin)

			snap := metrics.Snapshot()
			fmt.Printf("workers:    %d\n", flagWorkers)
			fmt.Printf("completed:  %d tasks in %d rounds\n", completed.Load(), rounds)
			fmt.Printf("wall time:  %v\n", elapsed)
			fmt.Printf("per task:   %v\n", elapsed/time.Duration(completed.Load()))
			fmt.Printf("steals:     %d\n", snap.Steals)
			fmt.Printf("carried:    %d\n", snap.Carried)
			fmt.Printf("stalls:     %d\n", snap.Stalls)
			fmt.Printf("inline:     %d\n", snap.InlineRuns)
			return nil
		},
	}
	cmd.Flags().IntVarP(&children, "children", "c", 4096, "children per round")
	cmd.Flags().IntVarP(&rounds, "rounds", "r", 1024, "rounds to run")
	return cmd
}
