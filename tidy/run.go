package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/tidymodels/dispatcher"
	"github.com/gammadia/tidymodels/jobfile"
	"github.com/gammadia/tidymodels/runner/docker"
	"github.com/gammadia/tidymodels/runner/local"
	"github.com/gammadia/tidymodels/tidy/flags"
	"github.com/gammadia/tidymodels/tidy/log"
	"github.com/gammadia/tidymodels/tidy/ui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run JOBFILE [ARGS...]",
		Short: "Runs every task of a job on the available devices",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runJob,
	}

	cmd.Flags().BoolP("dry-run", "n", false, "show the tasks without running them")
	cmd.Flags().StringArrayP("param", "p", nil, "jobfile parameters to set")
	flags.RegisterRun(cmd.Flags())
	return cmd
}

func runJob(cmd *cobra.Command, args []string) error {
	verbose := viper.GetBool(flags.Verbose)

	var spinner *ui.Spinner
	if !verbose {
		spinner = ui.NewSpinner("Reading job")
	} else {
		cmd.PrintErrln(ui.SectionHeaderColor.Sprint("  Reading job  "))
	}
	job, err := jobfile.Read(args[0], jobfile.ReadOptions{
		Verbose: verbose,
		Args:    args[1:],
		Params:  lo.SliceToMap(lo.Must(cmd.Flags().GetStringArray("param")), func(item string) (key, value string) { key, value, _ = strings.Cut(item, "="); return }),
	})
	if err != nil {
		spinner.Fail()
		if e, ok := err.(jobfile.UnmarshalError); ok && verbose {
			cmd.PrintErrln(e.Source)
		}
		return fmt.Errorf("failed to read job from '%s': %w", args[0], err)
	}
	spinner.Success()

	if devices := viper.GetStringSlice(flags.Devices); len(devices) > 0 {
		job.Devices = dispatcher.SlotsOf(devices...)
	}
	if concurrency := viper.GetInt(flags.Concurrency); concurrency > 0 {
		job.Concurrency = concurrency
	}

	if lo.Must(cmd.Flags().GetBool("dry-run")) {
		cmd.Println()
		cmd.Println(ui.SectionHeaderColor.Sprint("  Job  "))
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(job)
	}

	var metrics *dispatcher.Metrics
	if addr := viper.GetString(flags.MetricsListen); addr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = dispatcher.NewMetrics(registry)

		stop, err := serveMetrics(addr, registry)
		if err != nil {
			return err
		}
		defer stop()
	}

	d, err := dispatcher.New(dispatcher.Config{
		Concurrency: job.Concurrency,
		Logger:      log.Base.With("job", job.Name),
		Metrics:     metrics,
		Slots:       job.Devices,
	})
	if err != nil {
		return fmt.Errorf("invalid dispatch of job '%s': %w", job.Name, err)
	}

	work, err := newWork(cmd.Context(), job)
	if err != nil {
		return err
	}

	return dispatchJob(cmd, d, work, job, verbose)
}

func newWork(ctx context.Context, job *jobfile.Job) (dispatcher.Work, error) {
	switch job.Runner {
	case jobfile.RunnerDocker:
		client, err := docker.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		runner, err := docker.New(client, docker.Config{
			Image:   job.Image,
			Command: job.Command,
			Env:     job.Env,
			LogDir:  job.LogDir,
			Pull:    job.Pull,
			Driver:  viper.GetString(flags.DockerDriver),
			Logger:  log.Base,
		})
		if err != nil {
			return nil, err
		}
		if err := runner.Prepare(ctx); err != nil {
			return nil, err
		}
		return runner.Run, nil

	default:
		runner, err := local.New(local.Config{
			Command: job.Command,
			Env:     job.Env,
			Dir:     job.Dir,
			LogDir:  job.LogDir,
			Logger:  log.Base,
		})
		if err != nil {
			return nil, err
		}
		return runner.Run, nil
	}
}

func dispatchJob(cmd *cobra.Command, d *dispatcher.Dispatcher, work dispatcher.Work, job *jobfile.Job, verbose bool) error {
	total := len(job.Tasks)
	label := func(done, failed int) string {
		return fmt.Sprintf("Running job '%s' on %d devices (%d/%d done, %d failed)", job.Name, len(job.Devices), done, total, failed)
	}

	var spinner *ui.Spinner
	if !verbose {
		spinner = ui.NewSpinner(label(0, 0))
	} else {
		cmd.PrintErrln(ui.SectionHeaderColor.Sprint(fmt.Sprintf("  Running job '%s' (%s)  ", job.Name, d.Name())))
	}

	events, unsub := d.Subscribe()
	defer unsub()

	done := make(chan struct{})
	finished, failed := 0, 0
	go func() {
		defer close(done)
		for event := range events {
			switch event := event.(type) {
			case dispatcher.EventTaskRunning:
				if verbose {
					cmd.PrintErrf("%s %s on device %s\n", color.HiBlueString("▶"), event.Task, event.Slot)
				}
			case dispatcher.EventTaskCompleted:
				finished++
				if verbose {
					cmd.PrintErrf("%s %s (%s)\n", color.HiGreenString("✓"), event.Task, event.Duration.Round(time.Second))
				}
			case dispatcher.EventTaskFailed:
				finished++
				failed++
				if verbose {
					cmd.PrintErrf("%s %s: %v\n", color.HiRedString("✗"), event.Task, event.Error)
				}
			case dispatcher.EventTaskAborted:
				finished++
				failed++
			case dispatcher.EventDispatchCompleted:
				return
			}
			spinner.UpdateMessage(label(finished, failed))
		}
	}()

	err := d.Run(cmd.Context(), work, job.Tasks)
	unsub()
	<-done

	switch {
	case err == nil:
		spinner.Success(fmt.Sprintf("Job '%s' completed: %d tasks", job.Name, total))
	case errors.Is(err, context.Canceled):
		spinner.Warn(fmt.Sprintf("Job '%s' interrupted: %d/%d tasks done", job.Name, finished-failed, total))
	default:
		spinner.Fail(fmt.Sprintf("Job '%s' failed: %d/%d tasks failed", job.Name, failed, total))
	}
	return err
}

// serveMetrics exposes the registry until the returned function is called.
func serveMetrics(addr string, registry *prometheus.Registry) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", "error", err)
		}
	}()
	log.Info("Serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
