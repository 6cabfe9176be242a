// The scaler is Thorium's scheduling controller. It runs one scheduler
// per configured cluster, spawning and reaping workers to meet the
// platform's job deadlines.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjcarson/thorium/client"
	"github.com/mjcarson/thorium/common/log/hooks"
	"github.com/mjcarson/thorium/common/stats"
	"github.com/mjcarson/thorium/config"
	"github.com/mjcarson/thorium/scheduler"
	"github.com/mjcarson/thorium/scheduler/direct"
	"github.com/mjcarson/thorium/scheduler/k8s"
)

func main() {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "thorium-scaler",
		Short: "Spawns and reaps Thorium workers across clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			log.AddHook(hooks.NewContextHook())

			conf, err := config.LoadScaler(configPath)
			if err != nil {
				return err
			}
			return run(conf)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "scaler.json", "path to the scaler config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus log level")
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(conf *config.Scaler) error {
	stat := stats.DefaultStatsReceiver()
	stats.CurrentStatsReceiver = stat
	api := client.New(conf.API, conf.Token)

	controllers, err := buildControllers(conf, api, stat)
	if err != nil {
		return err
	}
	if len(controllers) == 0 {
		log.Warn("no clusters configured, nothing to schedule")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go dumpStats(ctx, stat)

	var wg sync.WaitGroup
	for _, controller := range controllers {
		wg.Add(1)
		go func(c *scheduler.Controller) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithField("error", err).Error("scheduler exited")
				cancel()
			}
		}(controller)
	}
	wg.Wait()
	return nil
}

// buildControllers wires one controller per configured cluster. Dry run
// swaps every backend for a simulated cluster so the full loop can be
// watched without consequences.
func buildControllers(conf *config.Scaler, api *client.Client, stat stats.StatsReceiver) ([]*scheduler.Controller, error) {
	var controllers []*scheduler.Controller
	add := func(cluster string, backend scheduler.Backend) {
		controllers = append(controllers, scheduler.NewController(*conf, cluster, backend, api, stat))
	}
	for _, k8sConf := range conf.K8s {
		if conf.DryRun {
			add(k8sConf.Name, scheduler.NewDryRun(k8sConf.Name))
			continue
		}
		backend, err := k8s.New(k8sConf)
		if err != nil {
			return nil, err
		}
		add(k8sConf.Name, backend)
	}
	// Windows nodes register and launch the same way linux bare metal
	// does, they are just tracked as separate clusters.
	bare := append(append([]string(nil), conf.BareMetal...), conf.Windows...)
	for _, cluster := range bare {
		if conf.DryRun {
			add(cluster, scheduler.NewDryRun(cluster))
			continue
		}
		add(cluster, direct.New(cluster, api))
	}
	return controllers, nil
}

// dumpStats logs the metrics registry once a minute for operators
// tailing the scaler without a metrics pipeline attached.
func dumpStats(ctx context.Context, stat stats.StatsReceiver) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.WithField("stats", string(stat.Render())).Debug("scaler stats")
		}
	}
}
