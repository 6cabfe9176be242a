// The agent runs inside every spawned worker. It claims jobs for its
// requisition one at a time and executes them as local processes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjcarson/thorium/agent"
	"github.com/mjcarson/thorium/client"
	"github.com/mjcarson/thorium/common/log/hooks"
	"github.com/mjcarson/thorium/common/stats"
	"github.com/mjcarson/thorium/config"
	"github.com/mjcarson/thorium/launcher"
	"github.com/mjcarson/thorium/models"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "0.0.0-dev"

func main() {
	var configPath string
	var logLevel string
	ident := agent.Identity{}
	var pool string
	var cluster string
	var node string

	cmd := &cobra.Command{
		Use:   "thorium-agent",
		Short: "Claims and runs jobs for one worker requisition",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			log.AddHook(hooks.NewContextHook())
			if pool == models.PoolFairShare.String() {
				ident.Pool = models.PoolFairShare
			}

			conf, err := config.LoadAgent(configPath)
			if err != nil {
				return err
			}
			// The scheduler knows where it put us better than the config
			// file does.
			if cluster != "" {
				conf.Cluster = cluster
			}
			if node != "" {
				conf.Node = node
			}
			return run(conf, ident)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "agent.json", "path to the agent config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus log level")
	cmd.Flags().StringVar(&ident.Name, "name", "", "worker name assigned by the scaler")
	cmd.Flags().StringVar(&ident.Req.User, "user", "", "user this worker claims for")
	cmd.Flags().StringVar(&ident.Req.Group, "group", "", "group this worker claims for")
	cmd.Flags().StringVar(&ident.Req.Pipeline, "pipeline", "", "pipeline this worker claims for")
	cmd.Flags().StringVar(&ident.Req.Stage, "stage", "", "stage this worker claims for")
	cmd.Flags().StringVar(&pool, "pool", models.PoolDeadline.String(), "pool this worker was spawned from")
	cmd.Flags().StringVar(&cluster, "cluster", "", "cluster this worker was placed on, overrides the config file")
	cmd.Flags().StringVar(&node, "node", "", "node this worker was placed on, overrides the config file")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("group")
	cmd.MarkFlagRequired("pipeline")
	cmd.MarkFlagRequired("stage")
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(conf *config.Agent, ident agent.Identity) error {
	stat := stats.DefaultStatsReceiver()
	stats.CurrentStatsReceiver = stat
	api := client.New(conf.API, conf.Token)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	worker, err := agent.New(ctx, conf, ident, version, api, launcher.NewProcessLauncher(stat), stat)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"worker":  ident.Name,
		"req":     ident.Req.String(),
		"version": version,
	}).Info("agent starting")
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
