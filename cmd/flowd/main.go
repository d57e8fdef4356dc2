// Command flowd runs the broker: topics, channels, and the TCP/HTTP
// surfaces clients and operators talk to.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowmq/flowmq/config"
	"github.com/flowmq/flowmq/logger"
	"github.com/flowmq/flowmq/metrics"
	"github.com/flowmq/flowmq/nsqd"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	v := viper.New()
	v.SetEnvPrefix("FLOWD")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "flowd",
		Short: "flowd is the flowmq broker daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, v)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML configuration file")
	cmd.Flags().String("tcp-address", "", "address to listen for client connections on")
	cmd.Flags().String("http-address", "", "address to listen for HTTP requests on")
	cmd.Flags().String("data-path", "", "directory to store topic and channel data in")
	cmd.Flags().String("broadcast-address", "", "address other nodes should use to reach this broker")
	cmd.Flags().StringSlice("registry-address", nil, "registry TCP address to register with (repeatable)")
	v.BindPFlags(cmd.Flags())

	return cmd
}

// run loads defaults, layers the TOML file named by configPath over
// them, then layers flag/env overrides from v on top — the same
// precedence order the teacher's run configuration uses.
func run(configPath string, v *viper.Viper) error {
	cfg := nsqd.NewConfig()
	if err := config.Load(configPath, &cfg); err != nil {
		return err
	}
	if s := v.GetString("tcp-address"); s != "" {
		cfg.TCPAddress = s
	}
	if s := v.GetString("http-address"); s != "" {
		cfg.HTTPAddress = s
	}
	if s := v.GetString("data-path"); s != "" {
		cfg.DataPath = s
	}
	if s := v.GetString("broadcast-address"); s != "" {
		cfg.BroadcastAddress = s
	}
	if addrs := v.GetStringSlice("registry-address"); len(addrs) > 0 {
		cfg.RegistryAddresses = addrs
	}

	log := logger.New(os.Stdout, cfg.Logging)
	defer log.Sync()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	broker, err := nsqd.New(cfg, log)
	if err != nil {
		return fmt.Errorf("flowd: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		broker.Shutdown()
	}()

	return broker.ListenAndServe()
}
