// Command flowlookupd runs the discovery registry: brokers register
// their topics and channels with it, and consumers query it to find
// which brokers currently serve a topic.
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
	"github.com/flowmq/flowmq/nsqlookupd"
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
	v.SetEnvPrefix("FLOWLOOKUPD")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "flowlookupd",
		Short: "flowlookupd is the flowmq discovery registry daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, v)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML configuration file")
	cmd.Flags().String("tcp-address", "", "address to listen for broker connections on")
	cmd.Flags().String("http-address", "", "address to listen for HTTP requests on")
	v.BindPFlags(cmd.Flags())

	return cmd
}

func run(configPath string, v *viper.Viper) error {
	cfg := nsqlookupd.NewConfig()
	if err := config.Load(configPath, &cfg); err != nil {
		return err
	}
	if s := v.GetString("tcp-address"); s != "" {
		cfg.TCPAddress = s
	}
	if s := v.GetString("http-address"); s != "" {
		cfg.HTTPAddress = s
	}

	log := logger.New(os.Stdout, cfg.Logging)
	defer log.Sync()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	registry := nsqlookupd.New(cfg, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		registry.Shutdown()
	}()

	return registry.ListenAndServe()
}
