/*
Copyright 2022 Tinkerbell.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tinkerbell/aqtctl/controller"
	"github.com/tinkerbell/aqtctl/pkg/zaci"
)

const (
	appName = "aqtctl"
	// exitFailure is returned for every failed operation.
	exitFailure = 2
)

// defaultLogger is a zerolog logr implementation.
func defaultLogger(level string) logr.Logger {
	zl := zerolog.New(os.Stdout)
	zl = zl.With().Caller().Timestamp().Logger()
	var l zerolog.Level
	switch level {
	case "debug":
		l = zerolog.TraceLevel
	default:
		l = zerolog.InfoLevel
	}
	zl = zl.Level(l)

	return zerologr.New(&zl)
}

// rootConfig holds the flags shared by every subcommand.
type rootConfig struct {
	address      string
	username     string
	password     string
	logLevel     string
	metricsFile  string
	probeTimeout time.Duration

	log logr.Logger
}

func (c *rootConfig) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.address, "address", "", "IP address or FQDN of the Secure Service Container LPAR.")
	fs.StringVar(&c.username, "username", "", "Name of the appliance user.")
	fs.StringVar(&c.password, "password", "", "Password of the appliance user.")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level, one of info or debug.")
	fs.StringVar(&c.metricsFile, "metrics-file", "", "Write counters of the run to this node exporter textfile.")
	fs.DurationVar(&c.probeTimeout, "probe-timeout", zaci.DefaultProbeTimeout, "Timeout of the reachability probe while the appliance reboots.")
	_ = fs.String("config", "", "Config file with flag values, one 'name value' pair per line.")
}

// appliance logs in to the appliance and returns it with the default timings.
func (c *rootConfig) appliance(ctx context.Context) (*controller.Appliance, error) {
	if c.address == "" || c.username == "" || c.password == "" {
		return nil, errors.New("address, username and password are required")
	}
	c.log.Info("connecting", "address", c.address, "username", c.username)
	client := zaci.NewClient(c.address, zaci.WithLogger(c.log), zaci.WithProbeTimeout(c.probeTimeout))
	s, err := controller.Issue(ctx, client, c.username, c.password, c.log)
	if err != nil {
		return nil, err
	}

	return controller.NewAppliance(s, c.log, controller.DefaultOptions()), nil
}

// writeMetrics writes the controller counters to the metrics file, if one was given.
func (c *rootConfig) writeMetrics() error {
	if c.metricsFile == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	for _, col := range controller.MetricsCollectors() {
		if err := reg.Register(col); err != nil {
			return err
		}
	}

	return prometheus.WriteToTextfile(c.metricsFile, reg)
}

func main() {
	root := &rootConfig{log: logr.Discard()}
	fs := flag.NewFlagSet(appName, flag.ExitOnError)
	root.registerFlags(fs)

	cli := &ffcli.Command{
		Name:       appName,
		ShortUsage: appName + " [flags] <subcommand> [flags] [args...]",
		ShortHelp:  "Manage a Db2 Analytics Accelerator appliance through its REST API.",
		FlagSet:    fs,
		Options: []ff.Option{
			ff.WithEnvVarPrefix("AQTCTL"),
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ff.PlainParser),
		},
		Subcommands: []*ffcli.Command{
			newLicenseAcceptCommand(root),
			newUploadCommand(root),
			newFirstTimeSetupCommand(root),
			newCompleteUpdateCommand(root),
			newFCPListCommand(root),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	if err := cli.Parse(os.Args[1:]); err != nil {
		defaultLogger("info").Error(err, "parsing arguments")
		os.Exit(exitFailure)
	}
	root.log = defaultLogger(root.logLevel).WithName(appName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx)
	stop()
	if merr := root.writeMetrics(); merr != nil {
		root.log.Error(merr, "writing metrics", "file", root.metricsFile)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.Usage()
			os.Exit(exitFailure)
		}
		root.log.Error(err, "operation failed")
		os.Exit(exitFailure)
	}
}
