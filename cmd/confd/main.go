// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Command confd is the YANG-driven configuration management backend:
// it loads a schema, opens a datastore, and accepts management sessions
// on its listener until killed. Flag parsing uses cobra, one flag per
// startup option.
package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/yangconf/confd/commit"
	"github.com/yangconf/confd/confirm"
	"github.com/yangconf/confd/datastore"
	"github.com/yangconf/confd/logging"
	"github.com/yangconf/confd/nacm"
	"github.com/yangconf/confd/schema/goyang"
	"github.com/yangconf/confd/server"
	"github.com/yangconf/confd/tree"
)

var flags = defaultConfig()

func main() {
	root := &cobra.Command{
		Use:          "confd",
		Short:        "YANG-driven configuration management backend",
		SilenceUsage: true,
		RunE:         run,
	}

	root.Flags().StringVarP(&flags.DebugLevel, "debug-level", "D", flags.DebugLevel, "debug level: none|error|debug")
	root.Flags().StringVarP(&flags.LogDest, "log-dest", "l", flags.LogDest, "log destination: s|e|o|f<file>")
	root.Flags().StringVarP(&flags.PluginDir, "plugin-dir", "d", flags.PluginDir, "plugin directory")
	root.Flags().StringVarP(&flags.YangPath, "yang-path", "p", flags.YangPath, "YANG module search path")
	root.Flags().StringVarP(&flags.DatastoreDir, "datastore-dir", "b", flags.DatastoreDir, "datastore directory")
	root.Flags().StringVarP(&flags.SockFamily, "socket-family", "a", flags.SockFamily, "socket family: unix|tcp|tcp6")
	root.Flags().StringVarP(&flags.SockAddr, "socket-address", "u", flags.SockAddr, "socket path or address:port")
	root.Flags().StringVarP(&flags.PIDFile, "pid-file", "P", flags.PIDFile, "pid file path")
	root.Flags().StringVarP(&flags.StartupMode, "startup-mode", "s", flags.StartupMode, "startup mode: none|startup|running|init")
	root.Flags().StringVarP(&flags.ExtraXML, "extra-xml", "c", flags.ExtraXML, "extra XML merged at startup")
	root.Flags().StringVarP(&flags.SockGroup, "socket-group", "g", flags.SockGroup, "required socket group")
	root.Flags().StringVarP(&flags.MainYang, "main-yang", "y", flags.MainYang, "override main YANG module")
	root.Flags().StringVarP(&flags.Datastore, "datastore-plugin", "x", flags.Datastore, "datastore plugin: file|sqlite")
	root.Flags().Float64Var(&flags.RateLimitRPS, "rate-limit-rps", flags.RateLimitRPS, "per-session RPC rate limit (0 disables)")
	root.Flags().IntVar(&flags.RateBurst, "rate-limit-burst", flags.RateBurst, "per-session RPC burst size")
	root.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", flags.MetricsAddr, "address to serve /metrics on (empty disables)")

	var configFile string
	root.Flags().StringVarP(&configFile, "config", "f", "", "XML config file")

	cobra.OnInitialize(func() {
		if configFile == "" {
			return
		}
		// Flags the operator passed take precedence over the file.
		passed := make(map[string]string)
		root.Flags().Visit(func(f *pflag.Flag) {
			passed[f.Name] = f.Value.String()
		})
		cfg, err := loadConfigFile(configFile, flags)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		flags = cfg
		for name, val := range passed {
			if err := root.Flags().Set(name, val); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := flags.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zl.Sync()
	log := logging.New(zl)
	lvl, err := logging.ParseLevel(flags.DebugLevel)
	if err != nil {
		return err
	}
	for _, t := range []logging.Type{logging.TypeCommit, logging.TypeSession, logging.TypeMust, logging.TypeNACM} {
		log.SetLevel(t, lvl)
	}

	model, err := goyang.Load([]string{flags.YangPath}, mainModuleNames(flags.MainYang))
	if err != nil {
		return fmt.Errorf("loading YANG schema: %w", err)
	}

	backend, err := newBackend(flags)
	if err != nil {
		return fmt.Errorf("opening datastore backend: %w", err)
	}
	facade := datastore.New(backend)

	engine := commit.NewEngine(facade, model, "running")

	var rollback confirm.RollbackFunc = confirm.RollbackFromEngine(engine, "running", func(name string, image *tree.Element) error {
		_, err := facade.Put(name, image, datastore.OpReplace)
		return err
	})
	confirmMachine := confirm.NewMachine(rollback)

	authz := nacm.NewAuthorizer(nacm.DefaultRuleset())

	status, errs := engine.Startup(commit.StartupMode(parseStartupMode(flags.StartupMode)), "startup", "failsafe")
	log.Debug("startup complete", zap.String("status", status.String()), zap.Int("errors", len(errs)))
	if status == commit.StartupErr {
		for _, e := range errs {
			log.Error("startup error", zap.String("message", e.Error()))
		}
	}

	listener, err := newListener(flags.SockFamily, flags.SockAddr)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}

	srv := server.NewServer(server.Config{
		Listener:   listener,
		Facade:     facade,
		Engine:     engine,
		Authorizer: authz,
		Confirm:    confirmMachine,
		Model:      model,
		RateLimit:  server.RateLimit{RPS: flags.RateLimitRPS, Burst: flags.RateBurst},
		Log:        log,
	})

	if flags.MetricsAddr != "" {
		if err := commit.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		go serveMetrics(flags.MetricsAddr, log)
	}

	log.Debug("listening", zap.String("family", flags.SockFamily), zap.String("address", flags.SockAddr))
	return srv.Serve(plaintextHandshake)
}

// plaintextHandshake is the default Handshake collaborator for
// deployments that terminate NETCONF-over-SSH externally (e.g. behind
// sshd's ForceCommand) and hand confd a bare stream; the session's user
// identity is then whatever the transport already authenticated.
func plaintextHandshake(conn io.ReadWriteCloser) (string, []string, error) {
	return "netconf", nil, nil
}

func newListener(family, addr string) (net.Listener, error) {
	switch family {
	case "unix":
		os.Remove(addr)
		return net.Listen("unix", addr)
	case "tcp6":
		return net.Listen("tcp6", addr)
	default:
		return net.Listen("tcp", addr)
	}
}

func newBackend(cfg Config) (datastore.Backend, error) {
	switch cfg.Datastore {
	case "sqlite":
		return datastore.NewSQLBackend(cfg.DatastoreDir + "/confd.db")
	default:
		return datastore.NewFileBackend(cfg.DatastoreDir)
	}
}

func mainModuleNames(override string) []string {
	if override == "" {
		return nil
	}
	return []string{override}
}

func parseStartupMode(s string) int {
	switch s {
	case "none":
		return int(commit.StartupNone)
	case "running":
		return int(commit.StartupRunning)
	case "init":
		return int(commit.StartupInit)
	default:
		return int(commit.StartupStartup)
	}
}

func serveMetrics(addr string, log *logging.Logging) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server exited", zap.Error(err))
	}
}
