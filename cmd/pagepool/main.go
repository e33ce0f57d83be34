// Package main is the page pool command-line tool: stress, serve, and inspect
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/NVIDIA/pagepool/memsys"
	"github.com/NVIDIA/pagepool/provider"
	"github.com/NVIDIA/pagepool/sys"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"k8s.io/klog/v2"
)

const cliName = "pagepool"

var (
	build   string
	version = "1.0"
)

var (
	configFlag    = cli.StringFlag{Name: "config,c", Usage: "configuration file (JSON or YAML)"}
	providerFlag  = cli.StringFlag{Name: "provider,p", Usage: "page provider: gomem or mmap", Value: "gomem"}
	limitFlag     = cli.StringFlag{Name: "limit", Usage: "maximum memory the provider may hand out, e.g. 2GiB (0: unlimited)", Value: "0"}
	verbosityFlag = cli.IntFlag{Name: "verbosity,v", Usage: "log verbosity level"}
	jsonFlag      = cli.BoolFlag{Name: "json,j", Usage: "json output"}

	globalFlags = []cli.Flag{configFlag, providerFlag, limitFlag, verbosityFlag}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		klog.Flush()
		var esig *cos.ErrSignal
		if errors.As(err, &esig) {
			os.Exit(esig.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", cliName, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = cliName
	app.Usage = "per-order page pools with pressure-driven reclaim"
	app.Version = version
	if build != "" {
		app.Version += "." + build
	}
	app.Flags = globalFlags
	// "-v" is verbosity
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version, V",
		Usage: "print only the version",
	}
	app.Before = initLogging
	app.After = func(*cli.Context) error {
		klog.Flush()
		return nil
	}
	app.Commands = []cli.Command{stressCmd, serveCmd, meminfoCmd, configCmd}
	return app
}

func initLogging(c *cli.Context) error {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	if err := fs.Set("v", strconv.Itoa(globalIntFlag(c, verbosityFlag))); err != nil {
		return err
	}
	if err := fs.Set("logtostderr", "true"); err != nil {
		return err
	}
	sys.GoEnvMaxprocs()
	return nil
}

//
// common setup
//

func loadConfig(c *cli.Context) (*memsys.Config, error) {
	return memsys.LoadConfig(globalStrFlag(c, configFlag))
}

type statsProvider interface {
	memsys.Provider
	Name() string
	Stats() provider.Stats
}

func newProvider(c *cli.Context) (statsProvider, error) {
	limit, err := cos.ParseSize(globalStrFlag(c, limitFlag))
	if err != nil {
		return nil, err
	}
	opts := []provider.Option{provider.WithLimit(limit / memsys.PageSize)}
	switch name := globalStrFlag(c, providerFlag); name {
	case "gomem", "":
		return provider.NewGoMem(opts...), nil
	case "mmap":
		return provider.NewMmap(opts...)
	default:
		return nil, errors.Errorf("unknown provider %q (expecting gomem or mmap)", name)
	}
}

func newHeap(c *cli.Context, config *memsys.Config, opts ...memsys.Option) (*memsys.Heap, statsProvider, error) {
	prov, err := newProvider(c)
	if err != nil {
		return nil, nil, err
	}
	heap, err := memsys.NewHeap(config, memsys.DevName(cliName), prov, opts...)
	if err != nil {
		return nil, nil, err
	}
	return heap, prov, nil
}
