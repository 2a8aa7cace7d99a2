package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/gopyforge/pybind/generator/generator"
)

var (
	configPath  string
	pkgPattern  string
	moduleName  string
	bindingsOut string
	stubOut     string
	initFunc    string
	backend     string
	verbosity   int
)

var rootCmd = &cobra.Command{
	Use:   "pybind-gen",
	Short: "Generate interpreter bindings for a Go package",
	Long: `pybind-gen scans a Go package for declarations annotated with
pybind directives (//pybind:class, //pybind:function, //pybind:constant)
and writes a registration file for them, plus an optional .pyi type stub
describing the resulting interpreter module.

It is meant to be driven from a go:generate line inside the package:

	//go:generate go run github.com/gopyforge/pybind/generator`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a pybind.toml configuration file")
	rootCmd.Flags().StringVarP(&pkgPattern, "package", "p", "", "Go package pattern to scan (defaults to the go:generate file's package)")
	rootCmd.Flags().StringVarP(&moduleName, "module", "m", "", "interpreter module name (defaults to the package name)")
	rootCmd.Flags().StringVar(&bindingsOut, "bindings", "", "output path of the generated registration file")
	rootCmd.Flags().StringVar(&stubOut, "stub", "", "output path of the generated .pyi stub")
	rootCmd.Flags().StringVar(&initFunc, "init", "", "name of the generated registration function")
	rootCmd.Flags().StringVar(&backend, "backend", "", "registration backend, classic or stable")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity")
}

func run(cmd *cobra.Command, args []string) error {
	commonlog.Configure(verbosity, nil)

	cfg := generator.DefaultConfig()
	if configPath != "" {
		loaded, err := generator.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if pkgPattern != "" {
		cfg.Package = pkgPattern
	}
	if cfg.Package == "" {
		// go:generate sets GOFILE to the file carrying the directive.
		if goFile := os.Getenv("GOFILE"); goFile != "" {
			cfg.Package = "file=" + goFile
		} else {
			cfg.Package = "."
		}
	}
	if moduleName != "" {
		cfg.Module = moduleName
	}
	if bindingsOut != "" {
		cfg.Bindings = bindingsOut
	}
	if stubOut != "" {
		cfg.Stub = stubOut
	}
	if initFunc != "" {
		cfg.InitFunc = initFunc
	}
	if backend != "" {
		cfg.Backend = backend
	}

	return generator.Generate(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
