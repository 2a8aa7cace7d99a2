// Package generator turns annotated Go packages into interpreter
// bindings: a registration file wiring every annotated declaration onto
// an engine, and a .pyi stub describing the resulting module.
//
// Declarations registered at runtime through the StaticsProvider and
// PropertiesProvider interfaces are invisible to static analysis and do
// not appear in the stub.
package generator

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"go/token"
	"os"
	"path/filepath"
	"text/template"

	"github.com/tliron/commonlog"
	"golang.org/x/tools/go/packages"
)

var (
	//go:embed templates/*
	templates embed.FS
)

var log = commonlog.GetLogger("pybind.generator")

// TemplateFunctions are the helpers the embedded templates use.
var TemplateFunctions = template.FuncMap{
	// self and cls prepend the receiver to a rendered parameter list.
	"self": func(sig string) string {
		if sig == "" {
			return "self"
		}
		return "self, " + sig
	},
	"cls": func(sig string) string {
		if sig == "" {
			return "cls"
		}
		return "cls, " + sig
	},
}

// Generate runs one generation pass for cfg.
func Generate(cfg Config) error {
	fset := token.NewFileSet()
	pkgs, err := packages.Load(&packages.Config{
		Fset: fset,
		Mode: packages.NeedSyntax | packages.NeedName | packages.NeedModule | packages.NeedTypes | packages.NeedTypesInfo,
	}, cfg.Package)
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return fmt.Errorf("pattern %q matched no packages", cfg.Package)
	}
	pkg := pkgs[0]
	if len(pkg.Errors) > 0 {
		return fmt.Errorf("package %s: %v", pkg.PkgPath, pkg.Errors[0])
	}

	log.Infof("scanning package %s", pkg.PkgPath)
	data, err := scan(pkg, cfg)
	if err != nil {
		return err
	}
	log.Infof("found %d classes, %d functions, %d constants",
		len(data.Classes), len(data.Functions), len(data.Constants))

	tmpl, err := template.New("").
		Funcs(TemplateFunctions).
		ParseFS(templates, "templates/*.tmpl")
	if err != nil {
		return err
	}

	bindingsPath := cfg.Bindings
	if bindingsPath == "" {
		dir := "."
		if len(pkg.GoFiles) > 0 {
			dir = filepath.Dir(pkg.GoFiles[0])
		}
		bindingsPath = filepath.Join(dir, "pybind_bindings.go")
	}

	bindings, err := render(tmpl, "bindings.go.tmpl", data)
	if err != nil {
		return err
	}
	formatted, err := format.Source(bindings)
	if err != nil {
		return fmt.Errorf("generated bindings do not parse: %w", err)
	}
	if err := os.WriteFile(bindingsPath, formatted, 0o644); err != nil {
		return err
	}
	log.Infof("wrote %s", bindingsPath)

	if cfg.Stub != "" {
		stub, err := render(tmpl, "stub.pyi.tmpl", data)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfg.Stub, stub, 0o644); err != nil {
			return err
		}
		log.Infof("wrote %s", cfg.Stub)
	}
	return nil
}

func render(tmpl *template.Template, name string, data TemplateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
