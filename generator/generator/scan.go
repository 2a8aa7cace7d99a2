package generator

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"
)

// TemplateData is the root object both templates render from.
type TemplateData struct {
	Pkg      string
	PkgPath  string
	Module   string
	InitFunc string
	Backend  string

	Classes   []TemplateClass
	Functions []TemplateFunction
	Constants []TemplateConstant
}

type TemplateClass struct {
	GoName string
	PyName string
	Doc    string
	Base   string
	Frozen bool

	// Options are the rendered pybind.ClassOption expressions the
	// registration file passes to RegisterClass.
	Options []string

	Fields     []TemplateProperty
	Properties []TemplateProperty
	Methods    []TemplateMethod
	Dunders    []TemplateMethod
	InitSig    string
}

type TemplateProperty struct {
	PyName   string
	Type     string
	ReadOnly bool
}

type TemplateMethod struct {
	GoName string
	PyName string
	// Sig is the rendered parameter list, without the leading self/cls.
	Sig         string
	Return      string
	ClassMethod bool
}

type TemplateFunction struct {
	GoName string
	PyName string
	Sig    string
	Return string
}

type TemplateConstant struct {
	GoName string
	PyName string
	Type   string
}

// directive is one parsed //pybind: marker comment.
type directive struct {
	kind string
	args map[string]string
}

func parseDirective(doc *ast.CommentGroup) (directive, bool) {
	if doc == nil {
		return directive{}, false
	}
	for _, c := range doc.List {
		text := strings.TrimPrefix(c.Text, "//")
		if !strings.HasPrefix(text, "pybind:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(text, "pybind:"))
		if len(fields) == 0 {
			continue
		}
		d := directive{kind: fields[0], args: map[string]string{}}
		for _, f := range fields[1:] {
			k, v, _ := strings.Cut(f, "=")
			d.args[k] = v
		}
		return d, true
	}
	return directive{}, false
}

// docText is the doc comment with the directive lines stripped.
// CommentGroup.Text already drops comments without a space after the
// slashes, which is exactly the directive form.
func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

type classDecl struct {
	goName string
	dir    directive
	doc    string
}

type scanner struct {
	pkg *packages.Package
	cfg Config

	// classNames maps Go type name to interpreter class name for every
	// annotated class, so parameter and return types can refer to them.
	classNames map[string]string
}

func scan(pkg *packages.Package, cfg Config) (TemplateData, error) {
	data := TemplateData{
		Pkg:      pkg.Name,
		PkgPath:  pkg.PkgPath,
		Module:   cfg.Module,
		InitFunc: cfg.InitFunc,
	}
	if data.Module == "" {
		data.Module = pkg.Name
	}
	switch cfg.Backend {
	case "classic":
		data.Backend = "BackendClassic"
	case "stable":
		data.Backend = "BackendStable"
	}

	s := &scanner{pkg: pkg, cfg: cfg, classNames: map[string]string{}}

	var classes []classDecl
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			switch d := decl.(type) {
			case *ast.GenDecl:
				switch d.Tok {
				case token.TYPE:
					for _, spec := range d.Specs {
						ts := spec.(*ast.TypeSpec)
						doc := ts.Doc
						if doc == nil {
							doc = d.Doc
						}
						dir, ok := parseDirective(doc)
						if !ok || dir.kind != "class" {
							continue
						}
						classes = append(classes, classDecl{
							goName: ts.Name.Name,
							dir:    dir,
							doc:    docText(doc),
						})
					}
				case token.CONST:
					declDir, declHas := parseDirective(d.Doc)
					for _, spec := range d.Specs {
						vs := spec.(*ast.ValueSpec)
						dir, ok := parseDirective(vs.Doc)
						if !ok {
							dir, ok = declDir, declHas
						}
						if !ok || dir.kind != "constant" {
							continue
						}
						for _, name := range vs.Names {
							if !name.IsExported() {
								continue
							}
							data.Constants = append(data.Constants, s.constant(name, dir))
						}
					}
				}
			case *ast.FuncDecl:
				if d.Recv != nil {
					continue
				}
				dir, ok := parseDirective(d.Doc)
				if !ok || dir.kind != "function" {
					continue
				}
				fn, err := s.function(d.Name, dir)
				if err != nil {
					return data, err
				}
				data.Functions = append(data.Functions, fn)
			}
		}
	}

	for _, cd := range classes {
		s.classNames[cd.goName] = s.pyClassName(cd)
	}
	for _, cd := range classes {
		tc, err := s.class(cd)
		if err != nil {
			return data, err
		}
		data.Classes = append(data.Classes, tc)
	}

	sort.Slice(data.Classes, func(i, j int) bool {
		return data.Classes[i].PyName < data.Classes[j].PyName
	})
	sort.Slice(data.Functions, func(i, j int) bool {
		return data.Functions[i].PyName < data.Functions[j].PyName
	})
	sort.Slice(data.Constants, func(i, j int) bool {
		return data.Constants[i].PyName < data.Constants[j].PyName
	})
	return data, nil
}

func (s *scanner) pyClassName(cd classDecl) string {
	if name := cd.dir.args["name"]; name != "" {
		return name
	}
	if cc, ok := s.cfg.Classes[cd.goName]; ok && cc.Name != "" {
		return cc.Name
	}
	return cd.goName
}

func (s *scanner) class(cd classDecl) (TemplateClass, error) {
	obj := s.pkg.Types.Scope().Lookup(cd.goName)
	if obj == nil {
		return TemplateClass{}, fmt.Errorf("annotated type %s not found in package %s", cd.goName, s.pkg.PkgPath)
	}
	named, ok := obj.Type().(*types.Named)
	if !ok {
		return TemplateClass{}, fmt.Errorf("annotated type %s is not a defined type", cd.goName)
	}
	st, ok := named.Underlying().(*types.Struct)
	if !ok {
		return TemplateClass{}, fmt.Errorf("annotated type %s is not a struct", cd.goName)
	}

	cc := s.cfg.Classes[cd.goName]
	tc := TemplateClass{
		GoName: cd.goName,
		PyName: s.pyClassName(cd),
		Doc:    cd.doc,
	}
	if tc.Doc == "" {
		tc.Doc = cc.Doc
	}

	_, frozenDir := cd.dir.args["frozen"]
	tc.Frozen = frozenDir || cc.Frozen
	if tc.Frozen {
		tc.Options = append(tc.Options, "pybind.Frozen()")
	}
	pool := cc.Pool
	if v, ok := cd.dir.args["pool"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return tc, fmt.Errorf("class %s: bad pool size %q", cd.goName, v)
		}
		pool = n
	}
	if pool > 0 {
		tc.Options = append(tc.Options, fmt.Sprintf("pybind.PoolSize(%d)", pool))
	}
	if _, ok := cd.dir.args["dict"]; ok || cc.Dict {
		tc.Options = append(tc.Options, "pybind.WithDict()")
	}
	if _, ok := cd.dir.args["weakrefs"]; ok || cc.Weakrefs {
		tc.Options = append(tc.Options, "pybind.WithWeakrefs()")
	}
	if tc.Doc != "" {
		tc.Options = append(tc.Options, fmt.Sprintf("pybind.Doc(%q)", tc.Doc))
	}

	// The first embedded field names the base class when it is itself
	// annotated. Its fields surface on the base's stub entry, not here.
	for i := 0; i < st.NumFields(); i++ {
		f := st.Field(i)
		if i == 0 && f.Embedded() {
			if base, ok := s.classNames[f.Name()]; ok {
				tc.Base = base
			}
			continue
		}
		if !f.Exported() || f.Embedded() || s.isObject(f.Type()) {
			continue
		}
		tc.Fields = append(tc.Fields, TemplateProperty{
			PyName:   snakeCase(f.Name()),
			Type:     s.pyType(f.Type()),
			ReadOnly: tc.Frozen,
		})
	}

	getters := map[string]TemplateProperty{}
	writable := map[string]bool{}
	var hasInit bool

	for i := 0; i < named.NumMethods(); i++ {
		m := named.Method(i)
		if !m.Exported() {
			continue
		}
		sig := m.Type().(*types.Signature)
		name := m.Name()
		switch {
		case name == "Init":
			tc.InitSig = s.paramSig(sig)
			hasInit = true
		case name == "Deinit":
			// finalizer, not interpreter-visible
		case goDunders[name] != "":
			tm, err := s.method(m, goDunders[name])
			if err != nil {
				return tc, err
			}
			tc.Dunders = append(tc.Dunders, tm)
		case isAccessor(name, "Get") && sig.Params().Len() == 0 && sig.Results().Len() >= 1:
			prop := name[len("Get"):]
			getters[prop] = TemplateProperty{
				PyName: snakeCase(prop),
				Type:   s.pyType(sig.Results().At(0).Type()),
			}
		case isAccessor(name, "Set") && sig.Params().Len() == 1:
			writable[name[len("Set"):]] = true
		default:
			py := snakeCase(name)
			if alias, ok := passthroughNames[name]; ok {
				py = alias
			}
			tm, err := s.method(m, py)
			if err != nil {
				return tc, err
			}
			tc.Methods = append(tc.Methods, tm)
		}
	}

	for prop, p := range getters {
		p.ReadOnly = !writable[prop]
		tc.Properties = append(tc.Properties, p)
	}

	if !hasInit {
		// Without an explicit Init the constructor takes every field of
		// the flattened struct, base fields first.
		tc.InitSig = s.fieldInitSig(named)
	}

	sort.Slice(tc.Properties, func(i, j int) bool {
		return tc.Properties[i].PyName < tc.Properties[j].PyName
	})
	sort.Slice(tc.Methods, func(i, j int) bool {
		return tc.Methods[i].PyName < tc.Methods[j].PyName
	})
	sort.Slice(tc.Dunders, func(i, j int) bool {
		return tc.Dunders[i].PyName < tc.Dunders[j].PyName
	})
	return tc, nil
}

func (s *scanner) method(m *types.Func, pyName string) (TemplateMethod, error) {
	sig := m.Type().(*types.Signature)
	tm := TemplateMethod{
		GoName: m.Name(),
		PyName: pyName,
		Return: s.returnType(sig),
	}
	if sig.Params().Len() > 0 && s.isClassToken(sig.Params().At(0).Type()) {
		tm.ClassMethod = true
		tm.Sig = s.paramSigFrom(sig, 1)
	} else {
		tm.Sig = s.paramSig(sig)
	}
	return tm, nil
}

func (s *scanner) function(name *ast.Ident, dir directive) (TemplateFunction, error) {
	obj := s.pkg.TypesInfo.Defs[name]
	if obj == nil {
		return TemplateFunction{}, fmt.Errorf("no type information for function %s", name.Name)
	}
	sig := obj.Type().(*types.Signature)
	fn := TemplateFunction{
		GoName: name.Name,
		PyName: dir.args["name"],
		Sig:    s.paramSig(sig),
		Return: s.returnType(sig),
	}
	if fn.PyName == "" {
		fn.PyName = snakeCase(name.Name)
	}
	return fn, nil
}

func (s *scanner) constant(name *ast.Ident, dir directive) TemplateConstant {
	c := TemplateConstant{
		GoName: name.Name,
		PyName: dir.args["name"],
		Type:   "Any",
	}
	if c.PyName == "" {
		c.PyName = name.Name
	}
	if obj := s.pkg.TypesInfo.Defs[name]; obj != nil {
		c.Type = s.pyType(obj.Type())
	}
	return c
}

// fieldInitSig renders the implicit field constructor's parameter list:
// one positional argument per flattened exported field.
func (s *scanner) fieldInitSig(named *types.Named) string {
	var params []string
	var walk func(st *types.Struct)
	walk = func(st *types.Struct) {
		for i := 0; i < st.NumFields(); i++ {
			f := st.Field(i)
			if i == 0 && f.Embedded() {
				if base, ok := f.Type().Underlying().(*types.Struct); ok {
					walk(base)
				}
				continue
			}
			if !f.Exported() || f.Embedded() {
				continue
			}
			params = append(params, fmt.Sprintf("%s: %s", snakeCase(f.Name()), s.pyType(f.Type())))
		}
	}
	if st, ok := named.Underlying().(*types.Struct); ok {
		walk(st)
	}
	return strings.Join(params, ", ")
}
