package generator

import (
	"go/ast"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/tools/go/packages"
)

func TestParseDirective(t *testing.T) {
	doc := &ast.CommentGroup{List: []*ast.Comment{
		{Text: "// Point is a 2D point."},
		{Text: "//pybind:class name=Point frozen pool=8"},
	}}

	d, ok := parseDirective(doc)
	if !ok {
		t.Fatal("directive not found")
	}
	if d.kind != "class" {
		t.Errorf("kind = %q, want class", d.kind)
	}
	if d.args["name"] != "Point" {
		t.Errorf("name = %q, want Point", d.args["name"])
	}
	if _, ok := d.args["frozen"]; !ok {
		t.Error("frozen flag not parsed")
	}
	if d.args["pool"] != "8" {
		t.Errorf("pool = %q, want 8", d.args["pool"])
	}

	if text := docText(doc); text != "Point is a 2D point." {
		t.Errorf("doc text = %q", text)
	}

	if _, ok := parseDirective(nil); ok {
		t.Error("nil comment group produced a directive")
	}
	if _, ok := parseDirective(&ast.CommentGroup{List: []*ast.Comment{{Text: "// plain comment"}}}); ok {
		t.Error("plain comment produced a directive")
	}
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"X":             "x",
		"Value":         "value",
		"MaxRetryCount": "max_retry_count",
		"from_tag":      "from_tag",
	}
	for in, want := range cases {
		if got := snakeCase(in); got != want {
			t.Errorf("snakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsAccessor(t *testing.T) {
	if !isAccessor("GetValue", "Get") {
		t.Error("GetValue not recognized")
	}
	if isAccessor("Getter", "Get") {
		t.Error("Getter wrongly recognized")
	}
	if isAccessor("Get", "Get") {
		t.Error("bare Get wrongly recognized")
	}
}

func testScanner(t *testing.T) (*scanner, *types.Package) {
	t.Helper()
	tpkg := types.NewPackage("example.com/demo", "demo")
	return &scanner{
		pkg:        &packages.Package{Types: tpkg},
		classNames: map[string]string{"Vec": "Vec"},
	}, tpkg
}

func TestPyType(t *testing.T) {
	s, tpkg := testScanner(t)

	vecObj := types.NewTypeName(token.NoPos, tpkg, "Vec", nil)
	vec := types.NewNamed(vecObj, types.NewStruct(nil, nil), nil)

	cases := []struct {
		typ  types.Type
		want string
	}{
		{types.Typ[types.Bool], "bool"},
		{types.Typ[types.Int64], "int"},
		{types.Typ[types.Uint8], "int"},
		{types.Typ[types.Float64], "float"},
		{types.Typ[types.String], "str"},
		{types.NewSlice(types.Typ[types.Byte]), "bytes"},
		{types.NewSlice(types.Typ[types.Int]), "list[int]"},
		{types.NewMap(types.Typ[types.String], types.Typ[types.Int]), "dict[str, int]"},
		{types.NewPointer(types.Typ[types.String]), "str | None"},
		{vec, "Vec"},
		{types.NewPointer(vec), "Vec | None"},
	}
	for _, c := range cases {
		if got := s.pyType(c.typ); got != c.want {
			t.Errorf("pyType(%s) = %q, want %q", c.typ, got, c.want)
		}
	}
}

func TestParamSig(t *testing.T) {
	s, _ := testScanner(t)

	params := types.NewTuple(
		types.NewVar(token.NoPos, nil, "name", types.Typ[types.String]),
		types.NewVar(token.NoPos, nil, "count", types.Typ[types.Int64]),
		types.NewVar(token.NoPos, nil, "label", types.NewPointer(types.Typ[types.String])),
	)
	sig := types.NewSignatureType(nil, nil, nil, params, nil, false)
	want := "name: str, count: int, label: str | None = None"
	if got := s.paramSig(sig); got != want {
		t.Errorf("paramSig = %q, want %q", got, want)
	}

	variadic := types.NewTuple(
		types.NewVar(token.NoPos, nil, "vs", types.NewSlice(types.Typ[types.Int64])),
	)
	sig = types.NewSignatureType(nil, nil, nil, variadic, nil, true)
	if got := s.paramSig(sig); got != "*vs: int" {
		t.Errorf("variadic paramSig = %q", got)
	}
}

func TestReturnType(t *testing.T) {
	s, _ := testScanner(t)

	errType := types.Universe.Lookup("error").Type()
	mk := func(results ...types.Type) *types.Signature {
		vars := make([]*types.Var, len(results))
		for i, r := range results {
			vars[i] = types.NewVar(token.NoPos, nil, "", r)
		}
		return types.NewSignatureType(nil, nil, nil, nil, types.NewTuple(vars...), false)
	}

	if got := s.returnType(mk()); got != "None" {
		t.Errorf("no results = %q, want None", got)
	}
	if got := s.returnType(mk(errType)); got != "None" {
		t.Errorf("error only = %q, want None", got)
	}
	if got := s.returnType(mk(types.Typ[types.Int64])); got != "int" {
		t.Errorf("int = %q", got)
	}
	if got := s.returnType(mk(types.Typ[types.String], errType)); got != "str" {
		t.Errorf("value+error = %q, want str", got)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pybind.toml")
	content := `
module = "geometry"
stub = "geometry.pyi"
backend = "stable"

[classes.Point]
frozen = true
pool = 16
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Module != "geometry" {
		t.Errorf("module = %q", cfg.Module)
	}
	if cfg.InitFunc != "NewBindings" {
		t.Errorf("init-func default = %q", cfg.InitFunc)
	}
	if cc := cfg.Classes["Point"]; !cc.Frozen || cc.Pool != 16 {
		t.Errorf("class overrides = %+v", cc)
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte(`backend = "mystery"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("unknown backend accepted")
	}
}
