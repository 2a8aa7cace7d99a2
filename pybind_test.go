package pybind

import (
	"errors"
	"testing"

	internal "github.com/gopyforge/pybind/internal"
	"github.com/gopyforge/pybind/internal/memrt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPybind(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pybind Suite")
}

// Point has no explicit lifecycle: the constructor and repr are generated
// from its fields. Eq without Hash makes instances unhashable.
type Point struct {
	X float64
	Y float64
}

func (p *Point) Magnitude() float64 {
	return p.X*p.X + p.Y*p.Y
}

func (p Point) Eq(o Point) bool {
	return p.X == o.X && p.Y == o.Y
}

// Counter carries an explicit constructor plus a Get/Set accessor pair.
type Counter struct {
	n int64
}

func (c *Counter) Init(start int64) {
	c.n = start
}

func (c *Counter) Increment() int64 {
	c.n++
	return c.n
}

func (c *Counter) GetValue() int64 {
	return c.n
}

func (c *Counter) SetValue(v int64) {
	c.n = v
}

// Vec exercises the number protocol.
type Vec struct {
	X float64
	Y float64
}

func (v Vec) Add(o Vec) Vec {
	return Vec{v.X + o.X, v.Y + o.Y}
}

func (v Vec) Sub(o Vec) Vec {
	return Vec{v.X - o.X, v.Y - o.Y}
}

func (v Vec) Rsub(f float64) Vec {
	return Vec{f - v.X, f - v.Y}
}

func (v Vec) Mul(f float64) Vec {
	return Vec{v.X * f, v.Y * f}
}

func (v Vec) Rmul(f float64) Vec {
	return v.Mul(f)
}

func (v *Vec) Iadd(o Vec) *Vec {
	v.X += o.X
	v.Y += o.Y
	return v
}

func (v Vec) Neg() Vec {
	return Vec{-v.X, -v.Y}
}

func (v Vec) Abs() float64 {
	if v.X < 0 {
		return -v.X
	}
	return v.X
}

func (v Vec) Bool() bool {
	return v.X != 0 || v.Y != 0
}

func (v Vec) Eq(o Vec) bool {
	return v.X == o.X && v.Y == o.Y
}

func (v Vec) Lt(o Vec) bool {
	return v.X*v.X+v.Y*v.Y < o.X*o.X+o.Y*o.Y
}

func (v Vec) Hash() uint64 {
	return uint64(v.X)*31 + uint64(v.Y)
}

// Rng iterates 0..Stop-1; a nil next value signals exhaustion.
type Rng struct {
	Stop int64
	cur  int64
}

func (r *Rng) Iter() *Rng {
	return r
}

func (r *Rng) Next() *int64 {
	if r.cur >= r.Stop {
		return nil
	}
	v := r.cur
	r.cur++
	return &v
}

// Stack is an integer-indexed container, so it surfaces as a sequence.
type Stack struct {
	items []int64
}

func (s *Stack) Push(v int64) {
	s.items = append(s.items, v)
}

func (s *Stack) Len() int {
	return len(s.items)
}

func (s *Stack) GetItem(i uint) (int64, error) {
	if int(i) >= len(s.items) {
		return 0, Raisef(ErrIndex, "stack index out of range")
	}
	return s.items[i], nil
}

func (s *Stack) SetItem(i uint, v int64) error {
	if int(i) >= len(s.items) {
		return Raisef(ErrIndex, "stack index out of range")
	}
	s.items[i] = v
	return nil
}

func (s *Stack) Contains(v int64) bool {
	for _, it := range s.items {
		if it == v {
			return true
		}
	}
	return false
}

// Env is keyed by strings, so it surfaces as a mapping.
type Env struct {
	vars map[string]string
}

func (e *Env) Init() {
	e.vars = map[string]string{}
}

func (e *Env) Len() int {
	return len(e.vars)
}

func (e *Env) GetItem(key string) (string, error) {
	v, ok := e.vars[key]
	if !ok {
		return "", Raisef(ErrKey, "%q", key)
	}
	return v, nil
}

func (e *Env) SetItem(key, value string) error {
	e.vars[key] = value
	return nil
}

func (e *Env) DelItem(key string) error {
	if _, ok := e.vars[key]; !ok {
		return Raisef(ErrKey, "%q", key)
	}
	delete(e.vars, key)
	return nil
}

// Origin is registered frozen.
type Origin struct {
	Label string
}

// Shape and Circle exercise single inheritance through embedding.
type Shape struct {
	Name string
}

func (s *Shape) Describe() string {
	return "shape " + s.Name
}

type Circle struct {
	Shape
	Radius float64
}

func (c *Circle) Area() float64 {
	return 3 * c.Radius * c.Radius
}

// Sticker shadows the inherited describe with a same-signature declaration
// of its own.
type Sticker struct {
	Shape
}

func (s *Sticker) Describe() string {
	return "sticker " + s.Name
}

// Trace indexes its backing slice without a bounds check of its own; the
// sequence wrapper must keep every index inside it.
type Trace struct {
	vals []int64
}

func (t *Trace) Init() {
	t.vals = []int64{10, 20, 30}
}

func (t *Trace) Len() int {
	return len(t.vals)
}

func (t *Trace) GetItem(i uint) int64 {
	return t.vals[i]
}

func (t *Trace) SetItem(i uint, v int64) {
	t.vals[i] = v
}

// Parser raises mapped exception classes from its methods.
type Parser struct{}

func (p *Parser) Fail() error {
	return Raisef(ErrValue, "bad input")
}

func (p *Parser) Divide(a, b int64) (int64, error) {
	if b == 0 {
		return 0, Raisef(ErrZeroDivision, "division by zero")
	}
	return a / b, nil
}

// Sample has a narrow unsigned field for overflow checks.
type Sample struct {
	Level uint8
}

// Bag is registered with dict support and holds no native fields.
type Bag struct{}

// Proxy resolves unknown attributes through the fallback hook.
type Proxy struct{}

func (p *Proxy) GetAttr(name string) (string, error) {
	if name == "magic" {
		return "abracadabra", nil
	}
	return "", Raisef(ErrAttribute, "proxy has no attribute %q", name)
}

// Codec declares statics beyond its Go methods.
type Codec struct {
	Tag string
}

func (c Codec) Clone() Codec {
	return Codec{Tag: c.Tag}
}

func (c Codec) PyStatics() map[string]any {
	return map[string]any{
		"from_tag": func(cls ClassToken, tag string) Codec {
			return Codec{Tag: tag}
		},
		"bound_type": func(cls ClassToken) string {
			if cls.Type == nil {
				return ""
			}
			return cls.Type.TypeName()
		},
		"version": func() string {
			return "1.0"
		},
	}
}

// Token is pooled.
type Token struct {
	ID int64
}

// Gauge exercises the accessor-naming coupling: SetLimit overrides the
// stored Limit field's setter, while SetRate has no matching field or
// getter and stays an ordinary method.
type Gauge struct {
	Limit int64
}

func (g *Gauge) SetLimit(v int64) {
	if v > 100 {
		v = 100
	}
	g.Limit = v
}

func (g *Gauge) SetRate(v int64) {}

func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

func Sum(vs ...int64) int64 {
	var total int64
	for _, v := range vs {
		total += v
	}
	return total
}

func Greet(name string, greeting *string) string {
	g := "hello"
	if greeting != nil {
		g = *greeting
	}
	return g + ", " + name
}

var rt *memrt.Runtime
var engine *Engine
var mod *Module

var _ = BeforeSuite(func() {
	rt = memrt.NewRuntime()
	engine = NewEngine()

	Expect(engine.RegisterClass("Point", &Point{})).To(Succeed())
	Expect(engine.RegisterClass("Counter", &Counter{})).To(Succeed())
	Expect(engine.RegisterClass("Vec", &Vec{})).To(Succeed())
	Expect(engine.RegisterClass("Rng", &Rng{})).To(Succeed())
	Expect(engine.RegisterClass("Stack", &Stack{})).To(Succeed())
	Expect(engine.RegisterClass("Env", &Env{})).To(Succeed())
	Expect(engine.RegisterClass("Origin", &Origin{}, Frozen())).To(Succeed())
	Expect(engine.RegisterClass("Shape", &Shape{})).To(Succeed())
	Expect(engine.RegisterClass("Circle", &Circle{})).To(Succeed())
	Expect(engine.RegisterClass("Sticker", &Sticker{})).To(Succeed())
	Expect(engine.RegisterClass("Trace", &Trace{})).To(Succeed())
	Expect(engine.RegisterClass("Parser", &Parser{})).To(Succeed())
	Expect(engine.RegisterClass("Sample", &Sample{})).To(Succeed())
	Expect(engine.RegisterClass("Bag", &Bag{}, WithDict())).To(Succeed())
	Expect(engine.RegisterClass("Proxy", &Proxy{})).To(Succeed())
	Expect(engine.RegisterClass("Codec", &Codec{})).To(Succeed())
	Expect(engine.RegisterClass("Token", &Token{}, PoolSize(2))).To(Succeed())
	Expect(engine.RegisterClass("Gauge", &Gauge{})).To(Succeed())

	Expect(engine.RegisterFunction("distance", Distance)).To(Succeed())
	Expect(engine.RegisterFunction("sum", Sum)).To(Succeed())
	Expect(engine.RegisterFunction("greet", Greet)).To(Succeed())
	Expect(engine.RegisterConstant("VERSION", "1.2.3")).To(Succeed())
	Expect(engine.RegisterConstant("MAX_LEVEL", int64(255))).To(Succeed())

	var err error
	mod, err = engine.InitModule(rt)
	Expect(err).To(BeNil())
})

func newInstance(name string, args ...Object) Object {
	GinkgoHelper()
	th, ok := mod.Type(name)
	Expect(ok).To(BeTrue())
	obj, err := rt.New(th, args...)
	Expect(err).To(BeNil())
	return obj
}

func raisedClass(err error) ErrorClass {
	GinkgoHelper()
	Expect(err).To(HaveOccurred())
	var raised *RaisedError
	Expect(errors.As(err, &raised)).To(BeTrue())
	return raised.Class
}

func asFloat(o Object) float64 {
	GinkgoHelper()
	v, err := rt.AsFloat(o)
	Expect(err).To(BeNil())
	return v
}

func asInt(o Object) int64 {
	GinkgoHelper()
	v, err := rt.AsInt(o)
	Expect(err).To(BeNil())
	return v
}

func asString(o Object) string {
	GinkgoHelper()
	v, err := rt.AsString(o)
	Expect(err).To(BeNil())
	return v
}

func asBool(o Object) bool {
	GinkgoHelper()
	v, err := rt.AsBool(o)
	Expect(err).To(BeNil())
	return v
}

var _ = Describe("Registering classes", Label("engine"), func() {
	It("rejects prototypes that are not struct pointers", func() {
		e := NewEngine()
		Expect(e.RegisterClass("Bad", 42)).To(HaveOccurred())
		Expect(e.RegisterClass("Bad", Point{})).To(HaveOccurred())
	})

	It("rejects rebinding a name to a different type", func() {
		e := NewEngine()
		Expect(e.RegisterClass("P", &Point{})).To(Succeed())
		Expect(e.RegisterClass("P", &Vec{})).To(HaveOccurred())
	})

	It("treats re-registering the same pair as a no-op", func() {
		e := NewEngine()
		Expect(e.RegisterClass("P", &Point{})).To(Succeed())
		Expect(e.RegisterClass("P", &Point{})).To(Succeed())
	})

	It("exposes the registered name on the type handle", func() {
		th, ok := mod.Type("Point")
		Expect(ok).To(BeTrue())
		Expect(th.TypeName()).To(Equal("Point"))
	})
})

var _ = Describe("Constructing instances", Label("lifecycle"), func() {
	When("the class has no explicit constructor", func() {
		It("takes one positional argument per field", func() {
			p := newInstance("Point", rt.NewFloat(3), rt.NewFloat(4))
			x, err := rt.GetAttr(p, "x")
			Expect(err).To(BeNil())
			Expect(asFloat(x)).To(Equal(3.0))
		})

		It("rejects the wrong number of arguments", func() {
			th, _ := mod.Type("Point")
			_, err := rt.New(th, rt.NewFloat(1))
			Expect(raisedClass(err)).To(Equal(ErrType))
		})

		It("rejects arguments of the wrong type", func() {
			th, _ := mod.Type("Point")
			_, err := rt.New(th, rt.NewString("a"), rt.NewString("b"))
			Expect(raisedClass(err)).To(Equal(ErrType))
		})
	})

	When("the class declares Init", func() {
		It("drives construction through it", func() {
			c := newInstance("Counter", rt.NewInt(10))
			v, err := rt.CallMethod(c, "increment")
			Expect(err).To(BeNil())
			Expect(asInt(v)).To(Equal(int64(11)))
		})
	})

	It("starts instances with a single reference", func() {
		p := newInstance("Point", rt.NewFloat(0), rt.NewFloat(0))
		inst, ok := p.(*Instance)
		Expect(ok).To(BeTrue())
		Expect(inst.RefCount()).To(Equal(1))
	})
})

var _ = Describe("Attribute access", Label("attributes"), func() {
	It("exposes fields under snake_case names", func() {
		c := newInstance("Circle", rt.NewString("disc"), rt.NewFloat(2))
		r, err := rt.GetAttr(c, "radius")
		Expect(err).To(BeNil())
		Expect(asFloat(r)).To(Equal(2.0))
	})

	It("writes fields through their setters", func() {
		p := newInstance("Point", rt.NewFloat(1), rt.NewFloat(2))
		Expect(rt.SetAttr(p, "x", rt.NewFloat(9))).To(Succeed())
		x, err := rt.GetAttr(p, "x")
		Expect(err).To(BeNil())
		Expect(asFloat(x)).To(Equal(9.0))
	})

	It("rejects values of the wrong type", func() {
		p := newInstance("Point", rt.NewFloat(1), rt.NewFloat(2))
		err := rt.SetAttr(p, "x", rt.NewString("nope"))
		Expect(raisedClass(err)).To(Equal(ErrType))
	})

	It("raises OverflowError when a value does not fit the field", func() {
		s := newInstance("Sample", rt.NewInt(1))
		Expect(raisedClass(rt.SetAttr(s, "level", rt.NewInt(300)))).To(Equal(ErrOverflow))
		Expect(raisedClass(rt.SetAttr(s, "level", rt.NewInt(-1)))).To(Equal(ErrOverflow))
	})

	It("maps Get/Set accessor pairs onto one property", func() {
		c := newInstance("Counter", rt.NewInt(5))
		v, err := rt.GetAttr(c, "value")
		Expect(err).To(BeNil())
		Expect(asInt(v)).To(Equal(int64(5)))

		Expect(rt.SetAttr(c, "value", rt.NewInt(42))).To(Succeed())
		v, err = rt.GetAttr(c, "value")
		Expect(err).To(BeNil())
		Expect(asInt(v)).To(Equal(int64(42)))
	})

	It("raises AttributeError for unknown attributes", func() {
		p := newInstance("Point", rt.NewFloat(0), rt.NewFloat(0))
		_, err := rt.GetAttr(p, "missing")
		Expect(raisedClass(err)).To(Equal(ErrAttribute))
	})

	When("the class is frozen", func() {
		It("rejects every assignment", func() {
			o := newInstance("Origin", rt.NewString("zero"))
			err := rt.SetAttr(o, "label", rt.NewString("other"))
			Expect(raisedClass(err)).To(Equal(ErrAttribute))
			Expect(err.Error()).To(ContainSubstring("frozen"))
		})

		It("still reads fields", func() {
			o := newInstance("Origin", rt.NewString("zero"))
			l, err := rt.GetAttr(o, "label")
			Expect(err).To(BeNil())
			Expect(asString(l)).To(Equal("zero"))
		})
	})

	When("the class carries a dict", func() {
		It("stores dynamic attributes", func() {
			b := newInstance("Bag")
			Expect(rt.SetAttr(b, "color", rt.NewString("red"))).To(Succeed())
			v, err := rt.GetAttr(b, "color")
			Expect(err).To(BeNil())
			Expect(asString(v)).To(Equal("red"))
		})

		It("deletes dynamic attributes", func() {
			b := newInstance("Bag")
			Expect(rt.SetAttr(b, "color", rt.NewString("red"))).To(Succeed())
			Expect(rt.DelAttr(b, "color")).To(Succeed())
			_, err := rt.GetAttr(b, "color")
			Expect(raisedClass(err)).To(Equal(ErrAttribute))
		})
	})

	When("a setter name matches a stored field", func() {
		It("routes field assignment through the override", func() {
			g := newInstance("Gauge", rt.NewInt(1))
			Expect(rt.SetAttr(g, "limit", rt.NewInt(500))).To(Succeed())
			v, err := rt.GetAttr(g, "limit")
			Expect(err).To(BeNil())
			Expect(asInt(v)).To(Equal(int64(100)))
		})
	})

	When("a setter name matches neither a field nor a getter", func() {
		It("stays an ordinary method", func() {
			g := newInstance("Gauge", rt.NewInt(1))
			_, err := rt.CallMethod(g, "set_rate", rt.NewInt(3))
			Expect(err).To(BeNil())
			_, err = rt.GetAttr(g, "rate")
			Expect(raisedClass(err)).To(Equal(ErrAttribute))
		})
	})

	When("the class declares a GetAttr hook", func() {
		It("runs the hook after everything else failed", func() {
			p := newInstance("Proxy")
			v, err := rt.GetAttr(p, "magic")
			Expect(err).To(BeNil())
			Expect(asString(v)).To(Equal("abracadabra"))
		})

		It("surfaces the hook's AttributeError", func() {
			p := newInstance("Proxy")
			_, err := rt.GetAttr(p, "nope")
			Expect(raisedClass(err)).To(Equal(ErrAttribute))
		})
	})
})

var _ = Describe("Calling methods", Label("methods"), func() {
	It("exposes methods under snake_case names", func() {
		p := newInstance("Point", rt.NewFloat(3), rt.NewFloat(4))
		v, err := rt.CallMethod(p, "magnitude")
		Expect(err).To(BeNil())
		Expect(asFloat(v)).To(Equal(25.0))
	})

	It("wraps value-returning declarations into new instances", func() {
		c := newInstance("Codec", rt.NewString("utf8"))
		clone, err := rt.CallMethod(c, "clone")
		Expect(err).To(BeNil())
		tag, err := rt.GetAttr(clone, "tag")
		Expect(err).To(BeNil())
		Expect(asString(tag)).To(Equal("utf8"))
	})

	It("exposes PyStatics entries with a class token as classmethods", func() {
		c := newInstance("Codec", rt.NewString("utf8"))
		made, err := rt.CallMethod(c, "from_tag", rt.NewString("ascii"))
		Expect(err).To(BeNil())
		tag, err := rt.GetAttr(made, "tag")
		Expect(err).To(BeNil())
		Expect(asString(tag)).To(Equal("ascii"))
	})

	It("hands classmethods the type they were called on", func() {
		c := newInstance("Codec", rt.NewString("utf8"))
		v, err := rt.CallMethod(c, "bound_type")
		Expect(err).To(BeNil())
		Expect(asString(v)).To(Equal("Codec"))
	})

	It("exposes plain PyStatics entries as static methods", func() {
		c := newInstance("Codec", rt.NewString("utf8"))
		v, err := rt.CallMethod(c, "version")
		Expect(err).To(BeNil())
		Expect(asString(v)).To(Equal("1.0"))
	})

	It("reports arity errors as TypeError", func() {
		p := newInstance("Point", rt.NewFloat(0), rt.NewFloat(0))
		_, err := rt.CallMethod(p, "magnitude", rt.NewInt(1))
		Expect(raisedClass(err)).To(Equal(ErrType))
	})
})

var _ = Describe("Repr, str and hash", Label("object"), func() {
	It("generates a field repr when none is declared", func() {
		p := newInstance("Point", rt.NewFloat(3), rt.NewFloat(4))
		s, err := rt.Repr(p)
		Expect(err).To(BeNil())
		Expect(s).To(Equal("Point(x=3, y=4)"))
	})

	It("includes inherited fields in the generated repr", func() {
		c := newInstance("Circle", rt.NewString("disc"), rt.NewFloat(2))
		s, err := rt.Repr(c)
		Expect(err).To(BeNil())
		Expect(s).To(Equal(`Circle(name="disc", radius=2)`))
	})

	It("hashes through the declared Hash", func() {
		v := newInstance("Vec", rt.NewFloat(2), rt.NewFloat(3))
		h, err := rt.Hash(v)
		Expect(err).To(BeNil())
		Expect(h).To(Equal(uint64(2*31 + 3)))
	})

	It("makes Eq-without-Hash classes unhashable", func() {
		p := newInstance("Point", rt.NewFloat(0), rt.NewFloat(0))
		_, err := rt.Hash(p)
		Expect(raisedClass(err)).To(Equal(ErrType))
		Expect(err.Error()).To(ContainSubstring("unhashable"))
	})
})

var _ = Describe("Rich comparison", Label("compare"), func() {
	vec := func(x, y float64) Object {
		GinkgoHelper()
		return newInstance("Vec", rt.NewFloat(x), rt.NewFloat(y))
	}

	It("answers the declared Eq", func() {
		res, err := rt.Compare(internal.OpEq, vec(1, 2), vec(1, 2))
		Expect(err).To(BeNil())
		Expect(asBool(res)).To(BeTrue())
	})

	It("derives Ne from Eq", func() {
		res, err := rt.Compare(internal.OpNe, vec(1, 2), vec(1, 3))
		Expect(err).To(BeNil())
		Expect(asBool(res)).To(BeTrue())
	})

	It("answers the declared Lt", func() {
		res, err := rt.Compare(internal.OpLt, vec(1, 0), vec(5, 0))
		Expect(err).To(BeNil())
		Expect(asBool(res)).To(BeTrue())
	})

	It("derives Gt by flipping Lt between instances of the class", func() {
		res, err := rt.Compare(internal.OpGt, vec(5, 0), vec(1, 0))
		Expect(err).To(BeNil())
		Expect(asBool(res)).To(BeTrue())
	})

	It("derives Le as Lt or Eq", func() {
		res, err := rt.Compare(internal.OpLe, vec(1, 2), vec(1, 2))
		Expect(err).To(BeNil())
		Expect(asBool(res)).To(BeTrue())
	})

	It("falls back to identity for Eq against foreign values", func() {
		res, err := rt.Compare(internal.OpEq, vec(1, 2), rt.NewInt(7))
		Expect(err).To(BeNil())
		Expect(asBool(res)).To(BeFalse())
	})

	It("raises TypeError for unsupported orderings", func() {
		p1 := newInstance("Point", rt.NewFloat(0), rt.NewFloat(0))
		p2 := newInstance("Point", rt.NewFloat(1), rt.NewFloat(1))
		_, err := rt.Compare(internal.OpLt, p1, p2)
		Expect(raisedClass(err)).To(Equal(ErrType))
	})
})

var _ = Describe("Number protocol", Label("number"), func() {
	vec := func(x, y float64) Object {
		GinkgoHelper()
		return newInstance("Vec", rt.NewFloat(x), rt.NewFloat(y))
	}

	It("adds two instances", func() {
		res, err := rt.BinaryOp(internal.SlotNumberAdd, vec(1, 2), vec(3, 4))
		Expect(err).To(BeNil())
		x, _ := rt.GetAttr(res, "x")
		Expect(asFloat(x)).To(Equal(4.0))
	})

	It("multiplies by a scalar on the left and on the right", func() {
		res, err := rt.BinaryOp(internal.SlotNumberMultiply, vec(1, 2), rt.NewFloat(2))
		Expect(err).To(BeNil())
		y, _ := rt.GetAttr(res, "y")
		Expect(asFloat(y)).To(Equal(4.0))

		res, err = rt.BinaryOp(internal.SlotNumberMultiply, rt.NewFloat(3), vec(1, 2))
		Expect(err).To(BeNil())
		x, _ := rt.GetAttr(res, "x")
		Expect(asFloat(x)).To(Equal(3.0))
	})

	It("prefers the forward declaration when the left operand is ours", func() {
		res, err := rt.BinaryOp(internal.SlotNumberSubtract, vec(5, 1), vec(2, 1))
		Expect(err).To(BeNil())
		x, _ := rt.GetAttr(res, "x")
		Expect(asFloat(x)).To(Equal(3.0))
	})

	It("uses the reverse declaration when only the right operand is ours", func() {
		res, err := rt.BinaryOp(internal.SlotNumberSubtract, rt.NewFloat(10), vec(1, 2))
		Expect(err).To(BeNil())
		y, _ := rt.GetAttr(res, "y")
		Expect(asFloat(y)).To(Equal(8.0))
	})

	It("never routes a left-hand instance through the reverse declaration", func() {
		// vec - float: Sub cannot convert the operand and Rsub only fires
		// for a right-hand instance, so the operation is unsupported.
		_, err := rt.BinaryOp(internal.SlotNumberSubtract, vec(1, 2), rt.NewFloat(10))
		Expect(raisedClass(err)).To(Equal(ErrType))
	})

	It("raises TypeError when neither side handles the operands", func() {
		_, err := rt.BinaryOp(internal.SlotNumberAdd, vec(1, 2), rt.NewString("x"))
		Expect(raisedClass(err)).To(Equal(ErrType))
		Expect(err.Error()).To(ContainSubstring("unsupported operand"))
	})

	It("keeps the handle identity across an in-place add", func() {
		v := vec(1, 1)
		res, err := rt.InplaceOp(internal.SlotNumberInplaceAdd, internal.SlotNumberAdd, v, vec(2, 2))
		Expect(err).To(BeNil())
		Expect(res).To(BeIdenticalTo(v))
		x, _ := rt.GetAttr(v, "x")
		Expect(asFloat(x)).To(Equal(3.0))
	})

	It("negates through the unary slot", func() {
		res, err := rt.UnaryOp(internal.SlotNumberNegative, vec(2, -3))
		Expect(err).To(BeNil())
		x, _ := rt.GetAttr(res, "x")
		Expect(asFloat(x)).To(Equal(-2.0))
	})

	It("answers truthiness through the declared Bool", func() {
		truth, err := rt.Truth(vec(0, 0))
		Expect(err).To(BeNil())
		Expect(truth).To(BeFalse())

		truth, err = rt.Truth(vec(1, 0))
		Expect(err).To(BeNil())
		Expect(truth).To(BeTrue())
	})
})

var _ = Describe("Sequence protocol", Label("container"), func() {
	newStack := func(vs ...int64) Object {
		GinkgoHelper()
		s := newInstance("Stack")
		for _, v := range vs {
			_, err := rt.CallMethod(s, "push", rt.NewInt(v))
			Expect(err).To(BeNil())
		}
		return s
	}

	It("reports its length", func() {
		n, err := rt.Len(newStack(1, 2, 3))
		Expect(err).To(BeNil())
		Expect(n).To(Equal(3))
	})

	It("indexes from the front", func() {
		v, err := rt.GetItem(newStack(10, 20, 30), rt.NewInt(1))
		Expect(err).To(BeNil())
		Expect(asInt(v)).To(Equal(int64(20)))
	})

	It("normalizes negative indexes against the length", func() {
		v, err := rt.GetItem(newStack(10, 20, 30), rt.NewInt(-1))
		Expect(err).To(BeNil())
		Expect(asInt(v)).To(Equal(int64(30)))
	})

	It("raises IndexError out of range", func() {
		_, err := rt.GetItem(newStack(1), rt.NewInt(5))
		Expect(raisedClass(err)).To(Equal(ErrIndex))

		_, err = rt.GetItem(newStack(1), rt.NewInt(-5))
		Expect(raisedClass(err)).To(Equal(ErrIndex))
	})

	It("raises TypeError for non-integer indexes", func() {
		_, err := rt.GetItem(newStack(1), rt.NewString("a"))
		Expect(raisedClass(err)).To(Equal(ErrType))
	})

	It("assigns through SetItem", func() {
		s := newStack(1, 2, 3)
		Expect(rt.SetItem(s, rt.NewInt(0), rt.NewInt(99))).To(Succeed())
		v, err := rt.GetItem(s, rt.NewInt(0))
		Expect(err).To(BeNil())
		Expect(asInt(v)).To(Equal(int64(99)))
	})

	It("answers membership through Contains", func() {
		s := newStack(1, 2, 3)
		found, err := rt.Contains(s, rt.NewInt(2))
		Expect(err).To(BeNil())
		Expect(found).To(BeTrue())

		found, err = rt.Contains(s, rt.NewInt(9))
		Expect(err).To(BeNil())
		Expect(found).To(BeFalse())
	})

	When("the native accessor does no bounds check of its own", func() {
		It("still normalizes negative indexes", func() {
			tr := newInstance("Trace")
			v, err := rt.GetItem(tr, rt.NewInt(-1))
			Expect(err).To(BeNil())
			Expect(asInt(v)).To(Equal(int64(30)))
		})

		It("raises IndexError before the accessor runs", func() {
			tr := newInstance("Trace")
			_, err := rt.GetItem(tr, rt.NewInt(3))
			Expect(raisedClass(err)).To(Equal(ErrIndex))

			_, err = rt.GetItem(tr, rt.NewInt(-4))
			Expect(raisedClass(err)).To(Equal(ErrIndex))

			err = rt.SetItem(tr, rt.NewInt(3), rt.NewInt(0))
			Expect(raisedClass(err)).To(Equal(ErrIndex))
		})
	})
})

var _ = Describe("Mapping protocol", Label("container"), func() {
	It("stores and retrieves by key", func() {
		e := newInstance("Env")
		Expect(rt.SetItem(e, rt.NewString("HOME"), rt.NewString("/root"))).To(Succeed())
		v, err := rt.GetItem(e, rt.NewString("HOME"))
		Expect(err).To(BeNil())
		Expect(asString(v)).To(Equal("/root"))

		n, err := rt.Len(e)
		Expect(err).To(BeNil())
		Expect(n).To(Equal(1))
	})

	It("raises KeyError for missing keys", func() {
		e := newInstance("Env")
		_, err := rt.GetItem(e, rt.NewString("MISSING"))
		Expect(raisedClass(err)).To(Equal(ErrKey))
	})

	It("deletes keys", func() {
		e := newInstance("Env")
		Expect(rt.SetItem(e, rt.NewString("K"), rt.NewString("v"))).To(Succeed())
		Expect(rt.DelItem(e, rt.NewString("K"))).To(Succeed())
		_, err := rt.GetItem(e, rt.NewString("K"))
		Expect(raisedClass(err)).To(Equal(ErrKey))
	})
})

var _ = Describe("Iteration", Label("iterator"), func() {
	It("drains the iterator until the sanctioned nil", func() {
		r := newInstance("Rng", rt.NewInt(3))
		items, err := rt.Collect(r)
		Expect(err).To(BeNil())
		Expect(items).To(HaveLen(3))
		Expect(asInt(items[0])).To(Equal(int64(0)))
		Expect(asInt(items[2])).To(Equal(int64(2)))
	})

	It("yields nothing for an exhausted range", func() {
		r := newInstance("Rng", rt.NewInt(0))
		items, err := rt.Collect(r)
		Expect(err).To(BeNil())
		Expect(items).To(BeEmpty())
	})

	It("refuses iteration of non-iterable classes", func() {
		p := newInstance("Point", rt.NewFloat(0), rt.NewFloat(0))
		_, err := rt.Iter(p)
		Expect(raisedClass(err)).To(Equal(ErrType))
	})
})

var _ = Describe("Raising native errors", Label("errors"), func() {
	It("maps error classes onto exception classes", func() {
		p := newInstance("Parser")
		_, err := rt.CallMethod(p, "fail")
		Expect(raisedClass(err)).To(Equal(ErrValue))
		Expect(err.Error()).To(ContainSubstring("bad input"))
	})

	It("returns the value when no error is raised", func() {
		p := newInstance("Parser")
		v, err := rt.CallMethod(p, "divide", rt.NewInt(6), rt.NewInt(3))
		Expect(err).To(BeNil())
		Expect(asInt(v)).To(Equal(int64(2)))
	})

	It("raises ZeroDivisionError from the mapped class", func() {
		p := newInstance("Parser")
		_, err := rt.CallMethod(p, "divide", rt.NewInt(1), rt.NewInt(0))
		Expect(raisedClass(err)).To(Equal(ErrZeroDivision))
	})
})

var _ = Describe("Inheritance", Label("classes"), func() {
	It("flattens base fields into the derived constructor", func() {
		c := newInstance("Circle", rt.NewString("disc"), rt.NewFloat(2))
		name, err := rt.GetAttr(c, "name")
		Expect(err).To(BeNil())
		Expect(asString(name)).To(Equal("disc"))
	})

	It("inherits base methods", func() {
		c := newInstance("Circle", rt.NewString("disc"), rt.NewFloat(2))
		d, err := rt.CallMethod(c, "describe")
		Expect(err).To(BeNil())
		Expect(asString(d)).To(Equal("shape disc"))
	})

	It("keeps derived methods alongside", func() {
		c := newInstance("Circle", rt.NewString("disc"), rt.NewFloat(2))
		a, err := rt.CallMethod(c, "area")
		Expect(err).To(BeNil())
		Expect(asFloat(a)).To(Equal(12.0))
	})

	It("prefers a declared override over the inherited method", func() {
		s := newInstance("Sticker", rt.NewString("star"))
		d, err := rt.CallMethod(s, "describe")
		Expect(err).To(BeNil())
		Expect(asString(d)).To(Equal("sticker star"))

		base := newInstance("Shape", rt.NewString("star"))
		d, err = rt.CallMethod(base, "describe")
		Expect(err).To(BeNil())
		Expect(asString(d)).To(Equal("shape star"))
	})

	It("reports instances of the derived class as instances of the base", func() {
		c := newInstance("Circle", rt.NewString("disc"), rt.NewFloat(2))
		shapeType, _ := mod.Type("Shape")
		circleType, _ := mod.Type("Circle")
		Expect(rt.IsInstance(c, circleType)).To(BeTrue())
		Expect(rt.IsInstance(c, shapeType)).To(BeTrue())

		s := newInstance("Shape", rt.NewString("blob"))
		Expect(rt.IsInstance(s, circleType)).To(BeFalse())
	})
})

var _ = Describe("Module symbols", Label("module"), func() {
	It("calls registered functions", func() {
		a := newInstance("Point", rt.NewFloat(0), rt.NewFloat(0))
		b := newInstance("Point", rt.NewFloat(3), rt.NewFloat(4))
		d, err := mod.Call("distance", a, b)
		Expect(err).To(BeNil())
		Expect(asFloat(d)).To(Equal(25.0))
	})

	It("accepts any arity for variadic functions", func() {
		v, err := mod.Call("sum")
		Expect(err).To(BeNil())
		Expect(asInt(v)).To(Equal(int64(0)))

		v, err = mod.Call("sum", rt.NewInt(1), rt.NewInt(2), rt.NewInt(3))
		Expect(err).To(BeNil())
		Expect(asInt(v)).To(Equal(int64(6)))
	})

	It("defaults trailing nullable parameters", func() {
		v, err := mod.Call("greet", rt.NewString("Ada"))
		Expect(err).To(BeNil())
		Expect(asString(v)).To(Equal("hello, Ada"))

		v, err = mod.Call("greet", rt.NewString("Ada"), rt.NewString("hi"))
		Expect(err).To(BeNil())
		Expect(asString(v)).To(Equal("hi, Ada"))
	})

	It("exposes constants as converted objects", func() {
		v, ok := mod.Symbol("VERSION")
		Expect(ok).To(BeTrue())
		Expect(asString(v)).To(Equal("1.2.3"))

		n, ok := mod.Symbol("MAX_LEVEL")
		Expect(ok).To(BeTrue())
		Expect(asInt(n)).To(Equal(int64(255)))
	})

	It("reports unknown symbols", func() {
		_, err := mod.Call("no_such_function")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Cooperative interrupts", Label("interrupts"), func() {
	It("reports nothing while the flag is clear", func() {
		Expect(CheckSignals(rt)).To(Succeed())
	})

	It("surfaces the armed interrupt", func() {
		rt.SetInterrupt(true)
		defer rt.SetInterrupt(false)
		err := CheckSignals(rt)
		Expect(raisedClass(err)).To(Equal(ErrInterrupt))
	})
})

var _ = Describe("Instance pooling", Label("lifecycle"), func() {
	It("recycles envelopes through the freelist", func() {
		th, _ := mod.Type("Token")
		for i := 0; i < 5; i++ {
			obj, err := rt.New(th, rt.NewInt(int64(i)))
			Expect(err).To(BeNil())
			v, err := rt.GetAttr(obj, "id")
			Expect(err).To(BeNil())
			Expect(asInt(v)).To(Equal(int64(i)))
			rt.DecRef(obj)
		}
	})
})
