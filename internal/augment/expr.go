package augment

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
)

// Field is the diagnostic attribute a clause inspects.
type Field string

const (
	FieldLevel Field = "level"
	FieldScore Field = "score"
)

// Operator is a comparison operator. The loose and strict equality spellings
// are accepted and behave the same.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpStrictEqual  Operator = "==="
	OpAssignEqual  Operator = "="
	OpNotEqual     Operator = "!="
	OpStrictNotEq  Operator = "!=="
)

var (
	conjunctionRe = regexp.MustCompile(`&&| AND | and `)
	clauseRe      = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(===|!==|<=|>=|==|!=|<|>|=)\s*(.+)$`)
)

// Clause is one compiled `field operator literal` comparison.
type Clause struct {
	Raw     string
	Field   Field
	Op      Operator
	Literal string

	invalid string // set when the clause can never hold
	level   int
	levelOK bool
	score   float64
	scoreOK bool
}

// Expr is a compiled whenExpr: a conjunction of clauses. The zero Expr is
// the empty expression, which always holds.
type Expr struct {
	Raw     string
	Clauses []Clause
}

// Compile parses a whenExpr. It never fails: text it cannot understand
// becomes a clause that evaluates false with an explanatory reason.
func Compile(raw string) Expr {
	expr := Expr{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return expr
	}
	for _, part := range conjunctionRe.Split(raw, -1) {
		expr.Clauses = append(expr.Clauses, compileClause(strings.TrimSpace(part)))
	}
	return expr
}

func compileClause(raw string) Clause {
	c := Clause{Raw: raw}
	if raw == "" {
		c.invalid = "empty clause"
		return c
	}

	m := clauseRe.FindStringSubmatch(raw)
	if m == nil {
		c.invalid = fmt.Sprintf("unsupported clause %q", raw)
		return c
	}
	// Casers carry state, so each compile gets its own.
	c.Field = Field(cases.Lower(language.Und).String(m[1]))
	c.Op = Operator(m[2])
	c.Literal = strings.TrimSpace(m[3])

	switch c.Field {
	case FieldLevel:
		lit := cases.Upper(language.Und).String(unquote(c.Literal))
		if ord, ok := diagnostic.Level(lit).Ordinal(); ok {
			c.level, c.levelOK = ord, true
		}
	case FieldScore:
		if v, err := strconv.ParseFloat(unquote(c.Literal), 64); err == nil && !math.IsNaN(v) {
			c.score, c.scoreOK = v, true
		}
	default:
		c.invalid = fmt.Sprintf("unsupported field %q", m[1])
	}
	return c
}

// Eval reports whether every clause holds for d. d may be nil when the
// objective has no diagnostic. When the result is false, reason names the
// first clause that failed.
func (e Expr) Eval(d *diagnostic.Result) (ok bool, reason string) {
	for _, c := range e.Clauses {
		if ok, reason := c.Eval(d); !ok {
			return false, reason
		}
	}
	return true, ""
}

// Always reports whether the expression has no clauses.
func (e Expr) Always() bool {
	return len(e.Clauses) == 0
}

// Problems lists the clauses that can never hold, whatever the diagnostic.
func (e Expr) Problems() []string {
	var out []string
	for _, c := range e.Clauses {
		if p := c.Problem(); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String returns the source text.
func (e Expr) String() string {
	return e.Raw
}

// MarshalText implements encoding.TextMarshaler.
func (e Expr) MarshalText() ([]byte, error) {
	return []byte(e.Raw), nil
}

// UnmarshalText compiles the expression while decoding.
func (e *Expr) UnmarshalText(text []byte) error {
	*e = Compile(string(text))
	return nil
}

// Eval evaluates a single clause against d.
func (c Clause) Eval(d *diagnostic.Result) (bool, string) {
	if c.invalid != "" {
		return false, c.invalid
	}
	if d == nil {
		return false, fmt.Sprintf("no diagnostic available for %s", c.Field)
	}

	switch c.Field {
	case FieldLevel:
		if !c.levelOK {
			return false, fmt.Sprintf("unknown level literal %q", c.Literal)
		}
		got, ok := d.Level.Ordinal()
		if !ok {
			return false, fmt.Sprintf("diagnostic level %q is not recognised", d.Level)
		}
		if !compare(float64(got), c.Op, float64(c.level)) {
			return false, fmt.Sprintf("level %s %s %s is false", d.Level, c.Op, c.Literal)
		}
	case FieldScore:
		if !c.scoreOK {
			return false, fmt.Sprintf("invalid score literal %q", c.Literal)
		}
		if d.Score == nil || math.IsNaN(*d.Score) {
			return false, "diagnostic has no numeric score"
		}
		if !compare(*d.Score, c.Op, c.score) {
			return false, fmt.Sprintf("score %g %s %s is false", *d.Score, c.Op, c.Literal)
		}
	}
	return true, ""
}

// Problem explains why the clause can never hold, or returns "".
func (c Clause) Problem() string {
	switch {
	case c.invalid != "":
		return c.invalid
	case c.Field == FieldLevel && !c.levelOK:
		return fmt.Sprintf("unknown level literal %q", c.Literal)
	case c.Field == FieldScore && !c.scoreOK:
		return fmt.Sprintf("invalid score literal %q", c.Literal)
	}
	return ""
}

func compare(a float64, op Operator, b float64) bool {
	switch op {
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpEqual, OpStrictEqual, OpAssignEqual:
		return a == b
	case OpNotEqual, OpStrictNotEq:
		return a != b
	}
	return false
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'' || first == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
