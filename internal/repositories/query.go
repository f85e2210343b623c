package repositories

import (
	"strconv"
	"strings"
)

// Predicates collects WHERE conditions written with ? placeholders and
// renumbers them into positional parameters. Values never reach the SQL text.
type Predicates struct {
	clauses []string
	args    []interface{}
}

// Add appends clause. Each ? in clause consumes one value from args, in order.
func (p *Predicates) Add(clause string, args ...interface{}) *Predicates {
	var b strings.Builder
	used := 0
	for _, r := range clause {
		if r == '?' && used < len(args) {
			p.args = append(p.args, args[used])
			used++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(len(p.args)))
			continue
		}
		b.WriteRune(r)
	}
	p.clauses = append(p.clauses, b.String())
	return p
}

// Where renders "WHERE a AND b", or "" when no condition was added.
func (p *Predicates) Where() string {
	if len(p.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(p.clauses, " AND ")
}

func (p *Predicates) Args() []interface{} {
	return p.args
}

// Next returns the placeholder for a value appended after the predicates,
// such as a LIMIT.
func (p *Predicates) Next(arg interface{}) string {
	p.args = append(p.args, arg)
	return "$" + strconv.Itoa(len(p.args))
}
