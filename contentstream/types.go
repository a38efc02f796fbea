package contentstream

// Operand is one argument preceding a content stream operator.
type Operand interface{ operand() }

type NumberOperand struct {
	Val   float64
	IsInt bool
}

type NameOperand struct{ Val string }

type StringOperand struct{ Val []byte }

type ArrayOperand struct{ Items []Operand }

type DictOperand struct{ Pairs map[string]Operand }

type BoolOperand struct{ Val bool }

type NullOperand struct{}

func (NumberOperand) operand() {}
func (NameOperand) operand()   {}
func (StringOperand) operand() {}
func (ArrayOperand) operand()  {}
func (DictOperand) operand()   {}
func (BoolOperand) operand()   {}
func (NullOperand) operand()   {}

// Operation is one operator plus its operands. Start and End delimit
// the operation's bytes in the original stream, operands included, so
// editing can splice the source without re-serializing untouched
// content.
type Operation struct {
	Operator string
	Operands []Operand
	Start    int64
	End      int64
}

// Name returns the i-th operand as a name.
func (o Operation) Name(i int) (string, bool) {
	if i < 0 || i >= len(o.Operands) {
		return "", false
	}
	n, ok := o.Operands[i].(NameOperand)
	if !ok {
		return "", false
	}
	return n.Val, true
}

// Float returns the i-th operand as a float.
func (o Operation) Float(i int) (float64, bool) {
	if i < 0 || i >= len(o.Operands) {
		return 0, false
	}
	n, ok := o.Operands[i].(NumberOperand)
	if !ok {
		return 0, false
	}
	return n.Val, true
}
