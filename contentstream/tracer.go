package contentstream

import (
	"pdfdewm/coords"
)

// TextBlock is one BT..ET span with the text it shows and the union of
// the show operations' bounding boxes.
type TextBlock struct {
	Text    string
	BBox    Rect
	StartOp int // index of BT
	EndOp   int // index of ET; len(ops)-1 when the stream ends inside the block
	// Invisible is set when every show in the block used render mode 3.
	Invisible bool
	// GStates lists /Name gs operators in effect while the block was
	// open, for alpha-based hiding checks against the resources.
	GStates []string
	shows   int
}

// ImageDraw is one Do invocation and its device-space footprint.
type ImageDraw struct {
	Name    string
	OpIndex int
	BBox    Rect
}

type Trace struct {
	Blocks []TextBlock
	Images []ImageDraw
}

type graphicsState struct {
	ctm        coords.Matrix
	renderMode int
	gsName     string
}

// Tracer virtually executes a page's operations, tracking the CTM and
// text matrices to place text blocks and XObject draws on the page.
// Glyph widths are approximated at half an em, which is accurate
// enough to cover and locate watermark text without font programs.
type Tracer struct{}

func NewTracer() *Tracer { return &Tracer{} }

const defaultGlyphWidth = 500 // thousandths of an em

func (t *Tracer) Trace(ops []Operation) *Trace {
	out := &Trace{}
	gs := graphicsState{ctm: coords.Identity()}
	var stack []graphicsState

	var tm, tlm coords.Matrix
	var fontSize, leading float64
	var block *TextBlock

	flushBlock := func(endOp int) {
		if block == nil {
			return
		}
		block.EndOp = endOp
		block.Invisible = block.shows > 0 && block.Invisible
		out.Blocks = append(out.Blocks, *block)
		block = nil
	}

	show := func(text []byte, width float64, opIdx int) {
		if block == nil {
			return
		}
		m := tm.Multiply(gs.ctm)
		r := boundingRect(
			point(m, 0, 0),
			point(m, width, 0),
			point(m, 0, fontSize),
			point(m, width, fontSize),
		)
		block.BBox = block.BBox.Union(r)
		block.Text += string(text)
		if gs.renderMode != 3 {
			block.Invisible = false
		}
		if gs.gsName != "" && !contains(block.GStates, gs.gsName) {
			block.GStates = append(block.GStates, gs.gsName)
		}
		block.shows++
		tm = coords.Translate(width, 0).Multiply(tm)
	}

	nextLine := func() {
		tlm = coords.Translate(0, -leading).Multiply(tlm)
		tm = tlm
	}

	for i, op := range ops {
		switch op.Operator {
		case "q":
			stack = append(stack, gs)
		case "Q":
			if n := len(stack); n > 0 {
				gs = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			if m, ok := operandMatrix(op); ok {
				gs.ctm = m.Multiply(gs.ctm)
			}
		case "gs":
			if name, ok := op.Name(0); ok {
				gs.gsName = name
			}
		case "BT":
			tm = coords.Identity()
			tlm = coords.Identity()
			block = &TextBlock{StartOp: i, Invisible: true}
		case "ET":
			flushBlock(i)
		case "Tf":
			if v, ok := op.Float(1); ok {
				fontSize = v
			}
		case "TL":
			if v, ok := op.Float(0); ok {
				leading = v
			}
		case "Tr":
			if v, ok := op.Float(0); ok {
				gs.renderMode = int(v)
			}
		case "Tm":
			if m, ok := operandMatrix(op); ok {
				tlm = m
				tm = m
			}
		case "Td":
			if x, ok := op.Float(0); ok {
				if y, ok := op.Float(1); ok {
					tlm = coords.Translate(x, y).Multiply(tlm)
					tm = tlm
				}
			}
		case "TD":
			if x, ok := op.Float(0); ok {
				if y, ok := op.Float(1); ok {
					leading = -y
					tlm = coords.Translate(x, y).Multiply(tlm)
					tm = tlm
				}
			}
		case "T*":
			nextLine()
		case "Tj":
			if s, ok := stringOperand(op, 0); ok {
				show(s, approxWidth(len(s))*fontSize, i)
			}
		case "'":
			nextLine()
			if s, ok := stringOperand(op, 0); ok {
				show(s, approxWidth(len(s))*fontSize, i)
			}
		case "\"":
			nextLine()
			if s, ok := stringOperand(op, 2); ok {
				show(s, approxWidth(len(s))*fontSize, i)
			}
		case "TJ":
			if len(op.Operands) == 1 {
				if arr, ok := op.Operands[0].(ArrayOperand); ok {
					var text []byte
					total := 0.0
					for _, item := range arr.Items {
						switch v := item.(type) {
						case StringOperand:
							text = append(text, v.Val...)
							total += approxWidth(len(v.Val))
						case NumberOperand:
							total -= v.Val / 1000
						}
					}
					show(text, total*fontSize, i)
				}
			}
		case "Do":
			if name, ok := op.Name(0); ok {
				// XObjects paint into the unit square mapped by the CTM.
				r := boundingRect(
					point(gs.ctm, 0, 0),
					point(gs.ctm, 1, 0),
					point(gs.ctm, 0, 1),
					point(gs.ctm, 1, 1),
				)
				out.Images = append(out.Images, ImageDraw{Name: name, OpIndex: i, BBox: r})
			}
		}
	}
	// A block left open by a truncated stream still counts.
	flushBlock(len(ops) - 1)
	return out
}

// approxWidth returns the advance for n glyphs in text space units.
func approxWidth(n int) float64 {
	return float64(n) * defaultGlyphWidth / 1000
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func point(m coords.Matrix, x, y float64) [2]float64 {
	p := m.Transform(coords.Point{X: x, Y: y})
	return [2]float64{p.X, p.Y}
}

func operandMatrix(op Operation) (coords.Matrix, bool) {
	if len(op.Operands) != 6 {
		return coords.Matrix{}, false
	}
	var m coords.Matrix
	for i := 0; i < 6; i++ {
		v, ok := op.Float(i)
		if !ok {
			return coords.Matrix{}, false
		}
		m[i] = v
	}
	return m, true
}

func stringOperand(op Operation, i int) ([]byte, bool) {
	if i < 0 || i >= len(op.Operands) {
		return nil, false
	}
	s, ok := op.Operands[i].(StringOperand)
	if !ok {
		return nil, false
	}
	return s.Val, true
}
