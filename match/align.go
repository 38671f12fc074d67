package match

import (
	"errors"
	"fmt"

	"github.com/USC-NSL/IMC-25-Artifact/markup"
)

// ErrNoAnchor is returned when the left document has nothing to align
// against and no container to insert into.
var ErrNoAnchor = errors.New("match: no insertion anchor in left document")

// OpKind is the kind of an alignment opcode.
type OpKind int

const (
	OpEqual OpKind = iota
	OpReplace
	OpDelete
	OpInsert
)

func (k OpKind) String() string {
	switch k {
	case OpEqual:
		return "equal"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	case OpInsert:
		return "insert"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Opcode says how left[I1:I2] turns into right[J1:J2].
type Opcode struct {
	Kind   OpKind
	I1, I2 int
	J1, J2 int
}

// Opcodes computes a longest common subsequence of two sequences of
// lengths n and m under eq and returns the edit script as contiguous
// opcodes covering both sequences. Runs of unmatched elements between two
// matches become a single replace, delete or insert.
func Opcodes(n, m int, eq func(i, j int) bool) []Opcode {
	same := make([]bool, n*m)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			same[i*m+j] = eq(i, j)
		}
	}
	// lcs[i][j] is the LCS length of left[i:] and right[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if same[i*m+j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var ops []Opcode
	gapI, gapJ := 0, 0
	flushGap := func(i, j int) {
		switch {
		case gapI < i && gapJ < j:
			ops = append(ops, Opcode{Kind: OpReplace, I1: gapI, I2: i, J1: gapJ, J2: j})
		case gapI < i:
			ops = append(ops, Opcode{Kind: OpDelete, I1: gapI, I2: i, J1: gapJ, J2: j})
		case gapJ < j:
			ops = append(ops, Opcode{Kind: OpInsert, I1: gapI, I2: i, J1: gapJ, J2: j})
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case same[i*m+j] && lcs[i][j] == lcs[i+1][j+1]+1:
			flushGap(i, j)
			if k := len(ops) - 1; k >= 0 && ops[k].Kind == OpEqual && ops[k].I2 == i && ops[k].J2 == j {
				ops[k].I2, ops[k].J2 = i+1, j+1
			} else {
				ops = append(ops, Opcode{Kind: OpEqual, I1: i, I2: i + 1, J1: j, J2: j + 1})
			}
			i, j = i+1, j+1
			gapI, gapJ = i, j
		case lcs[i+1][j] >= lcs[i][j+1]:
			i++
		default:
			j++
		}
	}
	flushGap(n, m)
	return ops
}

// Pair is one aligned unit: a run of left tags and the right tags that
// take their place.
type Pair struct {
	Left  *markup.TagList
	Right *markup.TagList
}

// AlignLists aligns two tag sequences with Equal. Matched tags become
// singleton pairs; each unmatched run becomes one pair. An insertion run
// gets an empty left list anchored to the neighbouring left tags.
func AlignLists(left, right *markup.TagList) []Pair {
	ops := Opcodes(left.Len(), right.Len(), func(i, j int) bool {
		return Equal(left.Tags[i], right.Tags[j])
	})

	var pairs []Pair
	for _, op := range ops {
		switch op.Kind {
		case OpEqual:
			for k := 0; k < op.I2-op.I1; k++ {
				pairs = append(pairs, Pair{
					Left:  left.Slice(op.I1+k, op.I1+k+1),
					Right: right.Slice(op.J1+k, op.J1+k+1),
				})
			}
		case OpReplace, OpDelete:
			pairs = append(pairs, Pair{
				Left:  left.Slice(op.I1, op.I2),
				Right: right.Slice(op.J1, op.J2),
			})
		case OpInsert:
			anchor := &markup.TagList{}
			if op.I1 > 0 {
				anchor.Prev = left.Tags[op.I1-1]
			}
			if op.I1 < left.Len() {
				anchor.Next = left.Tags[op.I1]
			}
			pairs = append(pairs, Pair{Left: anchor, Right: right.Slice(op.J1, op.J2)})
		}
	}
	return pairs
}

type alignConfig struct {
	anchor markup.Predicate
}

// AlignOption configures Align.
type AlignOption func(*alignConfig)

// WithAnchor sets the predicate locating the fallback insertion container
// used when the left document has no selected tags. Default:
// markup.IsBodyContainer.
func WithAnchor(pred markup.Predicate) AlignOption {
	return func(c *alignConfig) { c.anchor = pred }
}

// Align selects tags with pred in both documents and aligns them. When the
// left document has none, a zero-width tag at the start of its first anchor
// container takes the whole right sequence.
func Align(left, right *markup.Index, pred markup.Predicate, opts ...AlignOption) ([]Pair, error) {
	cfg := alignConfig{anchor: markup.IsBodyContainer}
	for _, o := range opts {
		o(&cfg)
	}

	leftSeq, rightSeq := left.MatchTagList(pred), right.MatchTagList(pred)
	if leftSeq.Len() > 0 {
		return AlignLists(leftSeq, rightSeq), nil
	}

	containers := left.MatchTagList(cfg.anchor)
	if containers.Len() == 0 {
		return nil, ErrNoAnchor
	}
	at := containers.Tags[0].Start.Start
	anchor := &markup.Tag{
		Start: markup.Span{Start: at, End: at},
		Full:  markup.Span{Start: at, End: at},
	}
	return []Pair{{Left: &markup.TagList{Tags: []*markup.Tag{anchor}}, Right: rightSeq}}, nil
}

// Split returns the left and right lists of pairs as parallel slices, the
// form Index.ReplaceTags consumes.
func Split(pairs []Pair) (left, right []*markup.TagList) {
	left = make([]*markup.TagList, len(pairs))
	right = make([]*markup.TagList, len(pairs))
	for i, p := range pairs {
		left[i], right[i] = p.Left, p.Right
	}
	return left, right
}
