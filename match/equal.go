// Package match decides which tags of two captures of the same page are
// "the same" tag and aligns tag sequences across the two documents.
package match

import (
	"slices"

	"github.com/USC-NSL/IMC-25-Artifact/markup"
	"github.com/USC-NSL/IMC-25-Artifact/urltok"
)

// Equal is the cross-document tag identity relation. Rules apply in order
// and the first decisive one wins:
//
//  1. different attribute name sets: not equal
//  2. same non-empty id: equal
//  3. same non-empty set of list-unique attributes: equal
//  4. src attributes naming the same resource modulo build hashes: equal
//  5. identical raw text: equal
//
// Comments are never equal to anything.
func Equal(a, b *markup.Tag) bool {
	if a == nil || b == nil || a.IsComment || b.IsComment {
		return false
	}
	va, vb := a.Attrs(), b.Attrs()
	if !slices.Equal(va.Keys(), vb.Keys()) {
		return false
	}
	if id := a.ID(); id != "" && id == b.ID() {
		return true
	}
	if len(a.UniqueAttrs) > 0 && slices.Equal(a.UniqueAttrs, b.UniqueAttrs) {
		return true
	}
	srcA, okA := va.Get("src")
	srcB, okB := vb.Get("src")
	if okA && okB && urltok.SameResource(srcA, srcB) {
		return true
	}
	return a.Text != "" && a.Text == b.Text
}
