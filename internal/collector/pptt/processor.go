package pptt

// processor record field offsets
const (
	procFlagsOffset         = 4
	procParentOffset        = 8
	procACPIIDOffset        = 12
	procResourceCountOffset = 16
	procResourcesOffset     = 20
)

// processor node flags
const (
	flagPhysicalPackage  uint32 = 1 << 0
	flagProcessorIDValid uint32 = 1 << 1
)

// ProcessorNode is a view of one processor record. Equal values name
// the same record within one acquisition; the zero value is not a
// valid node.
type ProcessorNode struct {
	node
}

// Offset is the record's byte position inside the table. It identifies
// the node for the duration of one acquisition and doubles as the
// synthetic grouping tag for non-leaf topology levels.
func (p ProcessorNode) Offset() int {
	return p.off
}

// ACPIProcessorID is the processor id firmware assigned to this node.
// Only meaningful on leaf nodes.
func (p ProcessorNode) ACPIProcessorID() uint32 {
	return p.t.dwordAt(p.off + procACPIIDOffset)
}

func (p ProcessorNode) flags() uint32 {
	return p.t.dwordAt(p.off + procFlagsOffset)
}

func (p ProcessorNode) parentRef() int {
	return int(p.t.dwordAt(p.off + procParentOffset))
}

func (p ProcessorNode) privateResourceCount() int {
	return int(p.t.dwordAt(p.off + procResourceCountOffset))
}

// processorAt resolves a reference as a processor view. The record kind
// is not checked: parent links are taken at face value once the record
// envelope fits.
func (t *Table) processorAt(ref int) (ProcessorNode, bool) {
	n, ok := t.subtableAt(ref)
	if !ok {
		return ProcessorNode{}, false
	}
	return ProcessorNode{n}, true
}

// parentOf resolves the node's parent link; absent at the root, where
// the parent reference is the 0 sentinel.
func (t *Table) parentOf(p ProcessorNode) (ProcessorNode, bool) {
	return t.processorAt(p.parentRef())
}

// isLeafNode reports whether no other processor record names this node
// as its parent. Leafness is structural; the id-valid flag is not
// consulted because firmware does not set it reliably on leaves.
func (t *Table) isLeafNode(p ProcessorNode) bool {
	leaf := true
	t.scanRecords(func(n node) bool {
		if n.kind() == typeProcessor && int(t.dwordAt(n.off+procParentOffset)) == p.off {
			leaf = false
			return false
		}
		return true
	})
	return leaf
}

// findProcessorNode locates the leaf processor record carrying the
// given acpi processor id. Ids on non-leaf nodes are skipped; the first
// match in table order wins.
func (t *Table) findProcessorNode(acpiID uint32) (ProcessorNode, bool) {
	var found ProcessorNode
	var ok bool
	t.scanRecords(func(n node) bool {
		if n.kind() != typeProcessor {
			return true
		}
		p := ProcessorNode{n}
		if p.ACPIProcessorID() == acpiID && t.isLeafNode(p) {
			found, ok = p, true
			return false
		}
		return true
	})
	return found, ok
}
