package core

// Ref is an opaque handle to a runtime-managed object.
// The zero value is the null reference.
type Ref uint64

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool {
	return r == 0
}

// RefVisitor is called once per live reference owned by a structure being scanned.
//
// Visitors receive a pointer so that a moving collector can relocate the
// reference in place. A visitor that writes through the pointer must only be
// run while a global pause is in progress.
type RefVisitor interface {
	VisitRef(ref *Ref)
}

// RefVisitorFunc adapts a plain function to RefVisitor.
type RefVisitorFunc func(ref *Ref)

// VisitRef calls f(ref).
func (f RefVisitorFunc) VisitRef(ref *Ref) {
	f(ref)
}
