package xmlpath

import (
	"fmt"
	"strings"
	"sync"
)

// Path is a compiled location path. The grammar is a small subset of
// ElementPath: steps separated by "/", a leading "./" is ignored, and "//"
// (or a leading ".//") makes the next step match any descendant. A step is
// "prefix:local" or "local"; an unprefixed step matches only elements
// without a namespace.
type Path struct {
	raw   string
	steps []step
}

type step struct {
	space      string
	local      string
	descendant bool
}

// Compile parses path, resolving prefixes through namespaces.
func Compile(path string, namespaces map[string]string) (*Path, error) {
	rest := strings.TrimSpace(path)
	if rest == "" {
		return nil, fmt.Errorf("empty path")
	}

	descendant := false
	switch {
	case strings.HasPrefix(rest, ".//"):
		descendant = true
		rest = rest[3:]
	case strings.HasPrefix(rest, "//"):
		descendant = true
		rest = rest[2:]
	case strings.HasPrefix(rest, "./"):
		rest = rest[2:]
	}

	var steps []step
	for _, segment := range strings.Split(rest, "/") {
		if segment == "" {
			if descendant {
				return nil, fmt.Errorf("path %q: unexpected ///", path)
			}
			descendant = true
			continue
		}
		if segment == "." {
			continue
		}

		st := step{descendant: descendant, local: segment}
		if prefix, local, ok := strings.Cut(segment, ":"); ok {
			uri, known := namespaces[prefix]
			if !known {
				return nil, fmt.Errorf("path %q: unknown namespace prefix %q", path, prefix)
			}
			st.space, st.local = uri, local
		}
		if st.local == "" {
			return nil, fmt.Errorf("path %q: empty element name", path)
		}
		steps = append(steps, st)
		descendant = false
	}

	if descendant {
		return nil, fmt.Errorf("path %q: trailing //", path)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("path %q selects nothing", path)
	}
	return &Path{raw: path, steps: steps}, nil
}

// MustCompile is like Compile but panics on error. Use it for static tables.
func MustCompile(path string, namespaces map[string]string) *Path {
	p, err := Compile(path, namespaces)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source text of the path.
func (p *Path) String() string {
	return p.raw
}

// Find returns the first element in document order matched by p relative to
// node, or nil.
func (p *Path) Find(node *Node) *Node {
	if node == nil {
		return nil
	}
	return find(node, p.steps)
}

// FindAll returns every element matched by p relative to node, in document order.
func (p *Path) FindAll(node *Node) []*Node {
	if node == nil {
		return nil
	}
	var out []*Node
	seen := map[*Node]bool{}
	collect(node, p.steps, func(n *Node) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	})
	return out
}

func find(node *Node, steps []step) *Node {
	var found *Node
	visitCandidates(node, steps[0], func(candidate *Node) bool {
		if len(steps) == 1 {
			found = candidate
			return true
		}
		found = find(candidate, steps[1:])
		return found != nil
	})
	return found
}

func collect(node *Node, steps []step, emit func(*Node)) {
	visitCandidates(node, steps[0], func(candidate *Node) bool {
		if len(steps) == 1 {
			emit(candidate)
		} else {
			collect(candidate, steps[1:], emit)
		}
		return false
	})
}

// visitCandidates calls visit for each element matching st below node, in
// document order, until visit returns true.
func visitCandidates(node *Node, st step, visit func(*Node) bool) bool {
	for _, child := range node.Children {
		if child.Name.Space == st.space && child.Name.Local == st.local {
			if visit(child) {
				return true
			}
		}
		if st.descendant && visitCandidates(child, st, visit) {
			return true
		}
	}
	return false
}

var compiled sync.Map // "path" -> *Path compiled with DefaultNamespaces

func compileDefault(path string) (*Path, error) {
	if p, ok := compiled.Load(path); ok {
		return p.(*Path), nil
	}
	p, err := Compile(path, DefaultNamespaces)
	if err != nil {
		return nil, err
	}
	compiled.Store(path, p)
	return p, nil
}
