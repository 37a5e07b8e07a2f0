// Package xmlpath parses XML payloads into a small element tree and
// extracts scalar fields from it with path expressions.
package xmlpath

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HL7Namespace is the namespace of SPL detail documents.
const HL7Namespace = "urn:hl7-org:v3"

// DefaultNamespaces maps path prefixes to namespace URIs.
var DefaultNamespaces = map[string]string{"v3": HL7Namespace}

// Node is one element of a parsed document.
type Node struct {
	Name xml.Name
	// Attrs holds the element's attributes in document order. Namespace
	// declarations are not included.
	Attrs []xml.Attr
	// Text is the character data before the first child element.
	Text     string
	Children []*Node
	Parent   *Node
}

// Attr returns the value of the attribute with the given local name.
func (n *Node) Attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Document is a parsed XML payload.
type Document struct {
	Root *Node
}

// Parse builds a Document from raw. The decoder is strict: it does not
// resolve external entities or fetch DTDs, and unknown entities are errors.
func Parse(raw []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = true

	var root, current *Node

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{Name: t.Name, Parent: current, Attrs: elementAttrs(t.Attr)}
			if current == nil {
				if root != nil {
					return nil, fmt.Errorf("failed to parse xml: multiple root elements")
				}
				root = node
			} else {
				current.Children = append(current.Children, node)
			}
			current = node
		case xml.EndElement:
			if current == nil {
				return nil, fmt.Errorf("failed to parse xml: unexpected end element %s", t.Name.Local)
			}
			current = current.Parent
		case xml.CharData:
			if current != nil && len(current.Children) == 0 {
				current.Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("failed to parse xml: no root element")
	}
	return &Document{Root: root}, nil
}

func elementAttrs(attrs []xml.Attr) []xml.Attr {
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// namespaceLabel renders a namespace URI the way the structure dump shows it.
func namespaceLabel(space string) string {
	switch space {
	case "":
		return "No namespace"
	case HL7Namespace:
		return "v3"
	default:
		return space
	}
}

func qualifiedName(name xml.Name) string {
	switch name.Space {
	case "":
		return name.Local
	case HL7Namespace:
		return "v3:" + name.Local
	default:
		return "{" + name.Space + "}" + name.Local
	}
}

// Structure renders a forensic dump of doc: one line per non-empty text
// node and per attribute, depth first in document order.
func Structure(doc *Document) string {
	if doc == nil || doc.Root == nil {
		return ""
	}

	var lines []string
	var walk func(n *Node, parentPath string)
	walk = func(n *Node, parentPath string) {
		path := parentPath + "/" + qualifiedName(n.Name)
		ns := namespaceLabel(n.Name.Space)

		if text := strings.TrimSpace(n.Text); text != "" {
			lines = append(lines, fmt.Sprintf("TAG: %s, VALUE: %s - Namespace: %s - absolute xpath: %s, attrib: None",
				n.Name.Local, text, ns, path))
		}
		for _, a := range n.Attrs {
			lines = append(lines, fmt.Sprintf("TAG: %s, VALUE: %s - Namespace: %s - absolute xpath: %s, attrib: %s",
				n.Name.Local, a.Value, ns, path, a.Name.Local))
		}
		for _, child := range n.Children {
			walk(child, path)
		}
	}
	walk(doc.Root, "")

	return strings.Join(lines, "\n")
}
