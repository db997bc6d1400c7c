package document

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/pon"
)

// XMLHeader starts every dump.
const XMLHeader = `<?xml version="1.1" encoding="UTF-8"?>`

// Warning is a non-fatal problem found while loading a document.
type Warning struct {
	Entity   pon.EntityID
	TypeName string
	Property string
	Err      error
}

func (w Warning) String() string {
	switch {
	case w.Property != "":
		return fmt.Sprintf("property %s of %s #%d: %v", w.Property, w.TypeName, w.Entity, w.Err)
	case w.TypeName != "":
		return fmt.Sprintf("entity %s: %v", w.TypeName, w.Err)
	}
	return w.Err.Error()
}

// Load reads a document from its XML form. Loading is tolerant: bad
// attributes and trailing garbage become warnings and the rest of the
// document is still loaded. Only read failures are errors.
func Load(registry *eval.Registry, r io.Reader, opts ...Option) (*Document, []Warning, error) {
	d := New(registry, opts...)
	warnings, err := d.LoadInto(pon.NoEntity, r)
	if err != nil {
		return nil, warnings, err
	}
	return d, warnings, nil
}

// LoadString is Load for in-memory text.
func LoadString(registry *eval.Registry, text string, opts ...Option) (*Document, []Warning, error) {
	return Load(registry, strings.NewReader(text), opts...)
}

// MustLoadString is LoadString for fixtures known to be valid. It
// panics on any warning.
func MustLoadString(registry *eval.Registry, text string) *Document {
	d, warnings, err := LoadString(registry, text)
	if err != nil {
		panic(err)
	}
	if len(warnings) > 0 {
		panic(warnings[0].String())
	}
	return d
}

type pendingEntity struct {
	id       pon.EntityID
	typeName string
	attrs    []xml.Attr
}

// LoadInto appends the entities of an XML document under parent. With
// parent NoEntity the top element becomes the root.
//
// Entities are created first and their properties set afterwards, so
// dependency references may point at entities later in the text.
func (d *Document) LoadInto(parent pon.EntityID, r io.Reader) ([]Warning, error) {
	if parent != pon.NoEntity && !d.Exists(parent) {
		return nil, &Error{Code: ErrCodeInvalidParent, Entity: parent}
	}
	return d.load(parent, r, false)
}

// Reload replaces the content of the document with r while keeping the
// root entity and its id. The root's children and non-volatile
// properties are dropped, then the top element of r is mapped onto the
// root: its attributes become root properties and its children are
// created under it. Open streams see the change as ordinary removals,
// additions and property sets.
func (d *Document) Reload(r io.Reader) ([]Warning, error) {
	if d.root == pon.NoEntity {
		return d.load(pon.NoEntity, r, false)
	}
	if err := d.ClearChildren(d.root); err != nil {
		return nil, err
	}
	for _, key := range d.bus.Keys(d.root) {
		if d.bus.IsVolatile(pon.NewPropRef(d.root, key)) {
			continue
		}
		d.RemoveProperty(d.root, key)
	}
	return d.load(pon.NoEntity, r, true)
}

func (d *Document) load(parent pon.EntityID, r io.Reader, reuseRoot bool) ([]Warning, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	dec := xml.NewDecoder(bytes.NewReader(downgradeProlog(data)))
	dec.Strict = false

	var (
		warnings []Warning
		created  []pendingEntity
		stack    []pon.EntityID
		skip     int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var syntax *xml.SyntaxError
			if errors.As(err, &syntax) {
				warnings = append(warnings, Warning{Err: &Error{Code: ErrCodeParseError, Err: err}})
				break
			}
			return warnings, fmt.Errorf("read document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if skip > 0 {
				skip++
				continue
			}
			at := parent
			if len(stack) > 0 {
				at = stack[len(stack)-1]
			}
			if reuseRoot && at == pon.NoEntity {
				reuseRoot = false
				root := d.entities[d.root]
				if root.TypeName != t.Name.Local {
					warnings = append(warnings, Warning{Entity: root.ID, TypeName: t.Name.Local,
						Err: fmt.Errorf("top element %s loaded into root %s", t.Name.Local, root.TypeName)})
				}
				created = append(created, pendingEntity{id: root.ID, typeName: root.TypeName, attrs: t.Attr})
				stack = append(stack, root.ID)
				continue
			}
			if at == pon.NoEntity && d.root != pon.NoEntity {
				warnings = append(warnings, Warning{TypeName: t.Name.Local, Err: errors.New("document already has a root")})
				skip = 1
				continue
			}
			name := ""
			for _, a := range t.Attr {
				if a.Name.Local == NameProperty {
					name = a.Value
				}
			}
			id, err := d.AppendEntity(at, t.Name.Local, name)
			if err != nil {
				warnings = append(warnings, Warning{Entity: id, TypeName: t.Name.Local, Err: err})
				if id == pon.NoEntity {
					skip = 1
					continue
				}
			}
			created = append(created, pendingEntity{id: id, typeName: t.Name.Local, attrs: t.Attr})
			stack = append(stack, id)

		case xml.EndElement:
			if skip > 0 {
				skip--
				continue
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	for _, p := range created {
		for _, a := range p.attrs {
			key := a.Name.Local
			if key == NameProperty {
				if p.id == d.root && a.Value != "" {
					if err := d.SetProperty(p.id, key, pon.String(a.Value), false); err != nil {
						warnings = append(warnings, Warning{Entity: p.id, TypeName: p.typeName, Property: key, Err: err})
					}
				}
				continue
			}
			w := Warning{Entity: p.id, TypeName: p.typeName, Property: key}
			expr, err := pon.Parse(a.Value)
			if err != nil {
				w.Err = &Error{Code: ErrCodeParseError, Entity: p.id, Property: key, Message: fmt.Sprintf("%q", a.Value), Err: err}
				warnings = append(warnings, w)
				continue
			}
			if err := d.SetProperty(p.id, key, expr, false); err != nil {
				w.Err = err
				warnings = append(warnings, w)
			}
		}
	}

	if len(warnings) > 0 {
		slog.Warn("warnings while loading document", "count", len(warnings))
		for _, w := range warnings {
			slog.Warn("document load", "warning", w.String())
		}
	}
	return warnings, nil
}

// downgradeProlog rewrites an XML 1.1 declaration to 1.0, the only
// version encoding/xml accepts. Dumps declare 1.1.
func downgradeProlog(data []byte) []byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return data
	}
	end := bytes.Index(trimmed, []byte("?>"))
	if end < 0 {
		return data
	}
	prolog := trimmed[:end]
	fixed := bytes.Replace(prolog, []byte(`version="1.1"`), []byte(`version="1.0"`), 1)
	fixed = bytes.Replace(fixed, []byte(`version='1.1'`), []byte(`version='1.0'`), 1)
	return append(fixed, trimmed[end:]...)
}

// ============================================================================
// Dump
// ============================================================================

var attrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"\n", "&#xA;",
	"\r", "&#xD;",
	"\t", "&#x9;",
)

// WriteXML writes the document as indented XML. Attributes are the
// stringified property expressions, "name" first and the rest sorted.
func (d *Document) WriteXML(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(XMLHeader)
	bw.WriteByte('\n')
	if d.root != pon.NoEntity {
		d.writeEntity(bw, d.root, 0)
	}
	return bw.Flush()
}

// XML returns the dump as a string.
func (d *Document) XML() (string, error) {
	var b strings.Builder
	if err := d.WriteXML(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// EntityXML returns the dump of one subtree without the header.
func (d *Document) EntityXML(id pon.EntityID) (string, error) {
	if !d.Exists(id) {
		return "", noSuchEntity(id)
	}
	var b strings.Builder
	bw := bufio.NewWriter(&b)
	d.writeEntity(bw, id, 0)
	if err := bw.Flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (d *Document) writeEntity(w *bufio.Writer, id pon.EntityID, depth int) {
	e := d.entities[id]
	indent := strings.Repeat("  ", depth)
	w.WriteString(indent)
	w.WriteByte('<')
	w.WriteString(e.TypeName)
	if e.Name != "" {
		writeAttr(w, NameProperty, e.Name)
	}
	for _, key := range d.bus.Keys(id) {
		if key == NameProperty {
			continue
		}
		expr, ok := d.PropertyExpression(id, key)
		if !ok {
			continue
		}
		writeAttr(w, key, pon.Stringify(expr))
	}
	if len(e.Children) == 0 {
		w.WriteString(" />\n")
		return
	}
	w.WriteString(">\n")
	for _, c := range e.Children {
		d.writeEntity(w, c, depth+1)
	}
	w.WriteString(indent)
	w.WriteString("</")
	w.WriteString(e.TypeName)
	w.WriteString(">\n")
}

func writeAttr(w *bufio.Writer, key, value string) {
	w.WriteByte(' ')
	w.WriteString(key)
	w.WriteString(`="`)
	attrEscaper.WriteString(w, value)
	w.WriteByte('"')
}
