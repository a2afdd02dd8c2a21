// Package pdf implements the minimal PDF object model the issuance pipeline
// needs: parsing a document into indirect objects, attaching embedded files,
// drawing images, rewriting metadata, and extracting everything back out for
// verification.
//
// The parser is deliberately tolerant: real-world certificate PDFs come from
// many producers, so object discovery scans the byte stream for "N G obj"
// markers instead of trusting the xref table. The writer always emits a
// clean single-xref document.
package pdf

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Name is a PDF name object (written with a leading slash).
type Name string

// Ref is an indirect object reference.
type Ref struct {
	Num int
	Gen int
}

// Dict is a PDF dictionary.
type Dict map[Name]any

// Array is a PDF array.
type Array []any

// String is a PDF string object, stored decoded.
type String []byte

// Stream is a stream object. Raw holds the bytes exactly as stored in the
// file (possibly compressed); Dict carries at least /Length and /Filter.
type Stream struct {
	Dict Dict
	Raw  []byte
}

// Document is a parsed PDF: its indirect objects and trailer dictionary.
type Document struct {
	Objects map[int]any
	Trailer Dict
	// Source is the original file image, kept for byte-level heuristics
	// (startxref counting). Nil for documents built in memory.
	Source []byte
	nextID int
}

// Get resolves v one level: references are looked up, everything else is
// returned as-is.
func (d *Document) Get(v any) any {
	if ref, ok := v.(Ref); ok {
		return d.Objects[ref.Num]
	}
	return v
}

// GetDict resolves v to a dictionary, unwrapping references and streams.
func (d *Document) GetDict(v any) (Dict, bool) {
	switch t := d.Get(v).(type) {
	case Dict:
		return t, true
	case *Stream:
		return t.Dict, true
	}
	return nil, false
}

// GetArray resolves v to an array.
func (d *Document) GetArray(v any) (Array, bool) {
	a, ok := d.Get(v).(Array)
	return a, ok
}

// GetStream resolves v to a stream object.
func (d *Document) GetStream(v any) (*Stream, bool) {
	s, ok := d.Get(v).(*Stream)
	return s, ok
}

// GetInt resolves v to an integer.
func (d *Document) GetInt(v any) (int, bool) {
	switch t := d.Get(v).(type) {
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}

// GetNumber resolves v to a float.
func (d *Document) GetNumber(v any) (float64, bool) {
	switch t := d.Get(v).(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// GetString resolves v to string bytes.
func (d *Document) GetString(v any) (String, bool) {
	s, ok := d.Get(v).(String)
	return s, ok
}

// Add inserts a new indirect object and returns its reference.
func (d *Document) Add(obj any) Ref {
	if d.nextID == 0 {
		max := 0
		for n := range d.Objects {
			if n > max {
				max = n
			}
		}
		d.nextID = max + 1
	}
	ref := Ref{Num: d.nextID}
	d.Objects[ref.Num] = obj
	d.nextID++
	return ref
}

// Catalog returns the document catalog dictionary.
func (d *Document) Catalog() (Dict, Ref, bool) {
	if root, ok := d.Trailer["Root"]; ok {
		if ref, ok := root.(Ref); ok {
			if cat, ok := d.GetDict(ref); ok {
				return cat, ref, true
			}
		}
	}
	// Trailer-less or damaged files: scan for the catalog.
	nums := make([]int, 0, len(d.Objects))
	for n := range d.Objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		if dict, ok := d.Objects[n].(Dict); ok {
			if dict["Type"] == Name("Catalog") {
				return dict, Ref{Num: n}, true
			}
		}
	}
	return nil, Ref{}, false
}

// Info returns the document information dictionary, creating it on demand.
func (d *Document) Info() Dict {
	if info, ok := d.GetDict(d.Trailer["Info"]); ok {
		return info
	}
	info := Dict{}
	d.Trailer["Info"] = d.Add(info)
	return info
}

// Pages returns references to the page objects in document order.
func (d *Document) Pages() []Ref {
	cat, _, ok := d.Catalog()
	if !ok {
		return nil
	}
	var out []Ref
	seen := map[int]bool{}
	var walk func(v any)
	walk = func(v any) {
		ref, isRef := v.(Ref)
		if isRef {
			if seen[ref.Num] {
				return
			}
			seen[ref.Num] = true
		}
		node, ok := d.GetDict(v)
		if !ok {
			return
		}
		switch node["Type"] {
		case Name("Pages"):
			if kids, ok := d.GetArray(node["Kids"]); ok {
				for _, kid := range kids {
					walk(kid)
				}
			}
		case Name("Page"):
			if isRef {
				out = append(out, ref)
			}
		}
	}
	walk(cat["Pages"])
	if len(out) == 0 {
		// Fall back to a flat scan in page-number order.
		nums := make([]int, 0, len(d.Objects))
		for n := range d.Objects {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		for _, n := range nums {
			if dict, ok := d.Objects[n].(Dict); ok && dict["Type"] == Name("Page") {
				out = append(out, Ref{Num: n})
			}
		}
	}
	return out
}

// PageSize returns the MediaBox width and height of page index i.
func (d *Document) PageSize(i int) (w, h float64, err error) {
	pages := d.Pages()
	if i < 0 || i >= len(pages) {
		return 0, 0, fmt.Errorf("pdf: page %d out of range", i)
	}
	page, _ := d.GetDict(pages[i])
	box, ok := d.GetArray(page["MediaBox"])
	if !ok {
		// Inheritable attribute; try the parent chain.
		cur := page
		for !ok {
			parent, has := d.GetDict(cur["Parent"])
			if !has {
				break
			}
			box, ok = d.GetArray(parent["MediaBox"])
			cur = parent
		}
	}
	if !ok || len(box) != 4 {
		return 612, 792, nil // US Letter default
	}
	x0, _ := d.GetNumber(box[0])
	y0, _ := d.GetNumber(box[1])
	x1, _ := d.GetNumber(box[2])
	y1, _ := d.GetNumber(box[3])
	return x1 - x0, y1 - y0, nil
}

func writeValue(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		buf.WriteString(strconv.Itoa(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
	case Name:
		buf.WriteByte('/')
		for i := 0; i < len(t); i++ {
			c := t[i]
			if c <= 0x20 || c == '/' || c == '#' || c == '(' || c == ')' || c == '<' || c == '>' || c == '[' || c == ']' {
				fmt.Fprintf(buf, "#%02X", c)
			} else {
				buf.WriteByte(c)
			}
		}
	case Ref:
		fmt.Fprintf(buf, "%d %d R", t.Num, t.Gen)
	case String:
		writeString(buf, t)
	case string:
		writeString(buf, String(t))
	case Array:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeValue(buf, el)
		}
		buf.WriteByte(']')
	case Dict:
		writeDict(buf, t)
	case *Stream:
		t.Dict[Name("Length")] = int64(len(t.Raw))
		writeDict(buf, t.Dict)
		buf.WriteString("\nstream\n")
		buf.Write(t.Raw)
		buf.WriteString("\nendstream")
	default:
		buf.WriteString("null")
	}
}

func writeString(buf *bytes.Buffer, s String) {
	// Hex form for binary payloads, literal form for text.
	binary := false
	for _, c := range s {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
			binary = true
			break
		}
	}
	if binary {
		buf.WriteByte('<')
		for _, c := range s {
			fmt.Fprintf(buf, "%02X", c)
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, c := range s {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}

func writeDict(buf *bytes.Buffer, d Dict) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	buf.WriteString("<<")
	for _, k := range keys {
		buf.WriteByte(' ')
		writeValue(buf, Name(k))
		buf.WriteByte(' ')
		writeValue(buf, d[Name(k)])
	}
	buf.WriteString(" >>")
}

// Write serializes the document as a fresh single-xref PDF.
func (d *Document) Write() []byte {
	nums := make([]int, 0, len(d.Objects))
	for n := range d.Objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make(map[int]int, len(nums))
	for _, n := range nums {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", n)
		writeValue(&buf, d.Objects[n])
		buf.WriteString("\nendobj\n")
	}

	maxNum := 0
	if len(nums) > 0 {
		maxNum = nums[len(nums)-1]
	}
	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= maxNum; n++ {
		if off, ok := offsets[n]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := Dict{}
	for k, v := range d.Trailer {
		trailer[k] = v
	}
	trailer["Size"] = int64(maxNum + 1)
	delete(trailer, "Prev")
	delete(trailer, "XRefStm")
	buf.WriteString("trailer\n")
	writeDict(&buf, trailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefPos)
	return buf.Bytes()
}
