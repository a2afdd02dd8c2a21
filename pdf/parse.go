package pdf

import (
	"bytes"
	"regexp"
	"strconv"

	"justifai.co/issuance/model"
)

var objHeader = regexp.MustCompile(`(?s)(\d+)[ \t\r\n]+(\d+)[ \t\r\n]+obj\b`)

// Parse reads a PDF byte image into a Document.
//
// Object discovery scans for "N G obj" markers rather than walking the xref
// table, which survives broken offsets, incremental updates, and linearized
// files. Objects parsed later win, matching incremental-update semantics.
func Parse(data []byte) (*Document, error) {
	if !bytes.Contains(data[:min(len(data), 1024)], []byte("%PDF-")) {
		return nil, model.NewError(model.KindPDF, "JF-PDF-001", "missing %PDF header")
	}
	doc := &Document{Objects: make(map[int]any), Trailer: Dict{}, Source: data}

	locs := objHeader.FindAllSubmatchIndex(data, -1)
	skipBefore := 0
	for _, loc := range locs {
		if loc[0] < skipBefore {
			continue
		}
		num, _ := strconv.Atoi(string(data[loc[2]:loc[3]]))
		p := &parser{data: data, pos: loc[1]}
		val, err := p.parseValue()
		if err != nil {
			continue
		}
		doc.Objects[num] = val
		skipBefore = p.pos
	}

	expandObjectStreams(doc)
	parseTrailers(doc, data)

	if _, ok := doc.Trailer["Root"]; !ok {
		if _, ref, ok := doc.Catalog(); ok {
			doc.Trailer["Root"] = ref
		}
	}
	if len(doc.Objects) == 0 {
		return nil, model.NewError(model.KindPDF, "JF-PDF-002", "no indirect objects found")
	}
	return doc, nil
}

func parseTrailers(doc *Document, data []byte) {
	search := data
	base := 0
	for {
		i := bytes.Index(search, []byte("trailer"))
		if i < 0 {
			break
		}
		p := &parser{data: data, pos: base + i + len("trailer")}
		if v, err := p.parseValue(); err == nil {
			if d, ok := v.(Dict); ok {
				// Later trailers win.
				for k, val := range d {
					doc.Trailer[k] = val
				}
			}
		}
		base += i + len("trailer")
		search = data[base:]
	}
}

// expandObjectStreams pulls objects out of /Type /ObjStm streams so that
// cross-reference-stream PDFs parse like classic ones.
func expandObjectStreams(doc *Document) {
	for _, obj := range doc.Objects {
		stm, ok := obj.(*Stream)
		if !ok || stm.Dict["Type"] != Name("ObjStm") {
			continue
		}
		plain, err := DecodeStream(doc, stm)
		if err != nil {
			continue
		}
		n, _ := doc.GetInt(stm.Dict["N"])
		first, _ := doc.GetInt(stm.Dict["First"])
		if n <= 0 || first <= 0 || first > len(plain) {
			continue
		}
		hp := &parser{data: plain, pos: 0}
		type entry struct{ num, off int }
		entries := make([]entry, 0, n)
		for i := 0; i < n; i++ {
			num, ok1 := hp.parseInt()
			off, ok2 := hp.parseInt()
			if !ok1 || !ok2 {
				break
			}
			entries = append(entries, entry{num, off})
		}
		for _, e := range entries {
			if first+e.off >= len(plain) {
				continue
			}
			op := &parser{data: plain, pos: first + e.off}
			if v, err := op.parseValue(); err == nil {
				if _, exists := doc.Objects[e.num]; !exists {
					doc.Objects[e.num] = v
				}
			}
		}
	}
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) eof() bool { return p.pos >= len(p.data) }

func isWS(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (p *parser) skipWS() {
	for !p.eof() {
		c := p.data[p.pos]
		if isWS(c) {
			p.pos++
			continue
		}
		if c == '%' {
			for !p.eof() && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		return
	}
}

func (p *parser) parseInt() (int, bool) {
	p.skipWS()
	start := p.pos
	for !p.eof() && (p.data[p.pos] >= '0' && p.data[p.pos] <= '9') {
		p.pos++
	}
	if p.pos == start {
		return 0, false
	}
	n, err := strconv.Atoi(string(p.data[start:p.pos]))
	return n, err == nil
}

func (p *parser) parseValue() (any, error) {
	p.skipWS()
	if p.eof() {
		return nil, model.NewError(model.KindPDF, "JF-PDF-003", "unexpected end of input")
	}
	c := p.data[p.pos]
	switch {
	case c == '<' && p.pos+1 < len(p.data) && p.data[p.pos+1] == '<':
		return p.parseDictOrStream()
	case c == '<':
		return p.parseHexString()
	case c == '(':
		return p.parseLiteralString()
	case c == '/':
		return p.parseName()
	case c == '[':
		return p.parseArray()
	case c == ']' || c == '>' || c == ')':
		return nil, model.NewError(model.KindPDF, "JF-PDF-004", "unexpected delimiter")
	case c == 't' || c == 'f' || c == 'n':
		return p.parseKeyword()
	default:
		return p.parseNumberOrRef()
	}
}

func (p *parser) parseKeyword() (any, error) {
	start := p.pos
	for !p.eof() && !isWS(p.data[p.pos]) && !isDelim(p.data[p.pos]) {
		p.pos++
	}
	switch string(p.data[start:p.pos]) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	return nil, model.NewError(model.KindPDF, "JF-PDF-005", "unknown keyword")
}

func (p *parser) parseName() (Name, error) {
	p.pos++ // consume '/'
	var out []byte
	for !p.eof() {
		c := p.data[p.pos]
		if isWS(c) || isDelim(c) {
			break
		}
		if c == '#' && p.pos+2 < len(p.data) {
			if v, err := strconv.ParseUint(string(p.data[p.pos+1:p.pos+3]), 16, 8); err == nil {
				out = append(out, byte(v))
				p.pos += 3
				continue
			}
		}
		out = append(out, c)
		p.pos++
	}
	return Name(out), nil
}

func (p *parser) parseNumberOrRef() (any, error) {
	start := p.pos
	for !p.eof() {
		c := p.data[p.pos]
		if (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.' {
			p.pos++
			continue
		}
		break
	}
	tok := string(p.data[start:p.pos])
	if tok == "" {
		p.pos++
		return nil, model.NewError(model.KindPDF, "JF-PDF-006", "unparseable token")
	}
	if !bytes.ContainsAny([]byte(tok), ".") {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, model.WrapError(model.KindPDF, "JF-PDF-006", "unparseable number", err)
		}
		// Lookahead for "G R" making this an indirect reference.
		save := p.pos
		p.skipWS()
		gen, ok := p.parseIntToken()
		if ok {
			p.skipWS()
			if !p.eof() && p.data[p.pos] == 'R' &&
				(p.pos+1 >= len(p.data) || isWS(p.data[p.pos+1]) || isDelim(p.data[p.pos+1])) {
				p.pos++
				return Ref{Num: int(n), Gen: gen}, nil
			}
		}
		p.pos = save
		return n, nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, model.WrapError(model.KindPDF, "JF-PDF-006", "unparseable number", err)
	}
	return f, nil
}

// parseIntToken parses a bare non-negative integer without consuming
// anything on failure.
func (p *parser) parseIntToken() (int, bool) {
	start := p.pos
	for !p.eof() && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, false
	}
	if !p.eof() && !isWS(p.data[p.pos]) && !isDelim(p.data[p.pos]) {
		p.pos = start
		return 0, false
	}
	n, err := strconv.Atoi(string(p.data[start:p.pos]))
	if err != nil {
		p.pos = start
		return 0, false
	}
	return n, true
}

func (p *parser) parseArray() (Array, error) {
	p.pos++ // consume '['
	var out Array
	for {
		p.skipWS()
		if p.eof() {
			return nil, model.NewError(model.KindPDF, "JF-PDF-007", "unterminated array")
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return out, nil
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (p *parser) parseLiteralString() (String, error) {
	p.pos++ // consume '('
	var out []byte
	depth := 1
	for !p.eof() {
		c := p.data[p.pos]
		p.pos++
		switch c {
		case '\\':
			if p.eof() {
				break
			}
			e := p.data[p.pos]
			p.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, e)
			case '\n':
				// line continuation
			case '\r':
				if !p.eof() && p.data[p.pos] == '\n' {
					p.pos++
				}
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && !p.eof(); k++ {
						d := p.data[p.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						p.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return String(out), nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return nil, model.NewError(model.KindPDF, "JF-PDF-008", "unterminated string")
}

func (p *parser) parseHexString() (String, error) {
	p.pos++ // consume '<'
	var digits []byte
	for !p.eof() {
		c := p.data[p.pos]
		p.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			for i := 0; i < len(out); i++ {
				v, err := strconv.ParseUint(string(digits[2*i:2*i+2]), 16, 8)
				if err != nil {
					return nil, model.WrapError(model.KindPDF, "JF-PDF-009", "invalid hex string", err)
				}
				out[i] = byte(v)
			}
			return String(out), nil
		}
		if isWS(c) {
			continue
		}
		digits = append(digits, c)
	}
	return nil, model.NewError(model.KindPDF, "JF-PDF-009", "unterminated hex string")
}

func (p *parser) parseDictOrStream() (any, error) {
	p.pos += 2 // consume '<<'
	dict := Dict{}
	for {
		p.skipWS()
		if p.eof() {
			return nil, model.NewError(model.KindPDF, "JF-PDF-010", "unterminated dictionary")
		}
		if p.data[p.pos] == '>' && p.pos+1 < len(p.data) && p.data[p.pos+1] == '>' {
			p.pos += 2
			break
		}
		if p.data[p.pos] != '/' {
			return nil, model.NewError(model.KindPDF, "JF-PDF-011", "dictionary key must be a name")
		}
		key, err := p.parseName()
		if err != nil {
			return nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		dict[key] = val
	}

	// A following "stream" keyword turns the dict into a stream object.
	save := p.pos
	p.skipWS()
	if bytes.HasPrefix(p.data[p.pos:], []byte("stream")) {
		p.pos += len("stream")
		if !p.eof() && p.data[p.pos] == '\r' {
			p.pos++
		}
		if !p.eof() && p.data[p.pos] == '\n' {
			p.pos++
		}
		start := p.pos
		end := -1
		if n, ok := dict["Length"].(int64); ok && start+int(n) <= len(p.data) {
			cand := start + int(n)
			if hasEndstreamNear(p.data, cand) {
				end = cand
			}
		}
		if end < 0 {
			idx := bytes.Index(p.data[start:], []byte("endstream"))
			if idx < 0 {
				return nil, model.NewError(model.KindPDF, "JF-PDF-012", "unterminated stream")
			}
			end = start + idx
			// Trim the EOL that separates data from the keyword.
			for end > start && (p.data[end-1] == '\n' || p.data[end-1] == '\r') {
				end--
			}
		}
		raw := append([]byte(nil), p.data[start:end]...)
		idx := bytes.Index(p.data[end:], []byte("endstream"))
		if idx < 0 {
			return nil, model.NewError(model.KindPDF, "JF-PDF-012", "unterminated stream")
		}
		p.pos = end + idx + len("endstream")
		return &Stream{Dict: dict, Raw: raw}, nil
	}
	p.pos = save
	return dict, nil
}

func hasEndstreamNear(data []byte, pos int) bool {
	for i := pos; i < pos+4 && i < len(data); i++ {
		if bytes.HasPrefix(data[i:], []byte("endstream")) {
			return true
		}
		if data[i] != '\r' && data[i] != '\n' && data[i] != ' ' {
			return false
		}
	}
	return false
}
