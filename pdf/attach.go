package pdf

import (
	"sort"
	"unicode/utf16"

	"justifai.co/issuance/model"
)

// EmbeddedFile is a named file attachment recovered from (or destined for)
// a PDF.
type EmbeddedFile struct {
	Name string
	Mime string
	Data []byte
}

// AttachFile embeds data as a named file attachment, registering it in the
// catalog's EmbeddedFiles name tree and the /AF array.
func (d *Document) AttachFile(name, mime string, data []byte) error {
	cat, catRef, ok := d.Catalog()
	if !ok {
		return errNoCatalog()
	}

	ef := NewFlateStream(data, Dict{
		Name("Type"):    Name("EmbeddedFile"),
		Name("Subtype"): mimeName(mime),
		Name("Params"):  Dict{Name("Size"): int64(len(data))},
	})
	efRef := d.Add(ef)

	fs := Dict{
		Name("Type"): Name("Filespec"),
		Name("F"):    String(name),
		Name("UF"):   utf16String(name),
		Name("EF"):   Dict{Name("F"): efRef, Name("UF"): efRef},
	}
	fsRef := d.Add(fs)

	// Names -> EmbeddedFiles name tree. Flatten any existing tree into one
	// sorted leaf; writers that re-attach repeatedly stay canonical.
	names, _ := d.GetDict(cat["Names"])
	if names == nil {
		names = Dict{}
	}
	existing := d.embeddedFilesFromNameTree()
	type entry struct {
		key string
		ref any
	}
	entries := make([]entry, 0, len(existing)+1)
	for _, e := range existing {
		entries = append(entries, entry{e.name, e.filespec})
	}
	entries = append(entries, entry{name, fsRef})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	var flat Array
	for _, e := range entries {
		flat = append(flat, String(e.key), e.ref)
	}
	names[Name("EmbeddedFiles")] = Dict{Name("Names"): flat}
	cat["Names"] = names

	// Associated-files array on the catalog.
	af, _ := d.GetArray(cat["AF"])
	cat["AF"] = append(af, fsRef)

	d.Objects[catRef.Num] = cat
	return nil
}

func mimeName(mime string) Name {
	// MIME type as a PDF name, slash escaped per the name encoding rules.
	return Name(mime)
}

func utf16String(s string) String {
	enc := utf16.Encode([]rune(s))
	out := make([]byte, 2+2*len(enc))
	out[0], out[1] = 0xFE, 0xFF
	for i, u := range enc {
		out[2+2*i] = byte(u >> 8)
		out[3+2*i] = byte(u)
	}
	return String(out)
}

// DecodeTextString decodes a PDF text string: UTF-16BE with BOM, else
// PDFDocEncoding treated as latin-1-compatible bytes.
func DecodeTextString(s String) string {
	b := []byte(s)
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	return string(b)
}

type treeEntry struct {
	name     string
	filespec any
}

// embeddedFilesFromNameTree walks Names -> EmbeddedFiles, recursing through
// Kids, returning name/filespec pairs in tree order.
func (d *Document) embeddedFilesFromNameTree() []treeEntry {
	cat, _, ok := d.Catalog()
	if !ok {
		return nil
	}
	names, ok := d.GetDict(cat["Names"])
	if !ok {
		return nil
	}
	root, ok := d.GetDict(names["EmbeddedFiles"])
	if !ok {
		return nil
	}
	var out []treeEntry
	seen := map[int]bool{}
	var walk func(node Dict)
	walk = func(node Dict) {
		if pairs, ok := d.GetArray(node["Names"]); ok {
			for i := 0; i+1 < len(pairs); i += 2 {
				key, _ := d.GetString(pairs[i])
				out = append(out, treeEntry{DecodeTextString(key), pairs[i+1]})
			}
		}
		if kids, ok := d.GetArray(node["Kids"]); ok {
			for _, kid := range kids {
				if ref, isRef := kid.(Ref); isRef {
					if seen[ref.Num] {
						continue
					}
					seen[ref.Num] = true
				}
				if child, ok := d.GetDict(kid); ok {
					walk(child)
				}
			}
		}
	}
	walk(root)
	return out
}

// EmbeddedFiles recovers every file attachment it can find, searching in
// order: the EmbeddedFiles name tree, the catalog /AF array, page-level
// FileAttachment annotations, and finally a full object scan for Filespec
// dictionaries. Duplicates (same name, same bytes) collapse.
func (d *Document) EmbeddedFiles() []EmbeddedFile {
	var specs []any
	for _, e := range d.embeddedFilesFromNameTree() {
		specs = append(specs, e.filespec)
	}
	if cat, _, ok := d.Catalog(); ok {
		if af, ok := d.GetArray(cat["AF"]); ok {
			specs = append(specs, af...)
		}
	}
	for _, pageRef := range d.Pages() {
		page, _ := d.GetDict(pageRef)
		if annots, ok := d.GetArray(page["Annots"]); ok {
			for _, a := range annots {
				annot, ok := d.GetDict(a)
				if !ok {
					continue
				}
				if annot["Subtype"] == Name("FileAttachment") {
					if fs, ok := annot["FS"]; ok {
						specs = append(specs, fs)
					}
				}
			}
		}
	}
	// Full scan, ordered for determinism.
	nums := make([]int, 0, len(d.Objects))
	for n := range d.Objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		if dict, ok := d.Objects[n].(Dict); ok {
			_, hasEF := dict["EF"]
			if dict["Type"] == Name("Filespec") || hasEF {
				specs = append(specs, Ref{Num: n})
			}
		}
	}

	var out []EmbeddedFile
	dedup := map[string]bool{}
	for _, spec := range specs {
		ef, ok := d.extractFilespec(spec)
		if !ok {
			continue
		}
		key := ef.Name + "\x00" + string(ef.Data)
		if dedup[key] {
			continue
		}
		dedup[key] = true
		out = append(out, ef)
	}
	return out
}

func (d *Document) extractFilespec(spec any) (EmbeddedFile, bool) {
	fs, ok := d.GetDict(spec)
	if !ok {
		return EmbeddedFile{}, false
	}
	var name string
	if uf, ok := d.GetString(fs["UF"]); ok {
		name = DecodeTextString(uf)
	}
	if name == "" {
		if f, ok := d.GetString(fs["F"]); ok {
			name = DecodeTextString(f)
		}
	}
	ef, ok := d.GetDict(fs["EF"])
	if !ok {
		return EmbeddedFile{}, false
	}
	streamVal, ok := ef["F"]
	if !ok {
		streamVal = ef["UF"]
	}
	stm, ok := d.GetStream(streamVal)
	if !ok {
		return EmbeddedFile{}, false
	}
	data, err := DecodeStream(d, stm)
	if err != nil {
		return EmbeddedFile{}, false
	}
	mime := ""
	if sub, ok := stm.Dict["Subtype"].(Name); ok {
		mime = string(sub)
	}
	return EmbeddedFile{Name: name, Mime: mime, Data: data}, true
}

// FindAttachment returns the first embedded file for which match reports
// true.
func (d *Document) FindAttachment(match func(name string, data []byte) bool) (EmbeddedFile, bool) {
	for _, ef := range d.EmbeddedFiles() {
		if match(ef.Name, ef.Data) {
			return ef, true
		}
	}
	return EmbeddedFile{}, false
}

func errNoCatalog() error {
	return model.NewError(model.KindPDF, "JF-PDF-030", "document has no catalog")
}
