package record

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ContainerInfo carries the container fields a parser extracts for a
// component part (e.g. an article inside a journal issue).
type ContainerInfo struct {
	Title     string
	Volume    string
	Issue     string
	StartPage string
	Reference string
}

// Parser is a format-specific metadata parser. Implementations own the raw
// metadata payload of one record and expose its projection and derived
// values. Format parsers live outside this repository; they plug in through
// RegisterParser.
type Parser interface {
	// Project produces the native map projection of the record.
	Project() (Document, error)

	// XML returns the record metadata serialized as XML, used for the
	// fullrecord field and as transformer input.
	XML() (string, error)

	// Title returns the record's title, used for hierarchy linkage.
	Title() string

	// Container returns the container fields for a component part.
	Container() ContainerInfo

	// MergeComponentParts folds the given component part records into this
	// host record's projection and returns the number of parts merged.
	MergeComponentParts(parts []*Record) (int, error)
}

// Transformer is the optional post-projection hook applied instead of the
// parser's native projection. It typically wraps an XSLT stylesheet run by
// an external engine.
type Transformer interface {
	Transform(xmlRecord string, params map[string]string) (Document, error)
}

// ParserFactory constructs a parser for one record's payload.
type ParserFactory func(format, sourceID, oaiID string, data []byte) (Parser, error)

var (
	parserMu  sync.RWMutex
	factories = map[string]ParserFactory{}
)

// RegisterParser registers a parser factory for a format name. Later
// registrations replace earlier ones.
func RegisterParser(format string, f ParserFactory) {
	parserMu.Lock()
	defer parserMu.Unlock()
	factories[format] = f
}

// NewParser constructs a metadata parser for the record, using the record's
// own format and falling back to defaultFormat when unset. Formats without
// a registered factory use the generic JSON parser.
func NewParser(rec *Record, defaultFormat string) (Parser, error) {
	format := rec.Format
	if format == "" {
		format = defaultFormat
	}
	parserMu.RLock()
	factory, ok := factories[format]
	parserMu.RUnlock()
	if !ok {
		factory = NewJSONParser
	}
	p, err := factory(format, rec.SourceID, rec.OAIID, rec.Data)
	if err != nil {
		return nil, fmt.Errorf("parser for format %q: %w", format, err)
	}
	return p, nil
}

// JSONParser is the generic metadata parser: it treats the raw payload as a
// JSON object of pre-projected fields. It keeps the pipeline usable end to
// end without external format drivers and backs the count-values command.
type JSONParser struct {
	format string
	fields Document
}

// NewJSONParser builds a JSONParser from a JSON object payload. An empty
// payload yields an empty projection.
func NewJSONParser(format, sourceID, oaiID string, data []byte) (Parser, error) {
	fields := Document{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &JSONParser{format: format, fields: fields}, nil
}

// Project returns a copy of the payload fields.
func (p *JSONParser) Project() (Document, error) {
	return p.fields.Clone(), nil
}

// XML serializes the fields as a flat record element with one field element
// per value, in lexical field order.
func (p *JSONParser) XML() (string, error) {
	var b strings.Builder
	b.WriteString(`<record format="`)
	if err := xml.EscapeText(&b, []byte(p.format)); err != nil {
		return "", err
	}
	b.WriteString(`">`)
	fields := make([]string, 0, len(p.fields))
	for k := range p.fields {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for _, v := range Strings(p.fields[field]) {
			b.WriteString(`<field name="`)
			if err := xml.EscapeText(&b, []byte(field)); err != nil {
				return "", err
			}
			b.WriteString(`">`)
			if err := xml.EscapeText(&b, []byte(v)); err != nil {
				return "", err
			}
			b.WriteString(`</field>`)
		}
	}
	b.WriteString(`</record>`)
	return b.String(), nil
}

// Title returns the first title value.
func (p *JSONParser) Title() string {
	values := Strings(p.fields["title"])
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Container extracts the container fields from the payload.
func (p *JSONParser) Container() ContainerInfo {
	first := func(field string) string {
		values := Strings(p.fields[field])
		if len(values) == 0 {
			return ""
		}
		return values[0]
	}
	return ContainerInfo{
		Title:     first(FieldContainerTitle),
		Volume:    first(FieldContainerVolume),
		Issue:     first(FieldContainerIssue),
		StartPage: first(FieldContainerStartPage),
		Reference: first(FieldContainerReference),
	}
}

// MergeComponentParts appends each component part's title to the host's
// contents field.
func (p *JSONParser) MergeComponentParts(parts []*Record) (int, error) {
	merged := 0
	contents := Strings(p.fields["contents"])
	for _, part := range parts {
		sub, err := NewJSONParser(part.Format, part.SourceID, part.OAIID, part.Data)
		if err != nil {
			return merged, err
		}
		if title := sub.Title(); title != "" {
			contents = append(contents, title)
		}
		merged++
	}
	if len(contents) > 0 {
		p.fields["contents"] = contents
	}
	return merged, nil
}
