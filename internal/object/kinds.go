package object

import (
	"encoding/json"
	"fmt"
)

// LogEntry is a free-form log line, the canonical ingest kind for raw
// honeypot/application log text.
type LogEntry struct {
	Base
	Source string
	Line   string
}

func (o *LogEntry) Kind() Kind { return KindLogEntry }
func (o *LogEntry) String() string {
	return fmt.Sprintf("LogEntry(source=%s, line=%s)", o.Source, truncate(o.Line, 80))
}
func (o *LogEntry) Clone() Object {
	c := *o
	return &c
}

// JSONRecord is a generic decoded JSON document, e.g. one line of a JSON
// log file.
type JSONRecord struct {
	Base
	Source string
	Fields map[string]any
}

func (o *JSONRecord) Kind() Kind { return KindJSONRecord }
func (o *JSONRecord) String() string {
	b, _ := json.Marshal(o.Fields)
	return fmt.Sprintf("JSONRecord(source=%s, fields=%s)", o.Source, truncate(string(b), 120))
}
func (o *JSONRecord) Clone() Object {
	c := *o
	c.Fields = make(map[string]any, len(o.Fields))
	for k, v := range o.Fields {
		c.Fields[k] = v
	}
	return &c
}

// FluentdRecord is a JSONRecord variant carrying the Fluentd forward
// protocol's Type discriminator (e.g. "cowrie", "glastopf", "echo_and_log").
type FluentdRecord struct {
	JSONRecord
	Type string
}

func (o *FluentdRecord) Kind() Kind { return KindFluentdRecord }
func (o *FluentdRecord) String() string {
	b, _ := json.Marshal(o.Fields)
	return fmt.Sprintf("FluentdRecord(type=%s, source=%s, fields=%s)", o.Type, o.Source, truncate(string(b), 120))
}
func (o *FluentdRecord) Clone() Object {
	c := *o
	c.Fields = make(map[string]any, len(o.Fields))
	for k, v := range o.Fields {
		c.Fields[k] = v
	}
	return &c
}

// URLRef is a URL extracted from some other object.
type URLRef struct {
	Base
	URL string
}

func (o *URLRef) Kind() Kind          { return KindURLRef }
func (o *URLRef) String() string      { return fmt.Sprintf("URLRef(url=%s)", o.URL) }
func (o *URLRef) Clone() Object {
	c := *o
	return &c
}

// BinaryBlob is raw binary content not yet attributed to a download, e.g.
// an attachment pulled straight out of a log record.
type BinaryBlob struct {
	Base
	Source string
	Data   []byte
}

func (o *BinaryBlob) Kind() Kind { return KindBinaryBlob }
func (o *BinaryBlob) String() string {
	return fmt.Sprintf("BinaryBlob(source=%s, bytes=%d)", o.Source, len(o.Data))
}
func (o *BinaryBlob) Clone() Object {
	c := *o
	c.Data = append([]byte(nil), o.Data...)
	return &c
}

// DownloadedBlob is the result of fetching a URLRef: the raw bytes plus
// provenance (URL, user-agents that produced an identical digest, content
// digest, and a detected filetype label).
type DownloadedBlob struct {
	Base
	URL         string
	UserAgents  []string
	SHA256      string
	Filetype    string
	Data        []byte
}

func (o *DownloadedBlob) Kind() Kind { return KindDownloadedBlob }
func (o *DownloadedBlob) String() string {
	return fmt.Sprintf("DownloadedBlob(url=%s, sha256=%s, filetype=%s, bytes=%d)",
		o.URL, o.SHA256, o.Filetype, len(o.Data))
}
func (o *DownloadedBlob) Clone() Object {
	c := *o
	c.UserAgents = append([]string(nil), o.UserAgents...)
	c.Data = append([]byte(nil), o.Data...)
	return &c
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
