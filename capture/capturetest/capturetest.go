// Package capturetest writes archive directory fixtures: a collection's
// dynamic and static WARCs, metadata.json and the recording artifacts.
package capturetest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/USC-NSL/IMC-25-Artifact/capture"
)

// Page is one capture of a page.
type Page struct {
	URL  string
	TS   string
	HTML string
}

// Archive describes one archive of a collection.
type Archive struct {
	Root       string
	Collection string
	Name       string

	DynamicSuffix string
	StaticSuffix  string
	Dynamic       Page
	Static        Page

	// Artifacts, when set, are written for the dynamic capture.
	Artifacts *capture.Artifacts
	// Extra are additional response records (URI → body) appended to both
	// WARCs.
	Extra map[string]string
}

// Paths locates the written fixture files.
type Paths struct {
	WritesDir     string
	DynamicWARC   string
	StaticWARC    string
	DynamicPrefix string
	StaticPrefix  string
}

// ArchivePaths returns the layout for a without writing anything.
func ArchivePaths(a Archive) Paths {
	warcs := filepath.Join(a.Root, "warcs", a.Collection)
	writes := filepath.Join(a.Root, "writes", a.Collection, a.Name)
	return Paths{
		WritesDir:     writes,
		DynamicWARC:   filepath.Join(warcs, a.Name+"_"+a.DynamicSuffix+".warc"),
		StaticWARC:    filepath.Join(warcs, a.Name+"_"+a.StaticSuffix+".static.warc"),
		DynamicPrefix: filepath.Join(writes, capture.DefaultKind+"-"+a.DynamicSuffix),
		StaticPrefix:  filepath.Join(writes, capture.DefaultKind+"-"+a.StaticSuffix),
	}
}

// Write creates every file of a.
func Write(t testing.TB, a Archive) Paths {
	t.Helper()
	p := ArchivePaths(a)
	mkdir(t, filepath.Dir(p.DynamicWARC))
	mkdir(t, p.WritesDir)

	writeFile(t, p.DynamicWARC, WARC(a.Dynamic, a.Extra))
	writeFile(t, p.StaticWARC, WARC(a.Static, a.Extra))

	md := map[string]map[string]map[string]string{
		capture.DefaultKind: {
			a.DynamicSuffix: {"url": a.Dynamic.URL, "ts": a.Dynamic.TS},
			a.StaticSuffix:  {"url": a.Static.URL, "ts": a.Static.TS},
		},
	}
	writeJSON(t, filepath.Join(p.WritesDir, capture.MetadataFile), md)

	if a.Artifacts != nil {
		pre, err := capture.ParsePrefix(p.DynamicPrefix)
		if err != nil {
			t.Fatal(err)
		}
		WriteArtifacts(t, pre, a.Artifacts)
	}
	return p
}

// WriteArtifacts writes the fetch, stack and textual-resource files of a
// capture prefix.
func WriteArtifacts(t testing.TB, p capture.Prefix, a *capture.Artifacts) {
	t.Helper()
	fetches := make([]capture.Fetch, 0, len(a.Fetches))
	for _, f := range a.Fetches {
		fetches = append(fetches, f)
	}
	writeJSON(t, p.ArtifactPath(capture.FetchesName), fetches)
	stacks := a.Stacks
	if stacks == nil {
		stacks = []capture.RequestStack{}
	}
	writeJSON(t, p.ArtifactPath(capture.StacksName), stacks)
	textual := a.Textual
	if textual == nil {
		textual = map[string]string{}
	}
	writeJSON(t, p.ArtifactPath(capture.TextualName), textual)
}

// WARC returns an uncompressed WARC holding a warcinfo record, the page
// response and the extra responses.
func WARC(page Page, extra map[string]string) []byte {
	var b strings.Builder
	b.WriteString(Record("warcinfo", "", "software: capturetest\r\n"))
	b.WriteString(Response(capture.QuotePageURL(page.URL), "text/html; charset=utf-8", page.HTML))
	for uri, body := range extra {
		b.WriteString(Response(uri, "application/octet-stream", body))
	}
	return []byte(b.String())
}

// Response returns a response record carrying body with status 200.
func Response(uri, contentType, body string) string {
	block := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		fmt.Sprintf("Content-Length: %d\r\n", len(body)) +
		"\r\n" + body
	return Record("response", uri, block)
}

// Record returns one WARC record.
func Record(typ, uri, block string) string {
	var b strings.Builder
	b.WriteString("WARC/1.0\r\n")
	b.WriteString("WARC-Type: " + typ + "\r\n")
	if uri != "" {
		b.WriteString("WARC-Target-URI: " + uri + "\r\n")
	}
	b.WriteString("WARC-Date: 2025-02-02T00:08:00Z\r\n")
	b.WriteString("WARC-Record-ID: <urn:uuid:00000000-0000-4000-8000-000000000000>\r\n")
	if typ == "response" {
		b.WriteString("Content-Type: application/http; msgtype=response\r\n")
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(block))
	b.WriteString(block)
	b.WriteString("\r\n\r\n")
	return b.String()
}

func mkdir(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, data)
}
