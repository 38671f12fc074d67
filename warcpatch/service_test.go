package warcpatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"

	"github.com/USC-NSL/IMC-25-Artifact/batch"
	"github.com/USC-NSL/IMC-25-Artifact/capture"
	"github.com/USC-NSL/IMC-25-Artifact/capture/capturetest"
	"github.com/USC-NSL/IMC-25-Artifact/dbopen"
	"github.com/USC-NSL/IMC-25-Artifact/ledger"
	"github.com/USC-NSL/IMC-25-Artifact/pathsafe"
)

const (
	staticHTML  = `<html><head><script src="/static/app.aHx3.js"></script></head><body><div id="root"></div></body></html>`
	dynamicHTML = `<html><head><script src="/static/app.bZq9.js"></script>` +
		`<script src="/static/extra.js"></script></head><body><div id="root"></div></body></html>`
)

// fixture writes collection "col" with one patchable archive carrying
// recording artifacts, and returns its root.
func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	page := "https://a.example/"
	chunk := "https://a.example/chunk.js"
	capturetest.Write(t, capturetest.Archive{
		Root:          root,
		Collection:    "col",
		Name:          "a.example",
		DynamicSuffix: "js-0",
		StaticSuffix:  "nojs-0",
		Dynamic:       capturetest.Page{URL: page, TS: "20250202000800", HTML: dynamicHTML},
		Static:        capturetest.Page{URL: page, TS: "20250120020200", HTML: staticHTML},
		Extra:         map[string]string{"https://a.example/static/extra.js": "console.log(1)"},
		Artifacts: &capture.Artifacts{
			Fetches: map[string]capture.Fetch{chunk: {URL: chunk, Mime: "application/javascript"}},
			Stacks: []capture.RequestStack{
				{URLs: []string{page}},
				{
					URLs: []string{chunk},
					StackInfo: []capture.StackSegment{{CallFrames: []capture.CallFrame{
						{URL: page, ColumnNumber: strings.Index(dynamicHTML, "extra")},
					}}},
				},
			},
			Textual: map[string]string{page: dynamicHTML},
		},
	})
	return root
}

func counter() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("job_%d", n)
	}
}

func testService(t *testing.T, cfg *Config) *Service {
	t.Helper()
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = fixture(t)
	}
	store := ledger.New(dbopen.OpenMemory(t, dbopen.WithSchema(ledger.Schema)), dbopen.SQLite)
	svc, err := New(cfg, nil, WithLedger(store), WithRunnerOptions(batch.WithIDGenerator(counter())))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestService_PatchCollection(t *testing.T) {
	svc := testService(t, &Config{Collection: "col"})
	ctx := context.Background()

	sum, err := svc.PatchCollection(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 1 || sum.Patched != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	e, err := svc.Job(ctx, "job_1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != ledger.StatusPatched || e.Archive != "a.example" {
		t.Errorf("entry = %+v", e)
	}

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestService_CollectionErrors(t *testing.T) {
	svc := testService(t, &Config{})
	ctx := context.Background()
	if _, err := svc.PatchCollection(ctx, ""); !errors.Is(err, ErrNoCollection) {
		t.Errorf("err = %v, want ErrNoCollection", err)
	}
	if _, err := svc.PatchCollection(ctx, "../col"); !errors.Is(err, pathsafe.ErrInvalidIdentifier) {
		t.Errorf("err = %v, want ErrInvalidIdentifier", err)
	}
	if _, err := svc.PatchArchive(ctx, "col", ".."); !errors.Is(err, pathsafe.ErrInvalidIdentifier) {
		t.Errorf("err = %v, want ErrInvalidIdentifier", err)
	}
}

func TestService_Initiators(t *testing.T) {
	svc := testService(t, &Config{})
	rep, err := svc.Initiators("col/a.example/record-js-0")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{
		"https://a.example/chunk.js": {`<script src="/static/extra.js"></script>`},
	}
	if diff := cmp.Diff(want, rep.Resources); diff != "" {
		t.Errorf("resources mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.Initiators("../../etc/record-js-0"); !errors.Is(err, pathsafe.ErrPathTraversal) {
		t.Errorf("err = %v, want ErrPathTraversal", err)
	}
	if _, err := svc.Initiators("col/a.example/record-nojs-0"); !errors.Is(err, capture.ErrArtifactMissing) {
		t.Errorf("err = %v, want ErrArtifactMissing", err)
	}
}

func TestService_Resources(t *testing.T) {
	svc := testService(t, &Config{})
	d, err := svc.Resources(context.Background(), "col", "a.example")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Missing) != 0 || len(d.Updated) != 1 || d.Updated[0] != "https://a.example/" {
		t.Errorf("diff = %+v", d)
	}
	if _, err := svc.Resources(context.Background(), "col", "b.example"); !errors.Is(err, batch.ErrSkip) {
		t.Errorf("err = %v, want ErrSkip", err)
	}
}

func testRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_Routes(t *testing.T) {
	svc := testService(t, &Config{})
	h := testRouter(svc)

	rec := do(t, h, http.MethodPost, "/api/collections/col/patch", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body)
	}
	var sum batch.Summary
	if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
		t.Fatal(err)
	}
	if sum.Patched != 1 {
		t.Errorf("summary = %+v", sum)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		substr string
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK, `"ok"`},
		{"list", http.MethodGet, "/api/jobs?status=patched", "", http.StatusOK, `"job_1"`},
		{"list bad status", http.MethodGet, "/api/jobs?status=done", "", http.StatusBadRequest, "unknown status"},
		{"list empty", http.MethodGet, "/api/jobs?collection=other", "", http.StatusOK, `[]`},
		{"get", http.MethodGet, "/api/jobs/job_1", "", http.StatusOK, `"a.example"`},
		{"get missing", http.MethodGet, "/api/jobs/nope", "", http.StatusNotFound, "error"},
		{"stats", http.MethodGet, "/api/stats", "", http.StatusOK, `"total":1`},
		{"unknown collection", http.MethodPost, "/api/collections/missing/patch", "", http.StatusNotFound, "error"},
		{"archive", http.MethodPost, "/api/collections/col/archives/a.example/patch", "", http.StatusOK, `"patched"`},
		{"resources", http.MethodGet, "/api/collections/col/archives/a.example/resources", "", http.StatusOK, `"updated":["https://a.example/"]`},
		{"resources skipped", http.MethodGet, "/api/collections/col/archives/zzz/resources", "", http.StatusBadRequest, "no input warc file"},
		{"initiators", http.MethodPost, "/api/initiators", `{"prefix":"col/a.example/record-js-0"}`, http.StatusOK, "chunk.js"},
		{"initiators traversal", http.MethodPost, "/api/initiators", `{"prefix":"../x/record-js-0"}`, http.StatusBadRequest, "traversal"},
		{"initiators bad json", http.MethodPost, "/api/initiators", `{`, http.StatusBadRequest, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d: %s", rec.Code, tt.code, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.substr) {
				t.Errorf("body lacks %q: %s", tt.substr, rec.Body)
			}
		})
	}
}

func TestHTTP_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	svc := testService(t, &Config{HTTP: HTTPConfig{PasswordHash: string(hash)}})
	h := testRouter(svc)

	if rec := do(t, h, http.MethodGet, "/api/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("ops", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("ops", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid password: %d %s", rec.Code, rec.Body)
	}

	// Health stays open.
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health: %d", rec.Code)
	}
}

var testMCPImpl = &mcp.Implementation{Name: "warcpatch-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testMCPImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_Tools(t *testing.T) {
	svc := testService(t, &Config{Collection: "col"})
	session := mcpSession(t, svc)

	text, isErr := mcpCallTool(t, session, "warcpatch_patch_collection", map[string]any{})
	if isErr {
		t.Fatalf("patch collection: %s", text)
	}
	var sum batch.Summary
	if err := json.Unmarshal([]byte(text), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Collection != "col" || sum.Patched != 1 {
		t.Errorf("summary = %+v", sum)
	}

	text, isErr = mcpCallTool(t, session, "warcpatch_patch_collection", map[string]any{"archive": "a.example"})
	if isErr || !strings.Contains(text, `"status":"patched"`) {
		t.Errorf("patch archive: %s", text)
	}

	text, isErr = mcpCallTool(t, session, "warcpatch_list_jobs", map[string]any{"status": "patched"})
	if isErr {
		t.Fatalf("list jobs: %s", text)
	}
	var list struct {
		Jobs  []ledger.Entry `json:"jobs"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	if text, isErr := mcpCallTool(t, session, "warcpatch_list_jobs", map[string]any{"status": "done"}); !isErr {
		t.Errorf("bad status should be a tool error: %s", text)
	}

	text, isErr = mcpCallTool(t, session, "warcpatch_root_initiators", map[string]any{"prefix": "col/a.example/record-js-0"})
	if isErr {
		t.Fatalf("root initiators: %s", text)
	}
	var rep InitiatorReport
	if err := json.Unmarshal([]byte(text), &rep); err != nil {
		t.Fatal(err)
	}
	if got := rep.Resources["https://a.example/chunk.js"]; len(got) != 1 {
		t.Errorf("report = %+v", rep)
	}
}
