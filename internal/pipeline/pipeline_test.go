package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsma/record-importer/internal/config"
	"github.com/flowsma/record-importer/internal/diag"
	"github.com/flowsma/record-importer/internal/flowsma"
	"github.com/flowsma/record-importer/internal/parser"
)

// fakeAPI emulates the workspace endpoints with scripted failures.
type fakeAPI struct {
	mu         sync.Mutex
	existing   map[string]int
	saves      []flowsma.RecordPayload
	failSaves  int // fail this many save calls before succeeding
	failStatus int
	recordSave bool // when true, saved records become visible to listings
	nextID     int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{existing: map[string]int{}, failStatus: http.StatusInternalServerError, recordSave: true, nextID: 100}
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			json.NewEncoder(w).Encode(flowsma.LoginResponse{Token: "tok-test", ExpiresIn: 3600})
		case "/getRegistroCabList":
			var q flowsma.ListQuery
			require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			f.mu.Lock()
			var rows []flowsma.Record
			for ref, id := range f.existing {
				if strings.EqualFold(strings.TrimSpace(ref), strings.TrimSpace(q.Pattern)) {
					rows = append(rows, flowsma.Record{ID: id, ReferenceText: ref})
				}
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(flowsma.ListResponse{Rows: rows, Total: len(rows)})
		case "/saveRegistroCab":
			var p flowsma.RecordPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			f.mu.Lock()
			if f.failSaves > 0 {
				f.failSaves--
				status := f.failStatus
				f.mu.Unlock()
				http.Error(w, "save failed", status)
				return
			}
			f.nextID++
			id := f.nextID
			f.saves = append(f.saves, p)
			if f.recordSave {
				f.existing[p.ReferenceText] = id
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(flowsma.SaveResponse{ID: id, Message: "ok"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
}

func (f *fakeAPI) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API: config.APIConfig{
			BaseURL: baseURL, Username: "admin", Password: "s3cret",
			TimeoutSeconds: 5, TokenLifetimeSeconds: 3600, RefreshThresholdSeconds: 60,
		},
		Flow: config.FlowConfig{FlowID: 2, StatusID: 5, StatusFlowID: 9, CurrentUser: 1},
		Batch: config.BatchConfig{
			ChunkSize: 25, MaxConcurrent: 1,
			InterBatchDelayMS: 1, InterRecordDelayMS: 0,
			VerifySettleMS: 1, SnapshotEvery: 10, HeaderMode: "auto", Diagnostics: true,
		},
		Retry: config.RetryConfig{
			MaxRetries: 1, BackoffStrategy: "linear",
			BaseDelayMS: 1, MaxDelayMS: 10, RateLimitFloorMS: 1,
		},
	}
}

func docOf(refs ...string) *parser.Document {
	doc := &parser.Document{Headers: []string{"Comprobante", "Nombre", "Fecha", "Imp Total"}}
	for i, ref := range refs {
		doc.Rows = append(doc.Rows, parser.Row{
			"Comprobante": ref,
			"Nombre":      fmt.Sprintf("Cliente %d", i+1),
			"Fecha":       "05/03/2024",
			"Imp Total":   "1.234,56",
		})
	}
	return doc
}

func runPipeline(t *testing.T, api *fakeAPI, cfg *config.Config, doc *parser.Document) *Result {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	if cfg == nil {
		cfg = testConfig(srv.URL)
	} else {
		cfg.API.BaseURL = srv.URL
	}
	tracker := diag.NewTracker(cfg.Batch.Diagnostics)
	p := New(cfg, flowsma.NewClient(cfg.API), tracker)
	return p.Run(context.Background(), doc)
}

func TestRunImportsAllRows(t *testing.T) {
	api := newFakeAPI()
	res := runPipeline(t, api, nil, docOf("FA-1", "FA-2", "FA-3"))

	assert.False(t, res.Err)
	assert.Equal(t, 3, res.Imported)
	assert.Equal(t, 0, res.Duplicates)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 3, api.saveCount())
	assert.False(t, res.EndTime.IsZero())

	// Mapped payload fields survive the wire
	p := api.saves[0]
	assert.Equal(t, "FA-1", p.ReferenceText)
	assert.Equal(t, "Cliente 1", p.ClientName)
	assert.Equal(t, "2024-03-05", p.DueDate)
	assert.Equal(t, 1234.56, p.TotalPrice)
	assert.Equal(t, 2, p.FlowID)
	assert.Equal(t, 5, p.StatusID)
}

func TestRunSkipsDuplicates(t *testing.T) {
	api := newFakeAPI()
	api.existing["FA-2"] = 77

	res := runPipeline(t, api, nil, docOf("FA-1", "FA-2", "FA-3"))

	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Duplicates)
	require.Len(t, res.DuplicateDetails, 1)
	assert.Equal(t, 2, res.DuplicateDetails[0].Row)
	assert.Equal(t, "FA-2", res.DuplicateDetails[0].Reference)
	assert.Equal(t, 77, res.DuplicateDetails[0].ExistingID)
	assert.Equal(t, 2, api.saveCount())
}

func TestRunCountsFailuresAndContinues(t *testing.T) {
	api := newFakeAPI()
	// Two failures exhaust row 1's budget (initial try + 1 retry)
	api.failSaves = 2

	res := runPipeline(t, api, nil, docOf("FA-1", "FA-2", "FA-3"))

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Imported)
	require.Len(t, res.ErrorDetails, 1)
	assert.Equal(t, 1, res.ErrorDetails[0].Row)
	assert.Equal(t, "FA-1", res.ErrorDetails[0].Reference)
}

func TestRunStopOnFailure(t *testing.T) {
	api := newFakeAPI()
	api.failSaves = 1000

	cfg := testConfig("")
	cfg.Batch.StopOnFailure = true
	res := runPipeline(t, api, cfg, docOf("FA-1", "FA-2", "FA-3"))

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Imported)
	assert.Less(t, res.Processed(), res.TotalRows)
}

func TestRunChunkSizeConservation(t *testing.T) {
	for _, size := range []int{1, 3, 4, 5} {
		t.Run(fmt.Sprintf("chunk_%d", size), func(t *testing.T) {
			api := newFakeAPI()
			cfg := testConfig("")
			cfg.Batch.ChunkSize = size
			res := runPipeline(t, api, cfg, docOf("FA-1", "FA-2", "FA-3", "FA-4"))

			assert.Equal(t, 4, res.Imported+res.Duplicates+res.Failed)
			assert.Equal(t, 4, res.Imported)
		})
	}
}

func TestRunIdempotence(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	cfg := testConfig(srv.URL)
	doc := docOf("FA-1", "FA-2", "FA-3")

	tracker := diag.NewTracker(true)
	p := New(cfg, flowsma.NewClient(cfg.API), tracker)

	first := p.Run(context.Background(), doc)
	assert.Equal(t, 3, first.Imported)

	second := p.Run(context.Background(), doc)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 3, second.Duplicates)
	assert.Equal(t, 3, api.saveCount())
}

func TestRunVerificationFailure(t *testing.T) {
	api := newFakeAPI()
	// Server acknowledges saves but silently drops them
	api.recordSave = false

	cfg := testConfig("")
	cfg.Batch.VerifyAfterInsert = true
	res := runPipeline(t, api, cfg, docOf("FA-1", "FA-2"))

	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 2, res.VerificationsFailed)
	require.Len(t, res.VerificationDetails, 2)
	assert.True(t, res.VerificationDetails[0].Verified)
	assert.False(t, res.VerificationDetails[0].Found)
}

func TestRunVerificationSuccess(t *testing.T) {
	api := newFakeAPI()
	cfg := testConfig("")
	cfg.Batch.VerifyAfterInsert = true
	res := runPipeline(t, api, cfg, docOf("FA-1"))

	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 0, res.VerificationsFailed)
	require.Len(t, res.VerificationDetails, 1)
	assert.True(t, res.VerificationDetails[0].Found)
}

func TestRunEmptyDocument(t *testing.T) {
	api := newFakeAPI()
	res := runPipeline(t, api, nil, &parser.Document{})

	assert.True(t, res.Err)
	assert.Equal(t, 0, res.Processed())
}

func TestRunLoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	tracker := diag.NewTracker(true)
	p := New(cfg, flowsma.NewClient(cfg.API), tracker)

	res := p.Run(context.Background(), docOf("FA-1"))
	assert.True(t, res.Err)
	assert.Contains(t, res.ErrMessage, "login failed")
	assert.Equal(t, 0, res.Imported)
}

func TestRunConcurrentChunks(t *testing.T) {
	api := newFakeAPI()
	cfg := testConfig("")
	cfg.Batch.ChunkSize = 4
	cfg.Batch.MaxConcurrent = 4

	refs := make([]string, 12)
	for i := range refs {
		refs[i] = fmt.Sprintf("FA-%03d", i+1)
	}
	res := runPipeline(t, api, cfg, docOf(refs...))

	assert.Equal(t, 12, res.Imported)
	assert.Equal(t, 12, api.saveCount())
}

func TestRunPublishesProgress(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Batch.SnapshotEvery = 1
	tracker := diag.NewTracker(true)
	p := New(cfg, flowsma.NewClient(cfg.API), tracker)

	res := p.Run(context.Background(), docOf("FA-1", "FA-2"))
	require.False(t, res.Err)

	progress := tracker.Progress()
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 2, progress.Processed)
	assert.Equal(t, 100.0, progress.Percent)
	assert.NotEmpty(t, tracker.Report().Snapshots)
}

func TestBuildPayloadMapping(t *testing.T) {
	row := parser.Row{
		"Comprobante": "FA-0001",
		"Fecha Carga": "05/03/2024",
		"Fecha":       "10/03/2024",
		"Nombre":      "ACME SA",
		"Concepto":    "Venta mensual",
		"Motivo":      "Pedido web",
		"Imp IVA1":    "21,00",
		"Imp Total":   "121,00",
		"Imp Exento":  "0",
		"Imp Gravado": "100,00",
	}
	flow := config.FlowConfig{FlowID: 2, StatusID: 5, StatusFlowID: 9, CurrentUser: 1}

	p := BuildPayload(row, 1, flow)
	assert.Equal(t, "FA-0001", p.ReferenceText)
	assert.Equal(t, "2024-03-05", p.Date)
	assert.Equal(t, "2024-03-10", p.DueDate)
	assert.Equal(t, "ACME SA", p.AdminNotes)
	assert.Equal(t, "ACME SA", p.ClientName)
	assert.Equal(t, "Venta mensual", p.InitialNotes)
	assert.Equal(t, "Venta mensual", p.Description)
	assert.Equal(t, "Pedido web", p.SalesNotes)
	assert.Equal(t, 21.0, p.TotalTax)
	assert.Equal(t, 121.0, p.TotalPrice)
	assert.Equal(t, 0.0, p.VarCN0)
	assert.Equal(t, 100.0, p.VarCN1)
	assert.Equal(t, 9, p.StatusFlowID)
	assert.Equal(t, 1, p.CurrentUser)
}

func TestBuildPayloadDefaults(t *testing.T) {
	p := BuildPayload(parser.Row{}, 7, config.FlowConfig{FlowID: 1, StatusID: 1})

	assert.True(t, strings.HasPrefix(p.ReferenceText, "import-"), "synthetic reference: %s", p.ReferenceText)
	assert.NotEmpty(t, p.Date) // load date defaults to today
	assert.Empty(t, p.DueDate)
	assert.Equal(t, "Sin nombre", p.ClientName)
	assert.Equal(t, "Importación fila 7", p.Description)
	assert.Equal(t, 0.0, p.TotalPrice)
}

func TestBuildPayloadTruncation(t *testing.T) {
	long := strings.Repeat("x", 400)
	row := parser.Row{"Comprobante": long, "Nombre": long, "Concepto": long}

	p := BuildPayload(row, 1, config.FlowConfig{})
	assert.Len(t, p.ReferenceText, flowsma.MaxReferenceLen)
	assert.Len(t, p.AdminNotes, flowsma.MaxNoteLen)
	assert.Len(t, p.ClientName, flowsma.MaxClientNameLen)
	assert.Len(t, p.Description, flowsma.MaxNoteLen)
}

func TestChunkRows(t *testing.T) {
	rows := make([]parser.Row, 7)
	chunks := chunkRows(rows, 3)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].start)
	assert.Len(t, chunks[0].rows, 3)
	assert.Equal(t, 6, chunks[2].start)
	assert.Len(t, chunks[2].rows, 1)

	assert.Len(t, chunkRows(rows, 0), 1)
	assert.Empty(t, chunkRows(nil, 3))
}
