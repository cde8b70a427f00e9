package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	. "github.com/Incrisz/school-nextjs-sub002/apps/api/echo"
	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/promotion"
	"github.com/Incrisz/school-nextjs-sub002/core/rollover"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
	"github.com/Incrisz/school-nextjs-sub002/services/email"
	"github.com/Incrisz/school-nextjs-sub002/services/export"
	"github.com/Incrisz/school-nextjs-sub002/services/filestore"
	"github.com/Incrisz/school-nextjs-sub002/services/locker"
	"github.com/Incrisz/school-nextjs-sub002/services/spreadsheet"
	"github.com/Incrisz/school-nextjs-sub002/tests"
)

var (
	ctx = context.Background()

	errMissingToken = ErrorResponse{Message: "missing or malformed jwt"}
	errBadToken     = ErrorResponse{Message: "invalid or expired jwt"}
)

type fixture struct {
	store   *testutil.Store
	conf    *core.Config
	metrics *Metrics
	mail    *emailsvc.ConsoleService
	app     *Server
	token   string
}

// setup starts a server on a fresh in-memory store.
func setup(t *testing.T) *fixture {
	store := testutil.NewStore()
	f := &fixture{
		store: store,
		conf: &core.Config{
			TestMode:  true,
			AppName:   "School Admin",
			SecretKey: "test-secret",
			Server:    core.ServerConfig{JWTExpirationDelta: time.Hour},
			Import:    core.ImportConfig{BatchTTL: time.Hour, MaxRows: 100, MaxUploadSize: 1 << 20},
		},
		metrics: NewMetrics(prometheus.NewRegistry()),
		mail:    emailsvc.NewConsoleServiceMock(),
	}

	lck := lockersvc.NewLocalLocker(0)
	imports := studentimport.NewService(&studentimport.ServiceDeps{
		Repo:       store.Batches,
		Periods:    store.Periods,
		Students:   store.Students,
		Tx:         store.DB,
		Locker:     lck,
		Files:      filestore.NewMemoryStore(),
		Decoder:    spreadsheet.NewDecoder(),
		Reporter:   export.CSVExporter{},
		MailSvc:    f.mail,
		Logger:     testutil.Logger(),
		Validate:   store.Validate,
		Translator: store.Translator,
	}, studentimport.Options{BatchTTL: f.conf.Import.BatchTTL, MaxRows: f.conf.Import.MaxRows})

	f.app = NewServer(ServerDeps{
		Conf:       f.conf,
		Logger:     testutil.Logger(),
		Translator: store.Translator,
		Metrics:    f.metrics,
		Periods:    store.Periods,
		Planner:    rollover.NewPlanner(store.Periods, store.Ledger, store.DB, lck, store.Validate),
		Promoter:   promotion.NewEngine(store.Periods, store.Students, store.Overrides, store.Ledger, store.DB, store.Validate),
		Imports:    imports,
		Ledger:     store.Ledger,
		Exporters: Exporters{
			CSV:  export.CSVExporter{},
			PDF:  export.PDFExporter{Author: f.conf.AppName},
			XLSX: spreadsheet.XLSXExporter{},
		},
	})
	f.token = getToken(t, f.conf, testutil.Actor)
	return f
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, req)
	return rec
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// newUploadRequest posts content as the multipart `file` field.
func newUploadRequest(t *testing.T, path, token, filename, content string) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("newUploadRequest(): %v", err)
		}
		if _, err = fw.Write([]byte(content)); err != nil {
			t.Fatalf("newUploadRequest(): %v", err)
		}
	} else if err := mw.WriteField("note", "no file"); err != nil {
		t.Fatalf("newUploadRequest(): %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("newUploadRequest(): %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func getToken(t *testing.T, conf *core.Config, actor core.Actor) string {
	token, err := GenerateToken(NewClaims(actor, conf), conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func unmarshalObj(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), obj); err != nil {
		t.Fatalf("unmarshalObj(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, f *fixture, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.serve(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestHome(t *testing.T) {
	f := setup(t)
	rec := f.serve(newAuthRequest(http.MethodGet, "/", ""))
	if rec.Code != http.StatusOK || rec.Body.String() != "Welcome to the school API!" {
		t.Errorf("home() = %d %q", rec.Code, rec.Body.String())
	}
}
