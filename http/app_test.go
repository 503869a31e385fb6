package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hoistd/hoist"
	hoisthttp "github.com/hoistd/hoist/http"
)

// MockBackend is a mock implementation of hoist.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Get(ctx context.Context, id string) (hoist.File, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(hoist.File), args.Error(1)
}

func (m *MockBackend) Upload(ctx context.Context, content io.Reader) (string, error) {
	args := m.Called(ctx, content)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) Presign(ctx context.Context) (*hoist.Presigned, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hoist.Presigned), args.Error(1)
}

// MockProcessor is a mock implementation of hoist.Processor
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, f hoist.File, args []string, format string) (hoist.File, error) {
	called := m.Called(ctx, f, args, format)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).(hoist.File), called.Error(1)
}

func fileOf(content string) hoist.File {
	return io.NopCloser(strings.NewReader(content))
}

type appOption func(*hoisthttp.Config)

func newTestApp(t *testing.T, backend hoist.Backend, processor hoist.Processor, opts ...appOption) (*hoisthttp.App, *hoist.Signer) {
	t.Helper()

	log := slog.New(slog.DiscardHandler)

	backends := map[string]hoist.Backend{}
	if backend != nil {
		backends["cache"] = backend
	}
	processors := map[string]hoist.Processor{}
	if processor != nil {
		processors["resize"] = processor
	}

	signer := hoist.NewSigner("testsecret")
	cfg := hoisthttp.Config{
		Signer:         signer,
		Registry:       hoist.NewRegistry(backends, processors, log),
		UploadBackends: []string{"cache"},
		CacheMaxAge:    3600,
		Logger:         log,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return hoisthttp.NewApp(cfg), signer
}

func signedGet(signer *hoist.Signer, resource string) string {
	return signer.SignedPath(resource)
}

func TestApp_Download(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Get", mock.Anything, "42").Return(fileOf("file bytes"), nil)

	app, signer := newTestApp(t, backend, nil)

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/42/photo.jpg"), nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "file bytes", rec.Body.String())
	assert.Equal(t, `inline; filename="photo.jpg"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public max-age=3600", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("Expires"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))

	backend.AssertExpectations(t)
}

func TestApp_Download_InvalidToken(t *testing.T) {
	backend := new(MockBackend)
	app, _ := newTestApp(t, backend, nil)

	req := httptest.NewRequest(http.MethodGet, "/wrongtoken/cache/42/photo.jpg", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", rec.Body.String())
	backend.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestApp_Download_TokenForOtherPathRejected(t *testing.T) {
	backend := new(MockBackend)
	app, signer := newTestApp(t, backend, nil)

	// valid token, wrong resource
	token := signer.Sign("/cache/42/photo.jpg")
	req := httptest.NewRequest(http.MethodGet, "/"+token+"/cache/43/photo.jpg", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApp_Download_UnknownBackend(t *testing.T) {
	app, signer := newTestApp(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/42/photo.jpg"), nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", rec.Body.String())
}

func TestApp_Download_MissingResource(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Get", mock.Anything, "42").Return(nil, hoist.ErrNotFound)

	app, signer := newTestApp(t, backend, nil)

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/42/photo.jpg"), nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", rec.Body.String())
}

func TestApp_Download_NoSignerSkipsVerification(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Get", mock.Anything, "42").Return(fileOf("x"), nil)

	app, _ := newTestApp(t, backend, nil, func(c *hoisthttp.Config) { c.Signer = nil })

	req := httptest.NewRequest(http.MethodGet, "/anything/cache/42/photo.jpg", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_RouteNotFound(t *testing.T) {
	app, _ := newTestApp(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/too/many/path/segments/here/really", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", rec.Body.String())
}

func TestApp_Head_MatchesGetWithoutBody(t *testing.T) {
	backend := &streamBackend{content: map[string]string{"42": "file bytes"}}

	app, signer := newTestApp(t, backend, nil)
	target := signedGet(signer, "/cache/42/photo.jpg")

	getRec := httptest.NewRecorder()
	app.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, target, nil))

	headRec := httptest.NewRecorder()
	app.ServeHTTP(headRec, httptest.NewRequest(http.MethodHead, target, nil))

	assert.Equal(t, getRec.Code, headRec.Code)
	assert.Equal(t, getRec.Header().Get("Content-Type"), headRec.Header().Get("Content-Type"))
	assert.Equal(t, getRec.Header().Get("Content-Disposition"), headRec.Header().Get("Content-Disposition"))
	assert.Equal(t, getRec.Header().Get("Content-Length"), headRec.Header().Get("Content-Length"))
	assert.Empty(t, headRec.Body.String())
}

func TestApp_Transform_WithArgs(t *testing.T) {
	backend := new(MockBackend)
	source := fileOf("original")
	backend.On("Get", mock.Anything, "42").Return(source, nil)

	// "photo.jpg" hits the dot-extension template, so the requested output
	// format is the extension
	processor := new(MockProcessor)
	processor.On("Process", mock.Anything, source, []string{"200x200"}, "jpg").
		Return(fileOf("resized"), nil)

	app, signer := newTestApp(t, backend, processor)

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/resize/200x200/42/photo.jpg"), nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "resized", rec.Body.String())
	assert.Equal(t, `inline; filename="photo.jpg"`, rec.Header().Get("Content-Disposition"))

	backend.AssertExpectations(t)
	processor.AssertExpectations(t)
}

func TestApp_Transform_MultipleArgs(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Get", mock.Anything, "42").Return(fileOf("original"), nil)

	// a dotless filename falls through to the plain-filename template, so
	// no output format is requested
	processor := new(MockProcessor)
	processor.On("Process", mock.Anything, mock.Anything, []string{"fill", "100", "100"}, "").
		Return(fileOf("filled"), nil)

	app, signer := newTestApp(t, backend, processor)

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/resize/fill/100/100/42/photo"), nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "filled", rec.Body.String())
	processor.AssertExpectations(t)
}

func TestApp_Transform_NoArgsWithExtension(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Get", mock.Anything, "42").Return(fileOf("original"), nil)

	processor := new(MockProcessor)
	processor.On("Process", mock.Anything, mock.Anything, []string{}, "webp").
		Return(fileOf("converted"), nil)

	app, signer := newTestApp(t, backend, processor)

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/resize/42/photo.webp"), nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "converted", rec.Body.String())
	assert.Equal(t, `inline; filename="photo.webp"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	processor.AssertExpectations(t)
}

func TestApp_Transform_UnknownProcessor(t *testing.T) {
	backend := new(MockBackend)
	app, signer := newTestApp(t, backend, nil)

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/resize/200x200/42/photo.jpg"), nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	backend.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestApp_Transform_ProcessorPanicIsTrapped(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Get", mock.Anything, "42").Return(fileOf("original"), nil)

	processor := new(MockProcessor)
	processor.On("Process", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("processor exploded") }).
		Return(nil, nil)

	app, signer := newTestApp(t, backend, processor)

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/resize/200x200/42/photo.jpg"), nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", rec.Body.String())
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestApp_Upload(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Upload", mock.Anything, mock.Anything).Return("id123", nil)

	app, signer := newTestApp(t, backend, nil)

	body, contentType := multipartBody(t, "file", "hello.txt", "upload content")
	req := httptest.NewRequest(http.MethodPost, "/cache", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "id123", resp.ID)

	// the url must be a token-signed attachment path
	resource := "/cache/id123/hello.txt"
	require.True(t, strings.HasSuffix(resp.URL, resource), "url %q", resp.URL)
	token := strings.TrimSuffix(strings.TrimPrefix(resp.URL, "/"), resource)
	assert.True(t, signer.Verify(resource, token))

	backend.AssertExpectations(t)
}

func TestApp_Upload_BackendNotAllowed(t *testing.T) {
	backend := new(MockBackend)
	app, _ := newTestApp(t, backend, nil, func(c *hoisthttp.Config) {
		c.UploadBackends = []string{"store"}
	})

	body, contentType := multipartBody(t, "file", "hello.txt", "upload content")
	req := httptest.NewRequest(http.MethodPost, "/cache", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", rec.Body.String())
	backend.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestApp_Upload_AllAllowsEveryBackend(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Upload", mock.Anything, mock.Anything).Return("id123", nil)

	app, _ := newTestApp(t, backend, nil, func(c *hoisthttp.Config) {
		c.UploadBackends = []string{"all"}
	})

	body, contentType := multipartBody(t, "file", "hello.txt", "x")
	req := httptest.NewRequest(http.MethodPost, "/cache", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_Upload_MissingFileField(t *testing.T) {
	backend := new(MockBackend)
	app, _ := newTestApp(t, backend, nil)

	body, contentType := multipartBody(t, "wrongfield", "hello.txt", "x")
	req := httptest.NewRequest(http.MethodPost, "/cache", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Upload failure error")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestApp_Upload_NotMultipart(t *testing.T) {
	backend := new(MockBackend)
	app, _ := newTestApp(t, backend, nil)

	req := httptest.NewRequest(http.MethodPost, "/cache", strings.NewReader("plain body"))
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Upload failure error")
}

func TestApp_Upload_TooLarge(t *testing.T) {
	backend := new(MockBackend)
	app, _ := newTestApp(t, backend, nil, func(c *hoisthttp.Config) {
		c.MaxUploadSize = 16
	})

	body, contentType := multipartBody(t, "file", "big.bin", strings.Repeat("x", 1024))
	req := httptest.NewRequest(http.MethodPost, "/cache", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "Upload failure error")
	backend.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestApp_Presign(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Presign", mock.Anything).Return(&hoist.Presigned{
		ID:     "newid",
		URL:    "https://bucket.example/upload",
		Method: http.MethodPut,
	}, nil)

	app, _ := newTestApp(t, backend, nil)

	req := httptest.NewRequest(http.MethodGet, "/cache/presign", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got hoist.Presigned
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "newid", got.ID)
	assert.Equal(t, "https://bucket.example/upload", got.URL)
	assert.Equal(t, http.MethodPut, got.Method)
}

func TestApp_Presign_BackendNotAllowed(t *testing.T) {
	backend := new(MockBackend)
	app, _ := newTestApp(t, backend, nil, func(c *hoisthttp.Config) {
		c.UploadBackends = nil
	})

	req := httptest.NewRequest(http.MethodGet, "/cache/presign", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	backend.AssertNotCalled(t, "Presign", mock.Anything)
}

func TestApp_Presign_NotSupportedBackend(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Presign", mock.Anything).Return(nil, fmt.Errorf("presign: %w", hoist.ErrNotSupported))

	app, _ := newTestApp(t, backend, nil)

	req := httptest.NewRequest(http.MethodGet, "/cache/presign", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", rec.Body.String())
}

func TestApp_Options(t *testing.T) {
	app, _ := newTestApp(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/cache", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestApp_CORS_Preflight(t *testing.T) {
	app, _ := newTestApp(t, nil, nil, func(c *hoisthttp.Config) {
		c.AllowedOrigin = "https://example.com"
	})

	req := httptest.NewRequest(http.MethodOptions, "/cache", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Custom")
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestApp_CORS_OnDownload(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Get", mock.Anything, "42").Return(fileOf("x"), nil)

	app, signer := newTestApp(t, backend, nil, func(c *hoisthttp.Config) {
		c.AllowedOrigin = "https://example.com"
	})

	req := httptest.NewRequest(http.MethodGet, signedGet(signer, "/cache/42/photo.jpg"), nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

// streamBackend returns stream-only handles (no local path), forcing the
// dispatcher through the temp spool path.
type streamBackend struct {
	content map[string]string
}

func (s *streamBackend) Get(_ context.Context, id string) (hoist.File, error) {
	c, ok := s.content[id]
	if !ok {
		return nil, hoist.ErrNotFound
	}
	return fileOf(c), nil
}

func (s *streamBackend) Upload(context.Context, io.Reader) (string, error) {
	return "", hoist.ErrNotSupported
}

func (s *streamBackend) Presign(context.Context) (*hoist.Presigned, error) {
	return nil, hoist.ErrNotSupported
}

func TestApp_ConcurrentDownloads_DoNotCollide(t *testing.T) {
	backend := &streamBackend{content: map[string]string{}}
	for i := range 8 {
		backend.content[fmt.Sprintf("id%d", i)] = strings.Repeat(fmt.Sprintf("content-%d ", i), 100)
	}

	app, signer := newTestApp(t, backend, nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("id%d", i)
			resource := fmt.Sprintf("/cache/%s/file.bin", id)

			req := httptest.NewRequest(http.MethodGet, signedGet(signer, resource), nil)
			rec := httptest.NewRecorder()
			app.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, backend.content[id], rec.Body.String())
		}()
	}
	wg.Wait()
}
