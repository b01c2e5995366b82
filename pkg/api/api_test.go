package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/zeta/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	functions map[string]types.FunctionMetadata
	createErr error
	deleteErr error
	invokeErr error
	invokeOut map[string]any
}

func newFakeService() *fakeService {
	return &fakeService{functions: make(map[string]types.FunctionMetadata)}
}

func (s *fakeService) CreateZeta(ctx context.Context, name, handlerSource string) (types.FunctionMetadata, error) {
	if s.createErr != nil {
		return types.FunctionMetadata{}, s.createErr
	}
	fm := types.FunctionMetadata{Name: name, RunnerImageTag: name + "-runner-image-1"}
	s.functions[name] = fm
	return fm, nil
}

func (s *fakeService) DeleteZeta(ctx context.Context, name string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.functions, name)
	return nil
}

func (s *fakeService) Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	if s.invokeErr != nil {
		return nil, s.invokeErr
	}
	if _, ok := s.functions[name]; !ok {
		return nil, types.NewError(types.KindNotFound, "no such function: "+name)
	}
	return s.invokeOut, nil
}

func (s *fakeService) ListZetas() ([]types.FunctionMetadata, error) {
	var out []types.FunctionMetadata
	for _, fm := range s.functions {
		out = append(out, fm)
	}
	return out, nil
}

func (s *fakeService) GetZeta(name string) (types.FunctionMetadata, error) {
	fm, ok := s.functions[name]
	if !ok {
		return types.FunctionMetadata{}, types.NewError(types.KindNotFound, "no such function: "+name)
	}
	return fm, nil
}

func multipartBody(t *testing.T, fieldName, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestHandleCreateReturns201(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc)

	body, contentType := multipartBody(t, "handler", "function.py", "def main_handler(event): return event")
	req := httptest.NewRequest(http.MethodPost, "/zeta/create/echo", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "Success", env.Status)
	require.NotNil(t, env.ZetaMetadata)
	assert.Equal(t, "echo", env.ZetaMetadata.Name)
}

func TestHandleCreateMissingFileReturns400(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc)

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/zeta/create/echo", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreatePropagatesServiceError(t *testing.T) {
	svc := newFakeService()
	svc.createErr = types.NewError(types.KindInvalidInput, "length needs to be 2 or more")
	srv := NewServer(svc)

	body, contentType := multipartBody(t, "handler", "function.py", "source")
	req := httptest.NewRequest(http.MethodPost, "/zeta/create/x", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetUnknownReturns404(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/zeta/meta/ghost", nil)
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListReturnsAllFunctions(t *testing.T) {
	svc := newFakeService()
	svc.functions["echo"] = types.FunctionMetadata{Name: "echo"}
	svc.functions["greet"] = types.FunctionMetadata{Name: "greet"}
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/zeta/meta", nil)
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out []types.FunctionMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 2)
}

func TestHandleRunSuccess(t *testing.T) {
	svc := newFakeService()
	svc.functions["echo"] = types.FunctionMetadata{Name: "echo"}
	svc.invokeOut = map[string]any{"result": "ok"}
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/zeta/run/echo", bytes.NewBufferString(`{"a":1}`))
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "ok", env.Response["result"])
}

func TestHandleRunUnknownFunctionReturns404(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/zeta/run/ghost", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRunHandlerErrorReturns500(t *testing.T) {
	svc := newFakeService()
	svc.functions["echo"] = types.FunctionMetadata{Name: "echo"}
	svc.invokeErr = types.NewError(types.KindHandlerError, "boom")
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/zeta/run/echo", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleRunWithEmptyBodyIsAccepted(t *testing.T) {
	svc := newFakeService()
	svc.functions["echo"] = types.FunctionMetadata{Name: "echo"}
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/zeta/run/echo", nil)
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDeleteReturns204(t *testing.T) {
	svc := newFakeService()
	svc.functions["echo"] = types.FunctionMetadata{Name: "echo"}
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodDelete, "/zeta/echo", nil)
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleDeletePropagatesError(t *testing.T) {
	svc := newFakeService()
	svc.deleteErr = types.NewError(types.KindStoreError, "db down")
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodDelete, "/zeta/echo", nil)
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpointIsMounted(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
