package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/app"
	"docqa/internal/model"
	"docqa/internal/pkg/jwtutil"
	"docqa/internal/rag"
)

const testSecret = "router-test-secret"

type fakeDocuments struct {
	uploads []app.UploadInput
	err     error
}

func (f *fakeDocuments) Upload(_ context.Context, input app.UploadInput) (*model.Document, error) {
	f.uploads = append(f.uploads, input)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Document{ID: "doc-1", File: input.Filename, Status: model.DocumentStatusReady}, nil
}

func (f *fakeDocuments) Status(_ context.Context, file string, _ uint) (*model.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Document{File: file, Status: model.DocumentStatusReady, ChunkCount: 3}, nil
}

type fakeQA struct {
	asked []app.AskInput
	err   error
}

func (f *fakeQA) Ask(_ context.Context, input app.AskInput) (*app.AskResult, error) {
	f.asked = append(f.asked, input)
	if f.err != nil {
		return nil, f.err
	}
	return &app.AskResult{
		Answer:             "It is about Apollo.",
		StandaloneQuestion: input.Question,
		Sources:            []app.Source{{File: "apollo.txt", Filename: "apollo.txt", Content: "Apollo"}},
	}, nil
}

func (f *fakeQA) History(_ context.Context, _ string, _ uint) ([]rag.Turn, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []rag.Turn{{Question: "q", Answer: "a"}}, nil
}

func newTestRouter(docs *fakeDocuments, qa *fakeQA) *gin.Engine {
	return newRouter(routes{
		ginMode:        gin.TestMode,
		jwtSecret:      testSecret,
		maxUploadBytes: 1 << 20,
		documents:      docs,
		qa:             qa,
	})
}

func bearer(t *testing.T, userID uint) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, userID, fmt.Sprintf("user%d", userID))
	require.NoError(t, err)
	return "Bearer " + token
}

func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestFilesRequireToken(t *testing.T) {
	router := newTestRouter(&fakeDocuments{}, &fakeQA{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/files/ask", strings.NewReader(`{"file":"a.txt","question":"hi"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]any{"message": "Unauthorized"}, decode(t, rec))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/files/a.txt/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]any{"message": "Unauthorized"}, decode(t, rec))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/A/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]any{"message": "Unauthorized"}, decode(t, rec))
}

func TestUploadSucceeds(t *testing.T) {
	docs := &fakeDocuments{}
	router := newTestRouter(docs, &fakeQA{})

	req := uploadRequest(t, "apollo.txt", []byte("Apollo landed in 1969."), map[string]string{
		"room_ids":      "A, B",
		"roles_allowed": "editor",
		"users_allowed": "",
	})
	req.Header.Set("Authorization", bearer(t, 7))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "File uploaded successfully", body["message"])
	assert.Equal(t, "doc-1", body["id"])

	require.Len(t, docs.uploads, 1)
	in := docs.uploads[0]
	assert.Equal(t, "apollo.txt", in.Filename)
	assert.Equal(t, []string{"A", "B"}, in.RoomIDs)
	assert.Equal(t, []string{"editor"}, in.RolesAllowed)
	assert.Empty(t, in.UsersAllowed)
	assert.Equal(t, uint(7), in.UploadedBy)
}

func TestUploadFailuresAreGeneric(t *testing.T) {
	for _, cause := range []error{app.ErrFileNotSupported, app.ErrDuplicateFile, rag.ErrBackendUnavailable} {
		router := newTestRouter(&fakeDocuments{err: fmt.Errorf("wrapped: %w", cause)}, &fakeQA{})
		req := uploadRequest(t, "setup.exe", []byte("MZ"), nil)
		req.Header.Set("Authorization", bearer(t, 1))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code, cause.Error())
		assert.Equal(t, map[string]any{"message": "Failed to save file"}, decode(t, rec))
	}
}

func TestUploadWithoutFileIsBadRequest(t *testing.T) {
	router := newTestRouter(&fakeDocuments{}, &fakeQA{})
	req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("room_ids=A"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", bearer(t, 1))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskReturnsResults(t *testing.T) {
	qa := &fakeQA{}
	router := newTestRouter(&fakeDocuments{}, qa)

	req := httptest.NewRequest(http.MethodPost, "/files/ask", strings.NewReader(`{"roomId":"A","question":"What is this about?"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, 3))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	results, ok := decode(t, rec)["results"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "It is about Apollo.", results["answer"])
	assert.Len(t, results["sources"], 1)

	require.Len(t, qa.asked, 1)
	assert.Equal(t, app.AskInput{UserID: 3, RoomID: "A", Question: "What is this about?"}, qa.asked[0])
}

func TestAskErrorMapping(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{app.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
		{rag.ErrBackendUnavailable, http.StatusInternalServerError, "Internal server error"},
		{app.ErrIndexNotReady, http.StatusInternalServerError, "Internal server error"},
		{app.ErrInvalidInput, http.StatusBadRequest, "Invalid request"},
	}
	for _, tc := range cases {
		router := newTestRouter(&fakeDocuments{}, &fakeQA{err: tc.err})
		req := httptest.NewRequest(http.MethodPost, "/files/ask", strings.NewReader(`{"file":"a.txt","question":"q"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", bearer(t, 3))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, map[string]any{"message": tc.message}, decode(t, rec))
	}
}

func TestStatusAndHistory(t *testing.T) {
	router := newTestRouter(&fakeDocuments{}, &fakeQA{})

	req := httptest.NewRequest(http.MethodGet, "/files/apollo.txt/status", nil)
	req.Header.Set("Authorization", bearer(t, 3))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "apollo.txt", body["file"])
	assert.Equal(t, float64(3), body["chunk_count"])

	req = httptest.NewRequest(http.MethodGet, "/rooms/A/history", nil)
	req.Header.Set("Authorization", bearer(t, 3))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["turns"], 1)

	router = newTestRouter(&fakeDocuments{err: app.ErrDocumentNotFound}, &fakeQA{})
	req = httptest.NewRequest(http.MethodGet, "/files/ghost.txt/status", nil)
	req.Header.Set("Authorization", bearer(t, 3))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
