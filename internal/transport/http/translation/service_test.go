package translation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"speech-translate-server/internal/domain/asr"
	"speech-translate-server/internal/domain/batch"
	"speech-translate-server/internal/domain/result"
	"speech-translate-server/internal/domain/result/store"
	"speech-translate-server/internal/platform/logging"
)

type mockBatch struct {
	mock.Mock
}

func (m *mockBatch) TranslateUpload(ctx context.Context, filename string, r io.Reader, targetLang string) (result.Record, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(filename, string(body), targetLang)
	return args.Get(0).(result.Record), args.Error(1)
}

func (m *mockBatch) TranslateVideo(ctx context.Context, videoURL, targetLang string) (result.Record, error) {
	args := m.Called(videoURL, targetLang)
	return args.Get(0).(result.Record), args.Error(1)
}

func setup(t *testing.T, b Batch, st store.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	svc, err := NewService(Options{
		Batch:            b,
		Store:            st,
		AllowedLanguages: []string{"en", "hi"},
		MaxUploadBytes:   1 << 20,
		Logger:           logging.NewDiscard(),
	})
	require.NoError(t, err)
	svc.Register(&engine.RouterGroup, engine.Group("/api"))
	return engine
}

func multipartBody(t *testing.T, fields map[string]string, file string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != "" {
		fw, err := w.CreateFormFile("audio", file)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUploadSuccess(t *testing.T) {
	b := &mockBatch{}
	b.On("TranslateUpload", "clip.webm", "webm-bytes", "hi").Return(result.Record{
		ID:               "abc",
		DetectedLanguage: "en",
		OriginalText:     "hello",
		TranslatedText:   "namaste",
		AudioURL:         "http://localhost:8000/outputs/abc.mp3",
	}, nil)
	engine := setup(t, b, nil)

	body, ctype := multipartBody(t, map[string]string{"target_lang": "hi"}, "clip.webm", []byte("webm-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/translate", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "abc", got["id"])
	assert.Equal(t, "en", got["detected_language"])
	assert.Equal(t, "hello", got["original_text"])
	assert.Equal(t, "namaste", got["translated_text"])
	assert.Equal(t, "http://localhost:8000/outputs/abc.mp3", got["audio_url"])
	b.AssertExpectations(t)
}

func TestUploadRequiresFile(t *testing.T) {
	engine := setup(t, &mockBatch{}, nil)
	body, ctype := multipartBody(t, map[string]string{"target_lang": "hi"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/translate", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "audio file is required", decode(t, rec)["error"])
}

func TestUploadTooLarge(t *testing.T) {
	engine := setup(t, &mockBatch{}, nil)
	body, ctype := multipartBody(t, map[string]string{"target_lang": "hi"}, "big.wav", bytes.Repeat([]byte{1}, 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/translate", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBatchErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{&asr.UnsupportedLanguageError{Language: "fr"}, http.StatusUnprocessableEntity, "Only English & Hindi input is supported"},
		{asr.ErrEmptyRecognition, http.StatusUnprocessableEntity, "No speech detected"},
		{fmt.Errorf("wrap: %w", batch.ErrDownload), http.StatusUnprocessableEntity, "Could not download the video"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "Translation timed out"},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, "Translation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			b := &mockBatch{}
			b.On("TranslateVideo", "https://youtu.be/x", "hi").Return(result.Record{}, tt.err)
			engine := setup(t, b, nil)

			form := url.Values{"youtube_url": {"https://youtu.be/x"}, "target_lang": {"hi"}}
			req := httptest.NewRequest(http.MethodPost, "/translate-youtube", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decode(t, rec)["error"])
		})
	}
}

func TestVideoAlias(t *testing.T) {
	b := &mockBatch{}
	b.On("TranslateVideo", "https://example.com/v.mp4", "ta").Return(result.Record{ID: "v1"}, nil)
	engine := setup(t, b, nil)

	form := url.Values{"url": {"https://example.com/v.mp4"}, "target_lang": {"ta"}}
	req := httptest.NewRequest(http.MethodPost, "/translate-video", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", decode(t, rec)["id"])
}

func TestGetTranslation(t *testing.T) {
	st := store.NewMemory(store.Config{TTL: time.Hour})
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	require.NoError(t, st.Save(context.Background(), result.Record{ID: "r1", Kind: result.KindUpload, TranslatedText: "namaste"}))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, st.Save(context.Background(), result.Record{ID: "old", CreatedAt: past.Add(-time.Hour), ExpiresAt: &past}))
	engine := setup(t, &mockBatch{}, st)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/translations/r1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool          `json:"success"`
		Data    result.Record `json:"data"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "namaste", resp.Data.TranslatedText)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/translations/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/translations/old", nil))
	assert.Equal(t, http.StatusGone, rec.Code)
}
