package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"meowroast/internal/auth"
	"meowroast/internal/config"
	"meowroast/internal/inference"
	"meowroast/internal/intake"
	"meowroast/internal/models"
	"meowroast/internal/pipeline"
	"meowroast/internal/storage"
)

type fakeUploader struct {
	calls int
	url   string
	err   error
}

func (f *fakeUploader) Store(ctx context.Context, sub intake.Submission) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeAnnotator struct {
	calls   int
	comment string
	err     error
}

func (f *fakeAnnotator) Annotate(ctx context.Context, imageURL string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.comment, nil
}

type testApp struct {
	router   *gin.Engine
	auth     *auth.Service
	store    *storage.PhotoStore
	db       *sql.DB
	uploader *fakeUploader
	annot    *fakeAnnotator
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewPhotoStore(db, nil)
	uploader := &fakeUploader{url: "https://cdn.example.com/stored.jpg"}
	annot := &fakeAnnotator{comment: "this cat has seen things"}
	authService := auth.NewService(config.AuthConfig{JWTSecret: "test-secret"})
	login := auth.NewGoogleLogin(config.GoogleConfig{}, "http://localhost:3000")
	runner := pipeline.NewRunner(uploader, annot, store)
	presets := config.PresetsConfig{Images: []string{
		"http://localhost:3000/cat_photos/cat1.jpg",
		"http://localhost:3000/cat_photos/cat2.jpg",
	}}

	router := gin.New()
	NewHandler(authService, login, runner, store, presets).RegisterRoutes(router)

	return &testApp{
		router:   router,
		auth:     authService,
		store:    store,
		db:       db,
		uploader: uploader,
		annot:    annot,
	}
}

func (a *testApp) token(t *testing.T, subject, name string) string {
	t.Helper()
	token, err := a.auth.Sign(subject, name, name+"@example.com", "")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (a *testApp) recordCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM photos").Scan(&n); err != nil {
		t.Fatalf("count photos: %v", err)
	}
	return n
}

func multipartPhoto(t *testing.T, filename, contentType string, size int) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="photo"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(bytes.Repeat([]byte{0xAB}, size)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestCreateSubmissionRejectsAnonymous(t *testing.T) {
	app := newTestApp(t)

	body, contentType := multipartPhoto(t, "cat.jpg", "image/jpeg", 1024)
	req := httptest.NewRequest(http.MethodPost, "/submissions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if app.uploader.calls != 0 {
		t.Fatalf("uploader must not run for anonymous requests")
	}
	if app.recordCount(t) != 0 {
		t.Fatalf("no record may exist for a rejected request")
	}
}

func TestCreateSubmissionHappyPath(t *testing.T) {
	app := newTestApp(t)

	body, contentType := multipartPhoto(t, "cat.jpg", "image/jpeg", 5<<20)
	req := httptest.NewRequest(http.MethodPost, "/submissions", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+app.token(t, "user-1", "Ann"))
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ImageURL string `json:"imageUrl"`
		Comment  string `json:"comment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ImageURL != "https://cdn.example.com/stored.jpg" {
		t.Fatalf("unexpected imageUrl %q", resp.ImageURL)
	}
	if resp.Comment != "this cat has seen things" {
		t.Fatalf("unexpected comment %q", resp.Comment)
	}
	if app.recordCount(t) != 1 {
		t.Fatalf("expected exactly one record, got %d", app.recordCount(t))
	}

	photos, err := app.store.History(context.Background(), "user-1", storage.DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(photos) != 1 || photos[0].UserName != "Ann" || photos[0].IsDefault {
		t.Fatalf("stored record mismatch: %+v", photos)
	}
}

func TestCreateSubmissionPresetSource(t *testing.T) {
	app := newTestApp(t)

	form := strings.NewReader("imageUrl=" + "http://localhost:3000/cat_photos/cat1.jpg")
	req := httptest.NewRequest(http.MethodPost, "/submissions", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+app.token(t, "user-1", "Ann"))
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	photos, err := app.store.History(context.Background(), "user-1", storage.DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(photos) != 1 || !photos[0].IsDefault {
		t.Fatalf("preset submission should be stored with isDefault: %+v", photos)
	}
}

func TestCreateSubmissionValidationErrors(t *testing.T) {
	cases := []struct {
		name        string
		filename    string
		contentType string
		size        int
		noBody      bool
		wantStatus  int
		wantStage   string
	}{
		{name: "missing image", noBody: true, wantStatus: http.StatusBadRequest, wantStage: "validate"},
		{name: "oversized payload", filename: "big.jpg", contentType: "image/jpeg", size: int(intake.MaxImageBytes) + 1, wantStatus: http.StatusRequestEntityTooLarge, wantStage: "validate"},
		{name: "unsupported type", filename: "notes.txt", contentType: "text/plain", size: 64, wantStatus: http.StatusUnsupportedMediaType, wantStage: "validate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t)

			var req *http.Request
			if tc.noBody {
				req = httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader(""))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			} else {
				body, contentType := multipartPhoto(t, tc.filename, tc.contentType, tc.size)
				req = httptest.NewRequest(http.MethodPost, "/submissions", body)
				req.Header.Set("Content-Type", contentType)
			}
			req.Header.Set("Authorization", "Bearer "+app.token(t, "user-1", "Ann"))
			rec := httptest.NewRecorder()
			app.router.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			var resp struct {
				Stage string `json:"stage"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Stage != tc.wantStage {
				t.Fatalf("expected stage %q, got %q", tc.wantStage, resp.Stage)
			}
			if app.uploader.calls != 0 {
				t.Fatalf("uploader must not run after validation failure")
			}
			if app.recordCount(t) != 0 {
				t.Fatalf("no record may exist after validation failure")
			}
		})
	}
}

func TestCreateSubmissionInferenceFailure(t *testing.T) {
	app := newTestApp(t)
	app.annot.err = inference.ErrUnreachable

	body, contentType := multipartPhoto(t, "cat.jpg", "image/jpeg", 1024)
	req := httptest.NewRequest(http.MethodPost, "/submissions", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+app.token(t, "user-1", "Ann"))
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Stage string `json:"stage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Stage != "infer" {
		t.Fatalf("expected stage infer, got %q", resp.Stage)
	}
	// The upload already happened; only the record must be absent.
	if app.uploader.calls != 1 {
		t.Fatalf("expected the upload to have run before inference failed")
	}
	if app.recordCount(t) != 0 {
		t.Fatalf("no record may exist when inference failed")
	}
}

func TestHistoryReturnsNewestTenForCaller(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		if _, err := app.store.Save(ctx, "user-1", "Ann", "https://cdn.example.com/a.jpg", "c", false); err != nil {
			t.Fatalf("seed user-1: %v", err)
		}
	}
	if _, err := app.store.Save(ctx, "user-2", "Bob", "https://cdn.example.com/b.jpg", "c", false); err != nil {
		t.Fatalf("seed user-2: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/submissions/history", nil)
	req.Header.Set("Authorization", "Bearer "+app.token(t, "user-1", "Ann"))
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var photos []models.Photo
	if err := json.Unmarshal(rec.Body.Bytes(), &photos); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(photos) != 10 {
		t.Fatalf("expected exactly 10 records, got %d", len(photos))
	}
	for i, p := range photos {
		if p.UserID != "user-1" {
			t.Fatalf("history leaked a record for %s", p.UserID)
		}
		if i > 0 && photos[i-1].CreatedAt.Before(p.CreatedAt) {
			t.Fatalf("history not newest-first at index %d", i)
		}
	}
}

func TestHistoryRequiresToken(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/submissions/history", nil)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/submissions/history", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for garbage token, got %d", rec.Code)
	}
}

func TestListPresets(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/submissions/presets", nil)
	req.Header.Set("Authorization", "Bearer "+app.token(t, "user-1", "Ann"))
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Presets []string `json:"presets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode presets: %v", err)
	}
	if len(resp.Presets) != 2 {
		t.Fatalf("expected 2 presets, got %v", resp.Presets)
	}
}

func TestCurrentUser(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.Header.Set("Authorization", "Bearer "+app.token(t, "user-1", "Ann"))
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if resp.ID != "user-1" || resp.Name != "Ann" || resp.Email != "Ann@example.com" {
		t.Fatalf("unexpected user payload: %+v", resp)
	}
}

func TestGoogleRedirectSetsStateCookie(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.Contains(location, "accounts.google.com") {
		t.Fatalf("expected redirect to the provider, got %q", location)
	}
	var state string
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == stateCookieName {
			state = cookie.Value
		}
	}
	if state == "" {
		t.Fatalf("state cookie not set")
	}
	if !strings.Contains(location, "state="+state) {
		t.Fatalf("redirect does not carry the state cookie value")
	}
}

func TestGoogleCallbackRejectsStateMismatch(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=abc&code=x", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "different"})
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for state mismatch, got %d", rec.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	var cleared bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == app.auth.CookieName() && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("token cookie not cleared")
	}
}
