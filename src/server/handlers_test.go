package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	app "dermalyze/src/app"
	minio_mock "dermalyze/src/app/mock"
	cfg "dermalyze/src/configuration"
	"dermalyze/src/nav"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type navResponse struct {
	Status string       `json:"status"`
	Error  string       `json:"error"`
	Action string       `json:"action"`
	Nav    nav.Snapshot `json:"nav"`
}

// fakeAuth serves the conventional auth endpoints without OIDC discovery.
func fakeAuth() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_, _ = w.Write([]byte(`{"access_token":"access-abc","refresh_token":"refresh-abc","token_type":"bearer","expires_in":3600}`))
		case "/user":
			_, _ = w.Write([]byte(`{"id":"user-1","email":"jo@example.com","name":"Jo","verified":true}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
}

func fakeML() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"classes":[
			{"id":"akiec","name":"Actinic keratoses and intraepithelial carcinoma","score":1.1},
			{"id":"bcc","name":"Basal cell carcinoma","score":2.2},
			{"id":"bkl","name":"Benign keratosis-like lesions","score":3.3},
			{"id":"df","name":"Dermatofibroma","score":4.4},
			{"id":"mel","name":"Melanoma","score":67.4},
			{"id":"nv","name":"Melanocytic nevi","score":20.1},
			{"id":"vasc","name":"Vascular lesions","score":1.5}
		]}`))
	}))
}

type testApp struct {
	server *httptest.Server
	client *http.Client
	router *gin.Engine
}

func newTestApp(t *testing.T, mlHost string, s3 *app.ImageStore) *testApp {
	t.Helper()

	authServer := fakeAuth()
	t.Cleanup(authServer.Close)

	config := &cfg.Properties{
		Auth: cfg.AuthProperties{
			Host:                   authServer.URL,
			ID:                     "dermalyze-web",
			AccessTokenCookieName:  "dl_access_token",
			RefreshTokenCookieName: "dl_refresh_token",
			IDTokenCookieName:      "dl_id_token",
			ReadTimeout:            5 * time.Second,
		},
		MLServer: cfg.MLServerProperties{Host: mlHost, ReadTimeout: 5 * time.Second},
		DB:       cfg.DBProperties{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), PageSize: 20},
	}

	handler, err := NewHandler(config, s3)
	assert.NoError(t, err)
	t.Cleanup(handler.Close)

	router := gin.New()
	registerRoutes(router, handler)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	assert.NoError(t, err)
	return &testApp{server: server, client: &http.Client{Jar: jar}, router: router}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (int, navResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		assert.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	assert.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	parsed := navResponse{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp.StatusCode, parsed
}

func (a *testApp) uploadImage(t *testing.T, contentType string, data []byte) (int, navResponse) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="image"; filename="lesion.png"`}
	header["Content-Type"] = []string{contentType}
	part, err := writer.CreatePart(header)
	assert.NoError(t, err)
	_, err = part.Write(data)
	assert.NoError(t, err)
	assert.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/analysis/image", &buf)
	assert.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.client.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	parsed := navResponse{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp.StatusCode, parsed
}

func (a *testApp) login(t *testing.T) {
	t.Helper()
	status, parsed := a.do(t, http.MethodGet, "/session", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenLogin, parsed.Nav.Screen)

	status, parsed = a.do(t, http.MethodPost, "/auth/login", gin.H{"email": "jo@example.com", "password": "secret"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenDashboard, parsed.Nav.Screen)
	assert.True(t, parsed.Nav.Authenticated)
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	assert.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, "", nil)
	resp, err := a.client.Get(a.server.URL + "/health")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBootstrap(t *testing.T) {
	t.Run("NoSessionLandsOnLogin", func(t *testing.T) {
		a := newTestApp(t, "", nil)
		status, parsed := a.do(t, http.MethodGet, "/session", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, nav.ScreenLogin, parsed.Nav.Screen)
		assert.Equal(t, "login-title", parsed.Nav.Focus)
	})

	t.Run("MintsNavCookie", func(t *testing.T) {
		a := newTestApp(t, "", nil)
		resp, err := a.client.Get(a.server.URL + "/session")
		assert.NoError(t, err)
		defer resp.Body.Close()

		found := false
		for _, cookie := range resp.Cookies() {
			if cookie.Name == navCookieName {
				found = cookie.Value != ""
			}
		}
		assert.True(t, found, "first contact must mint the session-scoping cookie")
	})
}

func TestGuardedEndpointsRequireSession(t *testing.T) {
	a := newTestApp(t, "", nil)
	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, "/history"},
		{http.MethodGet, "/stats"},
		{http.MethodGet, "/profile"},
		{http.MethodPost, "/analysis/run"},
	} {
		status, parsed := a.do(t, probe.method, probe.path, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "%s %s", probe.method, probe.path)
		assert.Equal(t, nav.ScreenLogin, parsed.Nav.Screen, "machine must be forced to login")
	}
}

func TestLoginFlow(t *testing.T) {
	a := newTestApp(t, "", nil)
	a.login(t)

	// Token cookies carry the session across requests.
	status, parsed := a.do(t, http.MethodGet, "/nav", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenDashboard, parsed.Nav.Screen)
}

func TestAnalysisFlow(t *testing.T) {
	mlServer := fakeML()
	defer mlServer.Close()
	a := newTestApp(t, mlServer.URL, nil)
	a.login(t)

	status, parsed := a.do(t, http.MethodPost, "/nav/event", gin.H{"event": "go-upload"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenUpload, parsed.Nav.Screen)

	status, parsed = a.uploadImage(t, "image/png", smallPNG(t))
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.HasPrefix(parsed.Nav.SelectedImage, "data:image/jpeg;base64,"))

	status, parsed = a.do(t, http.MethodPost, "/analysis/run", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenResults, parsed.Nav.Screen)
	assert.Len(t, parsed.Nav.Results, 7)

	resp, err := a.client.Get(a.server.URL + "/analysis/results")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var results struct {
		Payload struct {
			CaseID    string `json:"caseId"`
			RiskLabel string `json:"riskLabel"`
			Predicted struct {
				ID string `json:"id"`
			} `json:"predicted"`
		} `json:"payload"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	assert.Equal(t, "mel", results.Payload.Predicted.ID)
	assert.Equal(t, "High Risk", results.Payload.RiskLabel)
	assert.True(t, strings.HasPrefix(results.Payload.CaseID, "DRM-"))

	// The record insert runs in the background after the response.
	assert.Eventually(t, func() bool {
		resp, err := a.client.Get(a.server.URL + "/history")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var history struct {
			Payload struct {
				Items []struct {
					ClassID string `json:"classId"`
				} `json:"items"`
			} `json:"payload"`
		}
		if json.NewDecoder(resp.Body).Decode(&history) != nil {
			return false
		}
		return len(history.Payload.Items) == 1 && history.Payload.Items[0].ClassID == "mel"
	}, 2*time.Second, 50*time.Millisecond, "analysis record must land in history")
}

func TestAnalysisRunWithoutImage(t *testing.T) {
	a := newTestApp(t, "", nil)
	a.login(t)

	status, parsed := a.do(t, http.MethodPost, "/nav/event", gin.H{"event": "go-upload"})
	assert.Equal(t, http.StatusOK, status)

	status, parsed = a.do(t, http.MethodPost, "/analysis/run", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenError, parsed.Nav.Screen)
	assert.Equal(t, "no image provided", parsed.Nav.ErrorMessage)
}

func TestUploadRejections(t *testing.T) {
	a := newTestApp(t, "", nil)
	a.login(t)
	a.do(t, http.MethodPost, "/nav/event", gin.H{"event": "go-upload"})

	t.Run("UnsupportedType", func(t *testing.T) {
		status, parsed := a.uploadImage(t, "image/gif", []byte("GIF89a"))
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "Unsupported file type. Please upload a JPEG or PNG image.", parsed.Error)
		assert.Equal(t, actionRetryUpload, parsed.Action)
	})

	t.Run("Oversized", func(t *testing.T) {
		status, parsed := a.uploadImage(t, "image/png", make([]byte, 11*1024*1024))
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Contains(t, parsed.Error, "File is too large")
	})
}

func TestIllegalNavEvent(t *testing.T) {
	a := newTestApp(t, "", nil)
	a.login(t)

	status, parsed := a.do(t, http.MethodPost, "/nav/event", gin.H{"event": "complete"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, nav.ScreenDashboard, parsed.Nav.Screen, "state must be unchanged")
}

func TestLogoutFlow(t *testing.T) {
	a := newTestApp(t, "", nil)
	a.login(t)

	status, parsed := a.do(t, http.MethodPost, "/auth/logout/request", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenLogoutConfirm, parsed.Nav.Screen)

	status, parsed = a.do(t, http.MethodPost, "/auth/logout/cancel", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenDashboard, parsed.Nav.Screen, "cancel returns to the origin")

	a.do(t, http.MethodPost, "/auth/logout/request", nil)
	status, parsed = a.do(t, http.MethodPost, "/auth/logout/confirm", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenLogin, parsed.Nav.Screen)
	assert.False(t, parsed.Nav.Authenticated)

	// The token cookies are gone: guarded endpoints reject again.
	status, _ = a.do(t, http.MethodGet, "/history", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUploadBodyCap(t *testing.T) {
	a := newTestApp(t, "", nil)
	a.login(t)
	a.do(t, http.MethodPost, "/nav/event", gin.H{"event": "go-upload"})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", "huge.png")
	assert.NoError(t, err)
	_, err = part.Write(make([]byte, 25*1024*1024))
	assert.NoError(t, err)
	assert.NoError(t, writer.Close())

	// Served directly: over a real transport the capped read aborts the
	// connection mid-body.
	req := httptest.NewRequest(http.MethodPost, "/analysis/image", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	serverURL, err := url.Parse(a.server.URL)
	assert.NoError(t, err)
	for _, cookie := range a.client.Jar.Cookies(serverURL) {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "body beyond the cap must never be buffered")

	parsed := navResponse{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, actionRetryUpload, parsed.Action)
}

func TestProfileImages(t *testing.T) {
	t.Run("ListsPresignedURLs", func(t *testing.T) {
		mockMinio := new(minio_mock.MockClient)
		a := newTestApp(t, "", app.NewImageStoreWithClient("lesions", mockMinio))
		a.login(t)

		ch := make(chan minio.ObjectInfo, 1)
		ch <- minio.ObjectInfo{Key: "user-1/a.jpg"}
		close(ch)
		mockMinio.On("ListObjects", mock.Anything, "lesions", mock.MatchedBy(func(opts minio.ListObjectsOptions) bool {
			return opts.Prefix == "user-1/" && opts.Recursive
		})).Return((<-chan minio.ObjectInfo)(ch))
		mockMinio.On("PresignedGetObject", mock.Anything, "lesions", "user-1/a.jpg", mock.Anything, mock.Anything).
			Return(&url.URL{Scheme: "https", Host: "s3.example.com", Path: "/lesions/user-1/a.jpg"}, nil)

		resp, err := a.client.Get(a.server.URL + "/profile/images")
		assert.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Payload struct {
				Images []string `json:"images"`
			} `json:"payload"`
		}
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, []string{"https://s3.example.com/lesions/user-1/a.jpg"}, body.Payload.Images)
		mockMinio.AssertExpectations(t)
	})

	t.Run("UnavailableWithoutStorage", func(t *testing.T) {
		a := newTestApp(t, "", nil)
		a.login(t)

		status, parsed := a.do(t, http.MethodGet, "/profile/images", nil)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, actionDashboard, parsed.Action)
	})

	t.Run("RequiresSession", func(t *testing.T) {
		a := newTestApp(t, "", nil)
		status, _ := a.do(t, http.MethodGet, "/profile/images", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestDeleteAccount(t *testing.T) {
	a := newTestApp(t, "", nil)
	a.login(t)

	status, parsed := a.do(t, http.MethodDelete, "/profile", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenLogin, parsed.Nav.Screen)
	assert.False(t, parsed.Nav.Authenticated)

	// The machine was dropped; the next contact starts over from loading.
	status, parsed = a.do(t, http.MethodGet, "/nav", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, nav.ScreenLoading, parsed.Nav.Screen)
}

func TestClassesEndpoint(t *testing.T) {
	a := newTestApp(t, "", nil)
	resp, err := a.client.Get(a.server.URL + "/classes")
	assert.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Payload []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"payload"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Payload, 7)
	assert.Equal(t, "akiec", body.Payload[0].ID)
}
