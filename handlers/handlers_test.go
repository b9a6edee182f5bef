package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"attendance-console-go/auth"
	"attendance-console-go/db"
	"attendance-console-go/localstore"
	"attendance-console-go/models"
)

var testOrigins = []string{"http://localhost:5173"}

type testEnv struct {
	router *gin.Engine
	h      *APIHandler
	store  *db.RedisStore
	mr     *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := db.NewRedisStore(client, zap.NewNop())

	kv, err := localstore.Open(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	gw := auth.NewGateway(auth.Unavailable{}, auth.NewMockStore(kv, auth.DefaultRoster), zap.NewNop())
	gw.Start(ctx)
	t.Cleanup(gw.Close)
	<-gw.Ready()

	h := NewAPIHandler(store, gw, auth.NewTokens("test-secret", time.Hour), kv, testOrigins, zap.NewNop())
	h.Now = func() time.Time { return time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, h.Open(ctx))
	t.Cleanup(h.Close)

	return &testEnv{router: NewRouter(h, testOrigins), h: h, store: store, mr: mr}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", models.Credentials{Email: "admin1@school.com", Password: "123"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) createCourse(t *testing.T, token string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/courses", models.CourseInput{
		Name: "Algebra", Code: "MA101", Instructor: "Omar", Schedule: "Mon 09:00",
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Course](t, w).ID
}

func (e *testEnv) createStudent(t *testing.T, token, name string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/students", models.StudentInput{Name: name, Email: strings.ToLower(name) + "@school.com"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Student](t, w).ID
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/ping", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	env.mr.SetError("LOADING down")
	w = env.do(t, http.MethodGet, "/api/ping", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		creds  any
		status int
	}{
		{name: "roster account", creds: models.Credentials{Email: "omar@school.com", Password: "123"}, status: http.StatusOK},
		{name: "wrong password", creds: models.Credentials{Email: "omar@school.com", Password: "nope"}, status: http.StatusUnauthorized},
		{name: "unknown account", creds: models.Credentials{Email: "eve@school.com", Password: "123"}, status: http.StatusUnauthorized},
		{name: "missing password", creds: gin.H{"email": "omar@school.com"}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/login", tt.creds, "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/students", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := env.login(t)
	w = env.do(t, http.MethodGet, "/api/auth/session", nil, "")
	session := decode[struct {
		User    *models.User `json:"user"`
		Loading bool         `json:"loading"`
	}](t, w)
	require.NotNil(t, session.User)
	assert.Equal(t, "mock-admin1@school.com", session.User.UID)
	assert.Equal(t, auth.ProviderMock, session.User.Provider)

	w = env.do(t, http.MethodGet, "/api/students", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/students", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(t, http.MethodGet, "/api/students", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStudentsCRUD(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/api/students", gin.H{"name": "Alice", "email": "not-an-email"}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	bad := decode[struct {
		Fields map[string]string `json:"fields"`
	}](t, w)
	assert.Contains(t, bad.Fields, "email")

	id := env.createStudent(t, token, "Alice")
	require.Eventually(t, func() bool {
		return env.do(t, http.MethodGet, "/api/students/"+id, nil, token).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodPatch, "/api/students/"+id, gin.H{"major": "Physics"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/students/"+id, nil, token)
		return decode[models.Student](t, w).Major == "Physics"
	}, 2*time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodPatch, "/api/students/"+id, gin.H{"email": "broken"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPatch, "/api/students/"+id, gin.H{"id": "other"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPatch, "/api/students/missing", gin.H{"name": "X"}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.createStudent(t, token, "Bob")
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/students?search=ALI", nil, token)
		found := decode[[]models.Student](t, w)
		return len(found) == 1 && found[0].ID == id
	}, 2*time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodDelete, "/api/students/"+id, nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/students/"+id, nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		return env.do(t, http.MethodGet, "/api/students/"+id, nil, token).Code == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCourses_Validation(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/api/courses", gin.H{"name": "Algebra"}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	bad := decode[struct {
		Fields map[string]string `json:"fields"`
	}](t, w)
	assert.Equal(t, "is required", bad.Fields["code"])
	assert.Contains(t, bad.Fields, "instructor")

	id := env.createCourse(t, token)
	w = env.do(t, http.MethodPatch, "/api/courses/"+id, gin.H{"code": "  "}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteRejectedIsReported(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	env.mr.SetError("READONLY replica")
	w := env.do(t, http.MethodPost, "/api/students", models.StudentInput{Name: "Alice"}, token)
	env.mr.SetError("")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "READONLY")
}

func TestEnrollmentsAndAttendance(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	courseID := env.createCourse(t, token)
	s1 := env.createStudent(t, token, "Alice")

	w := env.do(t, http.MethodPut, "/api/courses/"+courseID+"/enrollments/"+s1, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPut, "/api/courses/"+courseID+"/enrollments/ghost", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPut, "/api/courses/nope/enrollments/"+s1, nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/courses/"+courseID+"/enrollments", nil, token)
	enrolled := decode[struct {
		StudentIDs []string `json:"studentIds"`
	}](t, w)
	assert.Equal(t, []string{s1}, enrolled.StudentIDs)

	w = env.do(t, http.MethodPost, "/api/courses/"+courseID+"/attendance",
		models.AttendanceSubmission{Date: "2024-01-05", StudentIDs: []string{s1, "S2"}}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/courses/"+courseID+"/attendance",
		models.AttendanceSubmission{Date: "2023-12-05", StudentIDs: []string{s1}}, token)
	require.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, http.MethodPost, "/api/courses/"+courseID+"/attendance",
		gin.H{"date": "2024-01-05", "studentIds": []string{}}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/api/courses/"+courseID+"/attendance",
		models.AttendanceSubmission{Date: "Jan 5", StudentIDs: []string{s1}}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Default range is the trailing 30 days before the fixed clock.
	w = env.do(t, http.MethodGet, "/api/courses/"+courseID+"/attendance/report", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	rep := decode[struct {
		Records []struct {
			Date            string   `json:"date"`
			PresentStudents []string `json:"presentStudents"`
		} `json:"records"`
		Rows []struct {
			Count int `json:"count"`
		} `json:"rows"`
	}](t, w)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "2024-01-05", rep.Records[0].Date)
	assert.Equal(t, 2, rep.Rows[0].Count)

	w = env.do(t, http.MethodGet, "/api/courses/"+courseID+"/attendance/report?start=2023-12-01&end=2024-01-31", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	wide := decode[struct {
		Records []json.RawMessage `json:"records"`
	}](t, w)
	assert.Len(t, wide.Records, 2)

	w = env.do(t, http.MethodGet, "/api/courses/"+courseID+"/attendance/report?start=bad", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/courses/"+courseID+"/attendance/export", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_report_"+courseID+".xlsx")
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Attendance Report")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2024-01-05", s1 + ", S2", "2"}, rows[1])

	w = env.do(t, http.MethodDelete, "/api/courses/"+courseID+"/enrollments/"+s1, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/courses/"+courseID+"/enrollments/"+s1, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/courses/"+courseID+"/enrollments", nil, token)
	assert.JSONEq(t, `{"courseId":"`+courseID+`","studentIds":[]}`, w.Body.String())
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	courseID := env.createCourse(t, token)
	s1 := env.createStudent(t, token, "Alice")
	env.createStudent(t, token, "Bob")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/courses/"+courseID+"/enrollments/"+s1, nil, token).Code)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/courses/"+courseID+"/attendance",
		models.AttendanceSubmission{Date: "2024-01-20", StudentIDs: []string{s1}}, token).Code)

	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/dashboard", nil, token)
		sum := decode[struct {
			TotalStudents  int `json:"totalStudents"`
			TotalCourses   int `json:"totalCourses"`
			ActiveStudents int `json:"activeStudents"`
			Courses        []struct {
				Rate int `json:"attendanceRate"`
			} `json:"courses"`
		}](t, w)
		return sum.TotalStudents == 2 && sum.TotalCourses == 1 && sum.ActiveStudents == 1 &&
			len(sum.Courses) == 1 && sum.Courses[0].Rate == 100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestImportStudents(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Name", "Email", "Major"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Alice", "alice@school.com", "CS"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"Bob", "bob@school.com"}))
	xlsx, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	upload := func(name string, content []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/import/students", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	w := upload("students.xlsx", xlsx.Bytes())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[struct {
		ImportedCount int `json:"importedCount"`
		FailedCount   int `json:"failedCount"`
	}](t, w)
	assert.Equal(t, 2, res.ImportedCount)
	assert.Zero(t, res.FailedCount)
	require.Eventually(t, func() bool { return len(env.h.Students.Items()) == 2 }, 2*time.Second, 10*time.Millisecond)

	w = upload("students.csv", []byte("Name,Email\nAlice,a@school.com\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDarkModePreference(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	w := env.do(t, http.MethodGet, "/api/preferences/dark-mode", nil, token)
	assert.JSONEq(t, `{"darkMode":false,"set":false}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/preferences/dark-mode", gin.H{"darkMode": true}, token)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/preferences/dark-mode", nil, token)
	assert.JSONEq(t, `{"darkMode":true,"set":true}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/preferences/dark-mode", gin.H{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStream_PushesSnapshots(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream/students"
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	type studentsFrame struct {
		Collection string           `json:"collection"`
		Items      []models.Student `json:"items"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first studentsFrame
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "students", first.Collection)
	assert.Empty(t, first.Items)

	id, err := env.store.Push(context.Background(), "students", models.StudentInput{Name: "Alice"})
	require.NoError(t, err)
	for {
		var next studentsFrame
		require.NoError(t, conn.ReadJSON(&next))
		if len(next.Items) == 1 {
			assert.Equal(t, id, next.Items[0].ID)
			break
		}
	}

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/api/stream/enrollments")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

// streamFrame is the wire shape of a stream frame.
type streamFrame struct {
	Collection string           `json:"collection"`
	Items      []models.Student `json:"items"`
	Error      string           `json:"error"`
}

func dialStream(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream/students"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first streamFrame
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "students", first.Collection)
	return conn
}

// readUntilClosed collects frames until the server closes the socket.
func readUntilClosed(t *testing.T, conn *websocket.Conn) ([]streamFrame, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frames []streamFrame
	for {
		var f streamFrame
		if err := conn.ReadJSON(&f); err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func TestStream_EndsOnLogout(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	conn := dialStream(t, srv, token)

	w := env.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	_, err := env.store.Push(context.Background(), "students", models.StudentInput{Name: "Secret", Email: "secret@school.com"})
	require.NoError(t, err)

	frames, err := readUntilClosed(t, conn)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected close: %v", err)
	require.NotEmpty(t, frames)
	for _, f := range frames {
		assert.Empty(t, f.Items, "snapshot delivered after sign-out")
	}
	assert.Equal(t, "Session has ended", frames[len(frames)-1].Error)
}

func TestStream_EndsOnShutdown(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.h.base = ctx
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	conn := dialStream(t, srv, token)

	cancel()
	frames, err := readUntilClosed(t, conn)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected close: %v", err)
	require.NotEmpty(t, frames)
	assert.Equal(t, "Server shutting down", frames[len(frames)-1].Error)
}

func TestLogin_SessionCookieSecureFlag(t *testing.T) {
	env := newTestEnv(t)
	creds := models.Credentials{Email: "admin1@school.com", Password: "123"}

	w := env.do(t, http.MethodPost, "/api/auth/login", creds, "")
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].Secure)
	assert.True(t, cookies[0].HttpOnly)

	env.h.SecureCookie = false
	w = env.do(t, http.MethodPost, "/api/auth/login", creds, "")
	require.Equal(t, http.StatusOK, w.Code)
	cookies = w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.False(t, cookies[0].Secure)
}

func TestStream_UnknownCollection(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	w := env.do(t, http.MethodGet, "/api/stream/grades", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/api/stream/attendance", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
