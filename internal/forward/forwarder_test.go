package forward

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultHeaders = []string{"Authorization", "Content-Type", "Accept", "X-Request-Id"}

func newTestForwarder(timeout time.Duration) *Forwarder {
	return New(NewClient("X-Request-Id", time.Second), timeout, defaultHeaders)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestForward_PreservesRequest(t *testing.T) {
	var (
		gotMethod, gotPath, gotQuery string
		gotBody                      []byte
		gotHeader                    http.Header
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer abc.def.ghi")
	header.Set("Content-Type", "application/json")
	header.Set("X-Internal-Debug", "drop-me")

	f := newTestForwarder(time.Second)
	outcome := f.Forward(context.Background(), Request{
		Method:   http.MethodPut,
		Path:     "/user/profile",
		RawQuery: "fields=name&x=1",
		Header:   header,
		Body:     []byte(`{"username":"dj"}`),
	}, mustParse(t, backend.URL))

	require.False(t, outcome.Failed(), "unexpected failure: %v", outcome.Err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/user/profile", gotPath)
	assert.Equal(t, "fields=name&x=1", gotQuery)
	assert.Equal(t, `{"username":"dj"}`, string(gotBody))
	assert.Equal(t, "Bearer abc.def.ghi", gotHeader.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Empty(t, gotHeader.Get("X-Internal-Debug"))
}

func TestForward_MultipartIsByteForByte(t *testing.T) {
	fileContent := []byte{0x00, 0xFF, 0x10, '\r', '\n', '-', '-', 0x7F, 0x80, 0xFE}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Midnight Loop"))
	require.NoError(t, mw.WriteField("artist", "DJ Ünïcode"))
	part, err := mw.CreateFormFile("beat", "loop (final).wav")
	require.NoError(t, err)
	_, err = part.Write(fileContent)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	original := buf.Bytes()

	var (
		gotRaw      []byte
		gotFilename string
		gotFile     []byte
		gotTitle    string
		gotArtist   string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRaw, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(gotRaw))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		gotTitle = r.FormValue("title")
		gotArtist = r.FormValue("artist")
		file, fh, err := r.FormFile("beat")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		gotFilename = fh.Filename
		gotFile, _ = io.ReadAll(file)

		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	header := http.Header{}
	header.Set("Content-Type", mw.FormDataContentType())

	outcome := newTestForwarder(time.Second).Forward(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/beats/upload",
		Header: header,
		Body:   original,
	}, mustParse(t, backend.URL))

	require.False(t, outcome.Failed())
	assert.Equal(t, http.StatusCreated, outcome.StatusCode)
	assert.Equal(t, original, gotRaw)
	assert.Equal(t, fileContent, gotFile)
	assert.Equal(t, "loop (final).wav", gotFilename)
	assert.Equal(t, "Midnight Loop", gotTitle)
	assert.Equal(t, "DJ Ünïcode", gotArtist)
}

func TestForward_CapturesResponseVerbatim(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "userfile")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"message":"short and stout"}`))
	}))
	defer backend.Close()

	outcome := newTestForwarder(time.Second).Forward(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/user/teapot",
		Header: http.Header{},
	}, mustParse(t, backend.URL))

	require.False(t, outcome.Failed())
	assert.Equal(t, http.StatusTeapot, outcome.StatusCode)
	assert.Equal(t, `{"message":"short and stout"}`, string(outcome.Body))
	assert.Equal(t, "application/json", outcome.Header.Get("Content-Type"))
	assert.Equal(t, "userfile", outcome.Header.Get("X-Backend"))
	assert.Empty(t, outcome.Header.Get("Keep-Alive"))
	assert.Positive(t, outcome.Duration)
}

func TestForward_DoesNotFollowRedirects(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer backend.Close()

	outcome := newTestForwarder(time.Second).Forward(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/user/old",
		Header: http.Header{},
	}, mustParse(t, backend.URL))

	require.False(t, outcome.Failed())
	assert.Equal(t, http.StatusFound, outcome.StatusCode)
	assert.Equal(t, "/elsewhere", outcome.Header.Get("Location"))
}

func TestForward_Timeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()

	outcome := newTestForwarder(50*time.Millisecond).Forward(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/user/slow",
		Header: http.Header{},
	}, mustParse(t, backend.URL))

	require.True(t, outcome.Failed())
	assert.Equal(t, KindTimeout, outcome.Kind)
	assert.Equal(t, "Request timed out", outcome.Cause)
	assert.Less(t, outcome.Duration, time.Second)
}

func TestForward_ConnectionRefused(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	target := mustParse(t, backend.URL)
	backend.Close()

	outcome := newTestForwarder(time.Second).Forward(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/user/profile",
		Header: http.Header{},
	}, target)

	require.True(t, outcome.Failed())
	assert.Equal(t, KindTransport, outcome.Kind)
	assert.Equal(t, "backend service refused the connection", outcome.Cause)
	assert.NotContains(t, outcome.Cause, target.Host)
	assert.Error(t, outcome.Err)
}

func TestForward_DNSFailure(t *testing.T) {
	outcome := newTestForwarder(2*time.Second).Forward(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/user/profile",
		Header: http.Header{},
	}, mustParse(t, "http://beatgate-missing-host.invalid"))

	require.True(t, outcome.Failed())
	assert.NotContains(t, outcome.Cause, "beatgate-missing-host")
}

func TestForward_PartialResponseIsTransportError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("only-ten!!"))
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer backend.Close()

	outcome := newTestForwarder(time.Second).Forward(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/user/partial",
		Header: http.Header{},
	}, mustParse(t, backend.URL))

	require.True(t, outcome.Failed())
	assert.Equal(t, KindTransport, outcome.Kind)
	assert.Equal(t, "backend response was interrupted", outcome.Cause)
}

func TestForward_SurvivesClientCancellation(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := newTestForwarder(time.Second).Forward(ctx, Request{
		Method: http.MethodPost,
		Path:   "/beats/upload",
		Header: http.Header{},
	}, mustParse(t, backend.URL))

	require.False(t, outcome.Failed())
	assert.Equal(t, http.StatusCreated, outcome.StatusCode)
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		base, path, query, want string
	}{
		{"http://files:5001", "/user/login", "", "http://files:5001/user/login"},
		{"http://files:5001/", "/user/login", "a=1", "http://files:5001/user/login?a=1"},
		{"http://files:5001/api", "/user/login", "", "http://files:5001/api/user/login"},
		{"http://files:5001", "/user/files/a%2Fb", "", "http://files:5001/user/files/a%2Fb"},
		{"http://files:5001", "/user/files/a%20b", "", "http://files:5001/user/files/a%20b"},
		{"http://files:5001/my%2Fapi", "/user/files/a%2Fb", "q=a%2Fb", "http://files:5001/my%2Fapi/user/files/a%2Fb?q=a%2Fb"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := targetURL(mustParse(t, tt.base), tt.path, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetURL_InvalidEscape(t *testing.T) {
	_, err := targetURL(mustParse(t, "http://files:5001"), "/user/%zz", "")
	assert.Error(t, err)
}

func TestForward_PreservesEscapedPath(t *testing.T) {
	var got []string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.EscapedPath())
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	paths := []string{"/user/files/a%2Fb", "/user/files/a%20b"}
	for _, p := range paths {
		outcome := newTestForwarder(time.Second).Forward(context.Background(), Request{
			Method: http.MethodGet,
			Path:   p,
			Header: http.Header{},
		}, mustParse(t, backend.URL))
		require.False(t, outcome.Failed())
	}

	assert.Equal(t, paths, got)
}

func TestNew_CanonicalizesHeaders(t *testing.T) {
	f := New(http.DefaultClient, time.Second, []string{"authorization", " x-request-id ", ""})
	assert.Equal(t, []string{"Authorization", "X-Request-Id"}, f.headers)
}
