package stream

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIndex(t *testing.T) {
	s := New("test")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `src="stream.mjpg"`)
}

func readPart(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	tp := textproto.NewReader(r)
	line, err := tp.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "--"+boundary, line)
	hdr, err := tp.ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", hdr.Get("Content-Type"))
	n, err := strconv.Atoi(hdr.Get("Content-Length"))
	require.NoError(t, err)
	body := make([]byte, n+2)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	return body[:n]
}

func TestStreamCountsViewersPerInstance(t *testing.T) {
	s := New("a")
	other := New("b")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream.mjpg", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=FRAME", resp.Header.Get("Content-Type"))

	assert.Eventually(t, func() bool { return s.Viewers() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, other.Viewers())

	r := bufio.NewReader(resp.Body)
	s.SetFrame([]byte("first"))
	assert.Equal(t, []byte("first"), readPart(t, r))
	s.SetFrame([]byte("second"))
	assert.Equal(t, []byte("second"), readPart(t, r))

	cancel()
	assert.Eventually(t, func() bool { return s.Viewers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
