package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	pkglog "ConnGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger() (*pkglog.LogHelper, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "msg", LevelKey: "level"}),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)
	return pkglog.NewLogHelper(pkglog.NewKratosAdapter(zap.New(core))), buf
}

func newServer(logger *pkglog.LogHelper, fail error) *khttp.Server {
	srv := khttp.NewServer(khttp.Middleware(Logging(logger)))
	srv.Route("/").GET("/v1/ping", func(ctx khttp.Context) error {
		khttp.SetOperation(ctx, "/test.v1.Ping/Ping")
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			if fail != nil {
				return nil, fail
			}
			return map[string]string{"request_id": pkglog.GetRequestID(ctx)}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(http.StatusOK, out)
	})
	return srv
}

func TestLogging_PropagatesRequestID(t *testing.T) {
	logger, buf := newBufferLogger()
	srv := newServer(logger, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("X-Request-ID", "abcde12345")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abcde12345", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"request_id":"abcde12345"`)
	assert.Contains(t, buf.String(), "GET /v1/ping - 200")
}

func TestLogging_GeneratesRequestID(t *testing.T) {
	logger, _ := newBufferLogger()
	srv := newServer(logger, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))

	assert.Len(t, rec.Header().Get("X-Request-ID"), 10)
}

func TestLogging_RecordsErrorStatus(t *testing.T) {
	logger, buf := newBufferLogger()
	srv := newServer(logger, errors.New(503, "CIRCUIT_OPEN", "Circuit breaker open, retry in 42s"))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, buf.String(), "GET /v1/ping - 503")
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1:5555", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	assert.Equal(t, "203.0.113.9", extractClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", extractClientIP(req))
}

func TestExtractHTTPStatus(t *testing.T) {
	assert.Equal(t, 200, extractHTTPStatus(nil))
	assert.Equal(t, 404, extractHTTPStatus(errors.NotFound("CONNECTION_NOT_FOUND", "missing")))
	assert.Equal(t, 500, extractHTTPStatus(assert.AnError))
}
