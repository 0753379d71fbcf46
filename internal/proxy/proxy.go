package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantsphere/qmail/internal/api"
)

const (
	// DefaultMaxBodyBytes caps request and upstream response bodies.
	DefaultMaxBodyBytes = 1 << 20
	// DefaultTimeout bounds a single upstream call.
	DefaultTimeout = 30 * time.Second
)

// Config configures a Proxy.
type Config struct {
	// Upstream is the oracle base URL; verbs are appended as "/<action>".
	Upstream string
	// Prefix is the path the proxy is mounted at, e.g. "/api/ring-lwe".
	Prefix       string
	HTTPClient   *http.Client
	MaxBodyBytes int64
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	Burst     int
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Proxy forwards allow-listed oracle verbs to the upstream.
type Proxy struct {
	upstream   string
	prefix     string
	httpClient *http.Client
	maxBody    int64
	limiter    *limiter
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	router     *mux.Router
}

// New validates cfg and returns a Proxy.
func New(cfg Config) (*Proxy, error) {
	if cfg.Upstream == "" {
		return nil, errors.New("upstream URL is required")
	}
	if cfg.Prefix != "" && !strings.HasPrefix(cfg.Prefix, "/") {
		return nil, fmt.Errorf("prefix %q must start with /", cfg.Prefix)
	}

	p := &Proxy{
		upstream:   strings.TrimRight(cfg.Upstream, "/"),
		prefix:     strings.TrimRight(cfg.Prefix, "/"),
		httpClient: cfg.HTTPClient,
		maxBody:    cfg.MaxBodyBytes,
		limiter:    newLimiter(cfg.RateLimit, cfg.Burst, 0),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if p.maxBody <= 0 {
		p.maxBody = DefaultMaxBodyBytes
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.now == nil {
		p.now = time.Now
	}

	p.router = mux.NewRouter()
	p.Register(p.router)
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

// Register adds the proxy route to r, for serving it next to other
// handlers.
func (p *Proxy) Register(r *mux.Router) {
	r.HandleFunc(p.prefix+"/{action}", p.handleAction).Methods(http.MethodPost)
}

func (p *Proxy) handleAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	label := action
	if !api.IsAction(action) {
		label = actionInvalid
	}

	rec := &statusRecorder{ResponseWriter: w}
	defer func() {
		if v := recover(); v != nil {
			p.logger.ErrorContext(r.Context(), "proxy panic", "action", label, "panic", fmt.Sprint(v))
			if !rec.wrote {
				writeError(rec, http.StatusInternalServerError, "Internal Server Error")
			}
		}
		p.metrics.requests.WithLabelValues(label, strconv.Itoa(rec.status())).Inc()
	}()

	if label == actionInvalid {
		writeError(rec, http.StatusBadRequest, "Invalid action")
		return
	}
	if !p.limiter.allow(clientKey(r), p.now()) {
		p.metrics.rateLimited.Inc()
		writeError(rec, http.StatusTooManyRequests, "Too Many Requests")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(rec, r.Body, p.maxBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(rec, http.StatusRequestEntityTooLarge, "Request Entity Too Large")
		return
	}
	if err != nil || !json.Valid(body) {
		writeError(rec, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	status, data, err := p.forward(r, action, body)
	switch {
	case err != nil:
		p.metrics.upstreamErrors.WithLabelValues(action).Inc()
		p.logger.ErrorContext(r.Context(), "proxy error", "action", action, "error", err)
		writeError(rec, http.StatusInternalServerError, "Internal Server Error")
	case status < 200 || status > 299:
		p.metrics.upstreamErrors.WithLabelValues(action).Inc()
		p.logger.WarnContext(r.Context(), "upstream error", "action", action, "status", status)
		writeError(rec, status, "Upstream error: "+http.StatusText(status))
	default:
		writeJSON(rec, http.StatusOK, data)
	}
}

// forward posts body to the upstream verb. A 2xx answer must be JSON.
func (p *Proxy) forward(r *http.Request, action string, body []byte) (int, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.upstream+"/"+action, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := p.now()
	resp, err := p.httpClient.Do(req)
	p.metrics.duration.WithLabelValues(action).Observe(p.now().Sub(start).Seconds())
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, p.maxBody))
		return resp.StatusCode, nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody+1))
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(data)) > p.maxBody {
		return 0, nil, errors.New("upstream body too large")
	}
	if !json.Valid(data) {
		return 0, nil, errors.New("upstream returned invalid JSON")
	}
	return resp.StatusCode, data, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	data, _ := json.Marshal(api.ErrorResponse{Error: msg})
	writeJSON(w, status, data)
}

func writeJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

type statusRecorder struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wrote {
		return
	}
	r.code = code
	r.wrote = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) status() int {
	if !r.wrote {
		return http.StatusOK
	}
	return r.code
}
