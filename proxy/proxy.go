// Package proxy implements a multithreaded caching HTTP/1.0 forwarding
// proxy. One goroutine serves each accepted connection; all of them share a
// byte-bounded LRU cache behind a reader/writer admission queue. Cache hits
// are copied out under read admission, so an entry can never be evicted out
// from under a reader, and every mutation of the cache or its recency order
// runs under exclusive write admission.
package proxy

import (
	"bufio"
	stderrors "errors"
	"io"
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zyedidia/webproxy/cache"
	"github.com/zyedidia/webproxy/rwqueue"
)

const (
	// MaxCacheSize is the default total cache capacity in bytes.
	MaxCacheSize = 1024 * 1024
	// MaxObjectSize is the default ceiling for a single cacheable
	// response. Larger responses are relayed to the client but not cached.
	MaxObjectSize = 100 * 1024
)

// DefaultUserAgent is sent upstream in place of the client's own
// User-Agent header.
const DefaultUserAgent = "Mozilla/5.0" +
	" (X11; Linux x86_64; rv:3.10.0)" +
	" Gecko/20191101 Firefox/63.0.1"

// Config configures a Proxy. The zero value is usable; empty fields take
// the defaults above.
type Config struct {
	// MaxCacheSize bounds the total payload bytes held by the cache.
	MaxCacheSize int
	// MaxObjectSize bounds the size of a single cacheable response.
	MaxObjectSize int
	// UserAgent replaces the client's User-Agent header upstream.
	UserAgent string
	// Logger receives worker errors and debug traces.
	Logger log.Logger
	// Registerer receives the proxy metrics. Nil disables registration.
	Registerer prometheus.Registerer
}

// Proxy is a caching HTTP/1.0 forwarding proxy. It owns the cache and the
// admission queue shared by every worker.
type Proxy struct {
	cfg     Config
	logger  log.Logger
	cache   *cache.Cache
	rw      *rwqueue.Queue
	metrics *metrics
}

// New returns a ready-to-serve proxy.
func New(cfg Config) *Proxy {
	if cfg.MaxCacheSize == 0 {
		cfg.MaxCacheSize = MaxCacheSize
	}
	if cfg.MaxObjectSize == 0 {
		cfg.MaxObjectSize = MaxObjectSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	return &Proxy{
		cfg:     cfg,
		logger:  cfg.Logger,
		cache:   cache.New(cfg.MaxCacheSize),
		rw:      rwqueue.New(),
		metrics: newMetrics(cfg.Registerer),
	}
}

// ListenAndServe listens on the TCP address 'addr' and serves until the
// listener fails.
func (p *Proxy) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return p.Serve(ln)
}

// Serve runs the accept loop on 'ln', spawning one goroutine per accepted
// connection. Individual accept failures are logged and skipped; Serve
// only returns once the listener itself is gone.
func (p *Proxy) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if stderrors.Is(err, net.ErrClosed) {
				return err
			}
			level.Error(p.logger).Log("msg", "accept failed", "err", err)
			continue
		}
		go p.handle(conn)
	}
}

// handle runs the full request lifecycle for one client connection:
// parse, consult the cache, and on a miss fetch from the origin server.
// The connection is always closed on exit.
func (p *Proxy) handle(conn net.Conn) {
	defer conn.Close()

	req, err := ReadRequest(bufio.NewReader(conn))
	if err != nil {
		p.metrics.requests.WithLabelValues(outcomeError).Inc()
		var se *StatusError
		if stderrors.As(err, &se) {
			if werr := writeError(conn, se.Code, se.Reason, se.Detail); werr != nil {
				level.Debug(p.logger).Log("msg", "error response failed", "err", werr)
			}
		}
		level.Debug(p.logger).Log("msg", "bad request", "err", err)
		return
	}

	key := req.CacheKey()

	// The hit path copies the payload out under read admission and
	// releases before any socket I/O; the recency update is deferred to a
	// short exclusive phase of its own.
	p.rw.AcquireRead()
	body, ok := p.cache.Peek(key)
	p.rw.ReleaseRead()

	if ok {
		p.rw.AcquireWrite()
		p.cache.Touch(key)
		p.rw.ReleaseWrite()

		p.metrics.requests.WithLabelValues(outcomeHit).Inc()
		p.metrics.servedBytes.Add(float64(len(body)))
		if _, err := conn.Write(body); err != nil {
			level.Debug(p.logger).Log("msg", "client write failed", "uri", req.URI, "err", err)
		}
		return
	}

	p.metrics.requests.WithLabelValues(outcomeMiss).Inc()
	p.fetch(conn, req, key)
}

// fetch forwards the rewritten request to the origin server and relays the
// response, accumulating up to MaxObjectSize bytes for the cache while
// streaming every chunk to the client. Partial data already relayed is
// never retracted; a failed or oversized relay only discards the
// accumulation buffer.
func (p *Proxy) fetch(conn net.Conn, req *Request, key []byte) {
	upstream, err := net.Dial("tcp", net.JoinHostPort(req.Host, req.Port))
	if err != nil {
		level.Debug(p.logger).Log("msg", "upstream dial failed",
			"host", req.Host, "port", req.Port, "err", err)
		return
	}
	defer upstream.Close()

	if _, err := upstream.Write(req.Upstream(p.cfg.UserAgent)); err != nil {
		level.Debug(p.logger).Log("msg", "upstream write failed", "uri", req.URI, "err", err)
		return
	}

	accum := make([]byte, 0, p.cfg.MaxObjectSize)
	cacheable := true
	chunk := make([]byte, 8*1024)
	total := 0

	for {
		n, rerr := upstream.Read(chunk)
		if n > 0 {
			total += n
			if _, werr := conn.Write(chunk[:n]); werr != nil {
				level.Debug(p.logger).Log("msg", "client write failed", "uri", req.URI, "err", werr)
				cacheable = false
				break
			}
			if total > p.cfg.MaxObjectSize {
				cacheable = false
			} else {
				accum = append(accum, chunk[:n]...)
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				level.Debug(p.logger).Log("msg", "upstream read failed", "uri", req.URI, "err", rerr)
				cacheable = false
			}
			break
		}
	}
	p.metrics.fetchedBytes.Add(float64(total))

	if !cacheable {
		return
	}

	p.rw.AcquireWrite()
	evicted := p.cache.Evictions()
	stored := p.cache.Insert(key, accum)
	evicted = p.cache.Evictions() - evicted
	cacheBytes := p.cache.Size()
	p.rw.ReleaseWrite()

	if stored {
		p.metrics.inserts.Inc()
	}
	p.metrics.evictions.Add(float64(evicted))
	p.metrics.cacheBytes.Set(float64(cacheBytes))
}
