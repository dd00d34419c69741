// Package adminauth guards the daemon's /admin endpoints. With a shared secret configured,
// requests must carry an HMAC-SHA256 signature over timestamp, method, path, nonce and
// body; without one, only loopback clients are admitted.
package adminauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderTS        = "x-gw-ts"
	HeaderNonce     = "x-gw-nonce"
	HeaderSignature = "x-gw-signature"

	// MaxSkew bounds the distance between the signer's clock and ours.
	MaxSkew = 5 * time.Minute

	maxBody = 1 << 20
)

func canonical(ts, method, path, nonce string, body []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + strings.TrimSpace(nonce) + "\n" + string(body)
}

func sign(secret []byte, canon string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canon))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign adds the signature headers to req. body must be the exact request body.
func Sign(req *http.Request, body []byte, secret []byte, now time.Time) {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	nonce := uuid.NewString()
	req.Header.Set(HeaderTS, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, sign(secret, canonical(ts, req.Method, req.URL.Path, nonce, body)))
}

type Verifier struct {
	secret []byte
	guard  *replayGuard
	now    func() time.Time
}

// NewVerifier returns a verifier for secret; an empty secret means loopback-only.
func NewVerifier(secret string) *Verifier {
	v := &Verifier{now: time.Now}
	if s := strings.TrimSpace(secret); s != "" {
		v.secret = []byte(s)
		v.guard = newReplayGuard(2 * MaxSkew)
	}
	return v
}

// Verify checks r and returns the body it consumed. A non-zero status means rejected.
func (v *Verifier) Verify(r *http.Request) ([]byte, int, string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, http.StatusBadRequest, "read body"
	}
	if len(v.secret) == 0 {
		if !IsLoopback(r.RemoteAddr) {
			return nil, http.StatusForbidden, "forbidden"
		}
		return body, 0, ""
	}

	ts := strings.TrimSpace(r.Header.Get(HeaderTS))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderSignature)))
	switch {
	case ts == "":
		return nil, http.StatusUnauthorized, "missing " + HeaderTS
	case nonce == "":
		return nil, http.StatusUnauthorized, "missing " + HeaderNonce
	case sig == "":
		return nil, http.StatusUnauthorized, "missing " + HeaderSignature
	}
	tsMS, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, http.StatusUnauthorized, "bad " + HeaderTS
	}
	now := v.now()
	if d := now.UnixMilli() - tsMS; d > MaxSkew.Milliseconds() || d < -MaxSkew.Milliseconds() {
		return nil, http.StatusUnauthorized, HeaderTS + " outside window"
	}
	exp := sign(v.secret, canonical(ts, r.Method, r.URL.Path, nonce, body))
	if !hmac.Equal([]byte(sig), []byte(exp)) {
		return nil, http.StatusUnauthorized, "bad signature"
	}
	if !v.guard.allow(nonce, sig, now) {
		return nil, http.StatusUnauthorized, "replayed request"
	}
	return body, 0, ""
}

// Wrap admits only verified requests to next. The body is restored for next to read.
func (v *Verifier) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, status, msg := v.Verify(r)
		if status != 0 {
			http.Error(rw, msg, status)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next(rw, r)
	}
}

func IsLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
