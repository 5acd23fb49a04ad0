package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

// s3Signer implements AWS Signature Version 4 for the s3 service.
type s3Signer struct {
	accessKey string
	secretKey string
	region    string
	token     string
	now       func() time.Time
}

func (s *s3Signer) Sign(req *http.Request, payloadHash string) error {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	t := now().UTC()
	amzDate := t.Format("20060102T150405Z")
	day := t.Format("20060102")
	if payloadHash == "" {
		payloadHash = emptyPayloadHash()
	}
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("host", req.URL.Host)
	if s.token != "" {
		req.Header.Set("x-amz-security-token", s.token)
	}
	headers, signed := signedHeaders(req.Header)
	canonical := strings.Join([]string{
		req.Method,
		escapedPath(req.URL),
		sortedQuery(req.URL),
		headers,
		signed,
		payloadHash,
	}, "\n")
	requestDigest := sha256.Sum256([]byte(canonical))
	scope := day + "/" + s.region + "/s3/aws4_request"
	toSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(requestDigest[:]),
	}, "\n")
	key := hmacSHA256([]byte("AWS4"+s.secretKey), day)
	key = hmacSHA256(key, s.region)
	key = hmacSHA256(key, "s3")
	key = hmacSHA256(key, "aws4_request")
	signature := hex.EncodeToString(hmacSHA256(key, toSign))
	req.Header.Set("Authorization", fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		s.accessKey, scope, signed, signature))
	return nil
}

func escapedPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func sortedQuery(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	values, _ := url.ParseQuery(u.RawQuery)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

// signedHeaders returns the canonical header block and the signed header list.
func signedHeaders(h http.Header) (string, string) {
	byName := make(map[string][]string, len(h))
	for k, v := range h {
		lk := strings.ToLower(k)
		byName[lk] = append(byName[lk], v...)
	}
	names := make([]string, 0, len(byName))
	for k := range byName {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, k := range names {
		values := append([]string(nil), byName[k]...)
		sort.Strings(values)
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strings.TrimSpace(strings.Join(values, ",")))
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func emptyPayloadHash() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}
