package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jacktea/xpaste/pkg/fingerprint"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

const (
	defaultCacheEntries = 256
	defaultCacheMaxBlob = 256 << 10
)

// RemoteStore persists blobs in an S3-compatible bucket. Decoded content of
// recently used small blobs is kept in an LRU.
type RemoteStore struct {
	client  *http.Client
	baseURL string
	prefix  string
	signer  Signer
	opts    Options
	cache   *lru.Cache[ID, []byte]
	maxBlob int
}

// RemoteConfig describes the bucket a RemoteStore talks to.
type RemoteConfig struct {
	Endpoint string
	Bucket   string
	// Prefix is prepended to every object key.
	Prefix string
	Client *http.Client
	// CacheEntries bounds the read cache; negative disables it.
	CacheEntries int
	// CacheMaxBlob is the largest decoded blob the cache retains, in
	// bytes. Zero means 256 KiB.
	CacheMaxBlob int
	Options      Options
}

// Signer signs HTTP requests for remote providers.
type Signer interface {
	Sign(req *http.Request, payloadHash string) error
}

// NewRemoteStore builds a RemoteStore with a signer.
func NewRemoteStore(cfg RemoteConfig, signer Signer) (*RemoteStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "RemoteStore", "endpoint and bucket required")
	}
	bucket := strings.Trim(cfg.Bucket, "/")
	if bucket == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "RemoteStore", "bucket")
	}
	if err := cfg.Options.Encryption.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "RemoteStore", "", err)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	store := &RemoteStore{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.Endpoint, "/") + "/" + bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		signer:  signer,
		opts:    cfg.Options,
	}
	if cfg.CacheEntries == 0 {
		cfg.CacheEntries = defaultCacheEntries
	}
	store.maxBlob = cfg.CacheMaxBlob
	if store.maxBlob <= 0 {
		store.maxBlob = defaultCacheMaxBlob
	}
	if cfg.CacheEntries > 0 {
		c, err := lru.New[ID, []byte](cfg.CacheEntries)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInvalid, "RemoteStore", "", err)
		}
		store.cache = c
	}
	return store, nil
}

// Put buffers src to learn its fingerprint, then uploads the encoded blob
// unless the bucket already holds it. Callers bound src.
func (r *RemoteStore) Put(ctx context.Context, src io.Reader) (ID, int64, error) {
	var plain bytes.Buffer
	hasher := fingerprint.New()
	if _, err := io.Copy(io.MultiWriter(&plain, hasher), src); err != nil {
		return "", 0, xerrors.Classify("RemoteStore.Put", "", err)
	}
	id := ID(fingerprint.Encode(hasher.Sum(nil)))
	size := int64(plain.Len())
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return "", 0, err
	}
	if exists {
		return id, size, nil
	}
	var payload bytes.Buffer
	enc, err := newEncoder(&payload, r.opts)
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Put", string(id), err)
	}
	if _, err := enc.Write(plain.Bytes()); err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Put", string(id), err)
	}
	if err := enc.Close(); err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Put", string(id), err)
	}
	body := payload.Bytes()
	md5Sum := md5.Sum(body)
	digest := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(digest[:])
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.objectURL(id), bytes.NewReader(body))
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Put", string(id), err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("Content-MD5", base64.StdEncoding.EncodeToString(md5Sum[:]))
	resp, err := r.do(req, payloadHash)
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Put", string(id), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Put", string(id), remoteError("put", resp))
	}
	r.cachePut(id, plain.Bytes())
	return id, size, nil
}

// Get returns the decoded blob, from cache when possible.
func (r *RemoteStore) Get(ctx context.Context, id ID) (io.ReadCloser, error) {
	if data, ok := r.cacheGet(id); ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.objectURL(id), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Get", string(id), err)
	}
	resp, err := r.do(req, emptyPayloadHash())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Get", string(id), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, xerrors.E(xerrors.KindNotFound, "RemoteStore.Get", string(id))
	}
	if resp.StatusCode >= 300 {
		return nil, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Get", string(id), remoteError("get", resp))
	}
	dec, err := newDecoder(resp.Body, r.opts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Get", string(id), err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Get", string(id), err)
	}
	r.cachePut(id, data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists issues a HEAD for the object.
func (r *RemoteStore) Exists(ctx context.Context, id ID) (bool, error) {
	if _, ok := r.cacheGet(id); ok {
		return true, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.objectURL(id), nil)
	if err != nil {
		return false, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Exists", string(id), err)
	}
	resp, err := r.do(req, emptyPayloadHash())
	if err != nil {
		return false, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Exists", string(id), err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, xerrors.Wrap(xerrors.KindInternal, "RemoteStore.Exists", string(id), fmt.Errorf("remote head %s", resp.Status))
	}
}

func (r *RemoteStore) do(req *http.Request, payloadHash string) (*http.Response, error) {
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("Host", req.URL.Host)
	if r.signer != nil {
		if err := r.signer.Sign(req, payloadHash); err != nil {
			return nil, err
		}
	}
	return r.client.Do(req)
}

func (r *RemoteStore) objectURL(id ID) string {
	if r.prefix == "" {
		return r.baseURL + "/" + string(id)
	}
	return r.baseURL + "/" + r.prefix + "/" + string(id)
}

func (r *RemoteStore) cacheGet(id ID) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.Get(id)
}

// Cached slices are never handed out for writing, so no copy is taken.
func (r *RemoteStore) cachePut(id ID, data []byte) {
	if r.cache == nil || len(data) == 0 || len(data) > r.maxBlob {
		return
	}
	r.cache.Add(id, append([]byte(nil), data...))
}

func remoteError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote %s %s: %s", op, resp.Status, strings.TrimSpace(string(body)))
}

// S3Config describes the parameters for AWS S3-compatible stores.
type S3Config struct {
	RemoteConfig
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// NewS3Store builds a RemoteStore with AWS SigV4 signing.
func NewS3Store(cfg S3Config) (*RemoteStore, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Region == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "NewS3Store", "access key, secret key and region required")
	}
	signer := &s3Signer{
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		region:    cfg.Region,
		token:     cfg.SessionToken,
	}
	return NewRemoteStore(cfg.RemoteConfig, signer)
}
