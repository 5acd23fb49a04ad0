package s3gw

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/johannesboyne/gofakes3"

	"github.com/jacktea/xpaste/pkg/fingerprint"
	"github.com/jacktea/xpaste/pkg/repository"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

// Catalog is the read side of the repository the gateway needs.
type Catalog interface {
	Walk(ctx context.Context, fn func(repository.Object) error) error
	Get(ctx context.Context, code string) (repository.Object, error)
	Open(ctx context.Context, code string) (io.ReadCloser, error)
}

// Backend implements gofakes3.Backend over the public objects of a Catalog.
// Every object lives in a single bucket keyed by its code. Mutating calls
// are rejected.
type Backend struct {
	catalog Catalog
	bucket  string
	created time.Time
}

var _ gofakes3.Backend = (*Backend)(nil)

// NewBackend wraps catalog as the named bucket.
func NewBackend(catalog Catalog, bucket string) *Backend {
	return &Backend{catalog: catalog, bucket: bucket, created: time.Now()}
}

func (b *Backend) ListBuckets() ([]gofakes3.BucketInfo, error) {
	return []gofakes3.BucketInfo{{
		Name:         b.bucket,
		CreationDate: gofakes3.NewContentTime(b.created),
	}}, nil
}

func (b *Backend) ListBucket(name string, prefix *gofakes3.Prefix, page gofakes3.ListBucketPage) (*gofakes3.ObjectList, error) {
	if err := b.ensureBucket(name); err != nil {
		return nil, err
	}
	if prefix == nil {
		prefix = &gofakes3.Prefix{}
	}
	limit := int(page.MaxKeys)
	if limit <= 0 {
		limit = gofakes3.DefaultMaxBucketKeys
	}
	results := gofakes3.NewObjectList()
	seenPrefixes := make(map[string]struct{})
	var lastKey string
	count := 0
	err := b.catalog.Walk(context.Background(), func(obj repository.Object) error {
		if results.IsTruncated || obj.Protected() {
			return nil
		}
		if page.Marker != "" && obj.Code <= page.Marker {
			return nil
		}
		match := gofakes3.PrefixMatch{Key: obj.Code, MatchedPart: obj.Code}
		if prefix.HasPrefix || prefix.HasDelimiter {
			if !prefix.Match(obj.Code, &match) {
				return nil
			}
		}
		if count >= limit {
			results.IsTruncated = true
			return nil
		}
		if match.CommonPrefix {
			if _, ok := seenPrefixes[match.MatchedPart]; ok {
				return nil
			}
			seenPrefixes[match.MatchedPart] = struct{}{}
			results.AddPrefix(match.MatchedPart)
			lastKey = match.MatchedPart
			count++
			return nil
		}
		results.Add(contentFromObject(obj))
		lastKey = obj.Code
		count++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if results.IsTruncated {
		results.NextMarker = lastKey
	}
	return results, nil
}

func (b *Backend) BucketExists(name string) (bool, error) {
	return name == b.bucket, nil
}

func (b *Backend) GetObject(bucket, object string, rangeRequest *gofakes3.ObjectRangeRequest) (*gofakes3.Object, error) {
	obj, err := b.lookup(bucket, object)
	if err != nil {
		return nil, err
	}
	var rng *gofakes3.ObjectRange
	if rangeRequest != nil {
		rng, err = rangeRequest.Range(obj.Size)
		if err != nil {
			return nil, err
		}
	}
	rc, err := b.catalog.Open(context.Background(), obj.Code)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		data = data[rng.Start : rng.Start+rng.Length]
	}
	return objectResponse(obj, io.NopCloser(bytes.NewReader(data)), rng), nil
}

func (b *Backend) HeadObject(bucket, object string) (*gofakes3.Object, error) {
	obj, err := b.lookup(bucket, object)
	if err != nil {
		return nil, err
	}
	return objectResponse(obj, io.NopCloser(bytes.NewReader(nil)), nil), nil
}

func (b *Backend) CreateBucket(name string) error { return gofakes3.ErrNotImplemented }
func (b *Backend) DeleteBucket(name string) error { return gofakes3.ErrNotImplemented }
func (b *Backend) ForceDeleteBucket(name string) error {
	return gofakes3.ErrNotImplemented
}

func (b *Backend) DeleteObject(bucket, object string) (gofakes3.ObjectDeleteResult, error) {
	return gofakes3.ObjectDeleteResult{}, gofakes3.ErrNotImplemented
}

func (b *Backend) PutObject(bucket, key string, meta map[string]string, input io.Reader, _ int64, conditions *gofakes3.PutConditions) (gofakes3.PutObjectResult, error) {
	return gofakes3.PutObjectResult{}, gofakes3.ErrNotImplemented
}

func (b *Backend) DeleteMulti(bucket string, objects ...string) (gofakes3.MultiDeleteResult, error) {
	return gofakes3.MultiDeleteResult{}, gofakes3.ErrNotImplemented
}

func (b *Backend) CopyObject(srcBucket, srcKey, dstBucket, dstKey string, meta map[string]string) (gofakes3.CopyObjectResult, error) {
	return gofakes3.CopyObjectResult{}, gofakes3.ErrNotImplemented
}

func (b *Backend) ensureBucket(name string) error {
	if name != b.bucket {
		return gofakes3.BucketNotFound(name)
	}
	return nil
}

// lookup hides protected objects and keys that are not codes.
func (b *Backend) lookup(bucket, key string) (repository.Object, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return repository.Object{}, err
	}
	if !fingerprint.Valid(key) {
		return repository.Object{}, gofakes3.KeyNotFound(key)
	}
	obj, err := b.catalog.Get(context.Background(), key)
	if err != nil {
		if xerrors.KindOf(err) == xerrors.KindNotFound {
			return repository.Object{}, gofakes3.KeyNotFound(key)
		}
		return repository.Object{}, err
	}
	if obj.Protected() {
		return repository.Object{}, gofakes3.KeyNotFound(key)
	}
	return obj, nil
}

func contentFromObject(obj repository.Object) *gofakes3.Content {
	return &gofakes3.Content{
		Key:          obj.Code,
		LastModified: gofakes3.NewContentTime(obj.CreatedAt),
		Size:         obj.Size,
		ETag:         gofakes3.FormatETag(etagBytes(obj.Code)),
	}
}

func objectResponse(obj repository.Object, body io.ReadCloser, rng *gofakes3.ObjectRange) *gofakes3.Object {
	headers := map[string]string{
		"Last-Modified": obj.CreatedAt.UTC().Format(http.TimeFormat),
	}
	if obj.ContentType != "" {
		headers["Content-Type"] = obj.ContentType
	}
	return &gofakes3.Object{
		Name:     obj.Code,
		Metadata: headers,
		Size:     obj.Size,
		Contents: body,
		Hash:     etagBytes(obj.Code),
		Range:    rng,
	}
}

// etagBytes derives the entity tag from the code, which already names the
// content.
func etagBytes(code string) []byte {
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return []byte(code)
	}
	return raw
}
