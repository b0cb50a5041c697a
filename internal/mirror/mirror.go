// Package mirror archives resolved product images into a blob store.
package mirror

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ferregold/image-scraper/internal/catalog"
)

const defaultMaxBytes = 10 << 20

// Mirror copies each resolved image into durable storage and rewrites the
// record to point at the mirrored copy. Hotlinked vendor and search-engine
// URLs rot; the mirror is what makes a completed job's results stable.
type Mirror struct {
	store    catalog.BlobStore
	client   *http.Client
	prefix   string
	maxBytes int64
	logger   *zap.Logger
}

// New constructs a Mirror. A zero maxBytes applies a 10 MiB cap per image.
func New(store catalog.BlobStore, client *http.Client, prefix string, maxBytes int64, logger *zap.Logger) *Mirror {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		store:    store,
		client:   client,
		prefix:   strings.Trim(prefix, "/"),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Archive mirrors every record that carries an image reference and returns the
// batch with mirrored URIs substituted in. Mirroring is best-effort per item:
// a failed download or upload leaves the original reference in place and is
// logged, never failing the job that produced the results.
func (m *Mirror) Archive(ctx context.Context, jobID string, records []catalog.ProductRecord) []catalog.ProductRecord {
	out := make([]catalog.ProductRecord, len(records))
	copy(out, records)

	for i := range out {
		if out[i].ImageURL == nil || *out[i].ImageURL == "" {
			continue
		}
		uri, err := m.archiveOne(ctx, jobID, i+1, out[i])
		if err != nil {
			m.logger.Warn("image mirror failed, keeping original reference",
				zap.String("job_id", jobID),
				zap.String("producto", out[i].Producto),
				zap.Error(err),
			)
			continue
		}
		out[i].ImageURL = &uri
	}
	return out
}

func (m *Mirror) archiveOne(ctx context.Context, jobID string, position int, record catalog.ProductRecord) (string, error) {
	source := *record.ImageURL

	var (
		contentType string
		data        []byte
		err         error
	)
	if strings.HasPrefix(source, "data:") {
		contentType, data, err = decodeDataURI(source)
	} else {
		contentType, data, err = m.download(ctx, source)
	}
	if err != nil {
		return "", err
	}

	path := m.objectPath(jobID, position, record.Producto, contentType)
	uri, err := m.store.PutObject(ctx, path, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store mirrored image: %w", err)
	}
	return uri, nil
}

func (m *Mirror) download(ctx context.Context, url string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return "", nil, fmt.Errorf("image exceeds %d byte cap", m.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return contentType, data, nil
}

// decodeDataURI unpacks a data:image/...;base64,... URI into its media type
// and raw bytes.
func decodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	contentType, encoding := meta, ""
	if idx := strings.Index(meta, ";"); idx >= 0 {
		contentType, encoding = meta[:idx], meta[idx+1:]
	}
	if contentType == "" {
		contentType = "text/plain"
	}

	var data []byte
	var err error
	if encoding == "base64" {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decode base64 payload: %w", err)
		}
	} else {
		data = []byte(payload)
	}
	return contentType, data, nil
}

func (m *Mirror) objectPath(jobID string, position int, producto string, contentType string) string {
	name := slugify(producto)
	if name == "" {
		name = "item"
	}
	path := fmt.Sprintf("%s/%03d-%s%s", jobID, position, name, extensionFor(contentType))
	if m.prefix != "" {
		path = m.prefix + "/" + path
	}
	return path
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	default:
		return ".bin"
	}
}
