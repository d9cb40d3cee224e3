package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"buglens/pkg/domain"
)

const (
	archiveContentType = "application/zstd"
	defaultPrefix      = "analyses"
)

// AnalysisArchive stores analysis records as zstd-compressed JSON objects.
type AnalysisArchive struct {
	store  ObjectStore
	prefix string
}

// NewAnalysisArchive wraps store. Keys are placed under prefix.
func NewAnalysisArchive(store ObjectStore, prefix string) *AnalysisArchive {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &AnalysisArchive{store: store, prefix: prefix}
}

// Archive uploads a and returns its object key.
func (a *AnalysisArchive) Archive(ctx context.Context, analysis domain.Analysis) (string, error) {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return "", fmt.Errorf("encode analysis: %w", err)
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("init zstd: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		return "", fmt.Errorf("compress analysis: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("compress analysis: %w", err)
	}
	key := a.key(analysis)
	if err := a.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), archiveContentType); err != nil {
		return "", err
	}
	return key, nil
}

// Load reads an archived analysis back.
func (a *AnalysisArchive) Load(ctx context.Context, key string) (domain.Analysis, error) {
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return domain.Analysis{}, err
	}
	defer rc.Close()
	dec, err := zstd.NewReader(rc)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("init zstd: %w", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("decompress analysis: %w", err)
	}
	var out domain.Analysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return out, nil
}

// key is prefix/user/yyyy/mm/analysis-uuid.json.zst.
func (a *AnalysisArchive) key(analysis domain.Analysis) string {
	created := analysis.CreatedAt.UTC()
	return path.Join(
		a.prefix,
		analysis.UserID,
		created.Format("2006"),
		created.Format("01"),
		fmt.Sprintf("%s-%s.json.zst", analysis.ID, uuid.NewString()),
	)
}
