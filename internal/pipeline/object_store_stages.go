package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/imageio"
)

// ObjectStore is the slice of the storage client the object-store stages
// use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, objectKey string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, artifact Artifact) (domain.Output, error) {
	if e.Storage == nil {
		return domain.Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(artifact.Name) == "" {
		return domain.Output{}, errors.New("artifact name is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		sanitizeFileName(artifact.Name),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, artifact.Data, imageio.ContentType(artifact.Format)); err != nil {
		return domain.Output{}, err
	}
	return outputFor(artifact, objectKey), nil
}

func (e ObjectStoreEmitter) Discard(ctx context.Context, output domain.Output) error {
	if e.Storage == nil {
		return errors.New("storage client is required")
	}
	return e.Storage.RemoveObject(ctx, output.Path)
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
