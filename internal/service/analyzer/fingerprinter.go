package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/pkg/hash"
)

// ErrIndeterminate marks a submission whose content could not be fetched.
// Such a submission is skipped for the cycle and never marked.
var ErrIndeterminate = errors.New("fingerprint indeterminate")

// ContentSource downloads attachment bytes.
type ContentSource interface {
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
}

type Fingerprinter interface {
	Fingerprint(ctx context.Context, attempt int, attachmentURL string) (models.AttemptFingerprint, error)
}

type fingerprinter struct {
	source     ContentSource
	hasher     hash.Hasher
	comparator HashComparator
	logger     zerolog.Logger
}

func NewFingerprinter(source ContentSource, hasher hash.Hasher, logger zerolog.Logger) Fingerprinter {
	return &fingerprinter{
		source:     source,
		hasher:     hasher,
		comparator: NewHashComparator(hasher.Algorithm()),
		logger:     logger,
	}
}

func (f *fingerprinter) Fingerprint(ctx context.Context, attempt int, attachmentURL string) (models.AttemptFingerprint, error) {
	content, err := f.source.FetchBytes(ctx, attachmentURL)
	if err != nil {
		return models.AttemptFingerprint{}, fmt.Errorf("%w: %v", ErrIndeterminate, err)
	}

	digest, err := f.comparator.Normalize(f.hasher.Sum(content))
	if err != nil {
		return models.AttemptFingerprint{}, fmt.Errorf("%w: %v", ErrIndeterminate, err)
	}

	fp := models.AttemptFingerprint{Attempt: attempt, ContentHash: digest}

	f.logger.Debug().
		Int("attempt", attempt).
		Int("content_size", len(content)).
		Str("fingerprint", fp.Prefix()).
		Msg("Content fingerprinted")

	return fp, nil
}
