package docsource

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/model"
)

// Loader retrieves the already-converted text for a document by path or key.
// Conversion from PDF/HTML/etc. happens upstream; loaders only read text.
type Loader interface {
	Load(ctx context.Context, path string) ([]byte, error)
}

const tokenEncoding = "o200k_base"

var yearPrefix = regexp.MustCompile(`(?:^|[_\-/])((?:19|20)\d{2})(?:[_\-.]|$)`)

// BuildDocument loads one source file and turns it into an immutable
// Document. The ID is derived from the path plus a content prefix, so the
// same file always maps to the same document and a changed file becomes a
// new one. Text beyond maxTokens is truncated on a token boundary.
func BuildDocument(ctx context.Context, loader Loader, path string, maxTokens int) (model.Document, error) {
	raw, err := loader.Load(ctx, path)
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to load document %s: %w", path, err)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return model.Document{}, util.Permanent{Err: fmt.Errorf("document %s is empty", path)}
	}

	if maxTokens > 0 {
		text, err = truncateTokens(text, maxTokens)
		if err != nil {
			return model.Document{}, err
		}
	}

	return model.Document{
		ID:           DeriveID(path, text),
		RawText:      text,
		SourcePath:   path,
		DeclaredYear: declaredYear(path),
	}, nil
}

// DeriveID computes the stable document identifier from the source path and
// a prefix of the content.
func DeriveID(path, text string) string {
	prefix := text
	if len(prefix) > 4096 {
		prefix = prefix[:4096]
	}
	return util.ShortHash(path, prefix)
}

// declaredYear pulls a publication year out of filename conventions like
// "2019_barney_rbv.txt". Returns 0 when no year is present.
func declaredYear(path string) int {
	m := yearPrefix.FindStringSubmatch(path)
	if m == nil {
		return 0
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return year
}

func truncateTokens(text string, maxTokens int) (string, error) {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return "", err
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, nil
	}
	return enc.Decode(tokens[:maxTokens]), nil
}
