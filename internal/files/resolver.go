package files

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/docsift/pkg/models"
)

// Resolver turns a subject_ref into the text handed to an AI provider.
type Resolver struct {
	client   Client
	maxBytes int
}

// NewResolver creates a Resolver. maxBytes caps the combined content; <= 0 means no cap.
func NewResolver(client Client, maxBytes int) *Resolver {
	return &Resolver{client: client, maxBytes: maxBytes}
}

// Resolve fetches every file named by ref. A single file is returned as-is; several files
// are concatenated, each under a header naming it.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	subject, err := models.ParseSubject(ref)
	if err != nil {
		return "", err
	}

	if len(subject.FileIDs) == 1 {
		data, err := r.client.Content(ctx, subject.FileIDs[0], r.maxBytes)
		if err != nil {
			return "", err
		}
		return truncateString(string(data), r.maxBytes), nil
	}

	var b strings.Builder
	for i, id := range subject.FileIDs {
		info, err := r.client.Metadata(ctx, id)
		if err != nil {
			return "", err
		}
		data, err := r.client.Content(ctx, id, r.maxBytes)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== Document %d: %s (file:%s) ===\n", i+1, info.Name, id)
		b.Write(data)
	}
	return truncateString(b.String(), r.maxBytes), nil
}

// truncateString cuts s to at most maxBytes without splitting a UTF-8 rune.
func truncateString(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
