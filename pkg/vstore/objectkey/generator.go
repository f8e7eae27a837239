package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// Generator defines the interface for blob key generation strategies
type Generator interface {
	// GenerateKey creates a blob key for a file uploaded in a session
	GenerateKey(sessionID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	FileName     string
	TemplateCode int

	// Variant is set for pre-baked size-specific images, e.g. "64x64"
	Variant string
}

// SessionGenerator groups files under their session:
// sessions/{sessionID}/{templateCode}/{fileID}/{filename}
type SessionGenerator struct{}

func NewSessionGenerator() *SessionGenerator {
	return &SessionGenerator{}
}

func (g *SessionGenerator) GenerateKey(sessionID uuid.UUID, metadata *KeyMetadata) string {
	fileID := xid.New().String()
	if metadata == nil {
		return fmt.Sprintf("sessions/%s/%s", sessionID, fileID)
	}
	prefix := fmt.Sprintf("sessions/%s/%d", sessionID, metadata.TemplateCode)
	if metadata.Variant != "" {
		prefix = fmt.Sprintf("%s/%s", prefix, sanitizePathComponent(metadata.Variant))
	}
	if metadata.FileName == "" {
		return fmt.Sprintf("%s/%s", prefix, fileID)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, fileID, sanitizeFilename(metadata.FileName))
}

// GitLikeGenerator provides Git-style sharded storage with original/variant separation
// Original: originals/objects/ab/cd1234ef5678_filename
// Variant:  variants/{variant}/objects/ab/cd1234ef5678_filename
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(sessionID uuid.UUID, metadata *KeyMetadata) string {
	fileID := xid.New().String()

	shard := g.ShardLength
	if shard <= 0 || shard > len(fileID) {
		shard = 2
	}
	// the leading bytes of an xid are a timestamp, so shard on the random tail
	shardDir := fileID[len(fileID)-shard:]
	filename := fileID
	if metadata != nil && metadata.FileName != "" {
		filename = fmt.Sprintf("%s_%s", fileID, sanitizeFilename(metadata.FileName))
	}

	pathPrefix := fmt.Sprintf("originals/objects/%s", shardDir)
	if metadata != nil && metadata.Variant != "" {
		pathPrefix = fmt.Sprintf("variants/%s/objects/%s", sanitizePathComponent(metadata.Variant), shardDir)
	}
	return fmt.Sprintf("%s/%s", pathPrefix, filename)
}

// CustomFuncGenerator allows users to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(sessionID uuid.UUID, metadata *KeyMetadata) string
}

func NewCustomFuncGenerator(fn func(sessionID uuid.UUID, metadata *KeyMetadata) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

func (g *CustomFuncGenerator) GenerateKey(sessionID uuid.UUID, metadata *KeyMetadata) string {
	return g.GenerateFunc(sessionID, metadata)
}

// NewRecommendedGenerator returns the recommended generator for new installations
func NewRecommendedGenerator() Generator {
	return NewSessionGenerator()
}

// New returns the generator registered under name: "session" or "git-like".
func New(name string) (Generator, error) {
	switch strings.ToLower(name) {
	case "", "session":
		return NewSessionGenerator(), nil
	case "git-like", "gitlike":
		return NewGitLikeGenerator(), nil
	}
	return nil, fmt.Errorf("unknown key generator: %s", name)
}

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
)

func sanitizeFilename(filename string) string {
	return unsafeChars.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(unsafeChars.Replace(component))
}
