package generator

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/yangwenmai/infographer/internal/model"
)

// Stub returns a deterministic image URL per address (for development/testing).
type Stub struct {
	// Delay simulates generation latency.
	Delay time.Duration
}

func (s *Stub) Generate(ctx context.Context, address string, _ *model.Credential) (*Result, error) {
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	sum := sha1.Sum([]byte(address))
	return &Result{ImageURL: "https://stub.invalid/infographics/" + hex.EncodeToString(sum[:8]) + ".png"}, nil
}
