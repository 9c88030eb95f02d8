package embedder

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkComputeHash(b *testing.B) {
	texts := []string{
		"short",
		"medium length text for hashing",
		"this is a longer text that represents a typical note paragraph that might be embedded for vault question answering",
	}

	for _, text := range texts {
		b.Run(fmt.Sprintf("len=%d", len(text)), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = ComputeHash(text)
			}
		})
	}
}

func BenchmarkGatewayEmbed(b *testing.B) {
	p, _ := NewLocalProvider("")
	ctx := context.Background()

	texts := make([]string, 200)
	for i := range texts {
		texts[i] = fmt.Sprintf("note paragraph number %d about vector search", i)
	}

	for _, cacheSize := range []int{0, 1000} {
		g, _ := NewGateway(p, GatewayConfig{CacheSize: cacheSize})
		b.Run(fmt.Sprintf("cache=%d", cacheSize), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := g.Embed(ctx, texts); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
