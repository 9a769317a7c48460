package main

import (
	"context"
	"fmt"
	"log"

	"github.com/cisentry/cisentry/internal/config"
	"github.com/cisentry/cisentry/pkg/embedder"
)

// Quick probe against a local Ollama: computes one embedding with the
// configured model and prints its shape.
func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatal(err)
	}

	client, err := embedder.NewDefaultClient(cfg.Embedder)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	vec, err := client.Embed(ctx, "pipeline failed: connection refused while pushing image")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("model %s produced %d dimensions\n", cfg.Embedder.Model, len(vec))
	if len(vec) >= 3 {
		fmt.Printf("head: [%.6f %.6f %.6f ...]\n", vec[0], vec[1], vec[2])
	}
}
