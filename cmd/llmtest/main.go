// llmtest is a manual smoke test for the reply providers: it runs one
// sample turn through Gemini (the fallback provider) and prints the
// structured reply.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/inkflow-ai/studio-platform/internal/leadstate"
	"github.com/inkflow-ai/studio-platform/internal/llm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Fatal("GEMINI_API_KEY is required for the smoke test")
	}
	modelID := os.Getenv("GEMINI_MODEL_ID")
	if modelID == "" {
		modelID = "gemini-1.5-flash"
	}

	client, err := llm.NewGeminiClient(ctx, geminiKey, modelID)
	if err != nil {
		log.Fatalf("create gemini client: %v", err)
	}
	defer client.Close()

	svc := llm.NewReplyService(client, modelID, nil)

	state := leadstate.CanonicalState{
		Placement:    "left forearm",
		Summary:      "phoenix rising from flames",
		Size:         "medium",
		Style:        "neo-traditional",
		LanguagePref: "Spanish",
	}
	phase := leadstate.DerivePhase(state)

	start := time.Now()
	reply, err := svc.Generate(ctx, state, phase, nil, "That sounds great, what happens next?")
	elapsed := time.Since(start)
	if err != nil {
		log.Fatalf("generate reply: %v", err)
	}

	fmt.Printf("model: %s (%v)\n", modelID, elapsed.Round(time.Millisecond))
	fmt.Printf("phase: %s\n", phase)
	for i, bubble := range reply.Bubbles {
		fmt.Printf("bubble %d: %s\n", i+1, bubble)
	}
	for key, value := range reply.FieldUpdates {
		fmt.Printf("field %s = %s\n", key, value)
	}
}
