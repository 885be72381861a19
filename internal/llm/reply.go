package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
	"github.com/inkflow-ai/studio-platform/internal/leadstate"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

var replyTracer = otel.Tracer("llm")

// Reply is the structured output the generative path produces: short
// chat bubbles plus any field updates the model inferred from the
// lead's message.
type Reply struct {
	Bubbles      []string          `json:"bubbles"`
	FieldUpdates map[string]string `json:"field_updates"`
	Meta         map[string]string `json:"meta"`
}

// ReplyService turns canonical state plus the latest inbound message
// into a Reply. It is the last stop in the router: deterministic
// handlers run first, this answers everything they decline.
type ReplyService struct {
	client Client
	model  string
	logger *logging.Logger
}

func NewReplyService(client Client, model string, logger *logging.Logger) *ReplyService {
	if client == nil {
		panic("llm: nil client")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReplyService{client: client, model: model, logger: logger}
}

const replySystemPrompt = `You are the booking assistant for a tattoo studio. You help leads describe the piece they want, choose between an in-person consultation and a message consultation, and schedule with an artist.

Reply ONLY with a JSON object of this exact shape, no prose around it:
{"bubbles": ["short message", "..."], "field_updates": {"field_key": "value"}, "meta": {}}

Rules:
- bubbles are short conversational texts, at most three.
- field_updates may set only keys you learned from the lead's message: tattoo_placement, tattoo_summary, tattoo_size, tattoo_style, timeline, language_preference, artist_preference, consultation_type, consult_explained.
- Never invent placement, size, or artist names the lead did not say.
- Never discuss prices beyond the deposit; consultations settle pricing.`

// Generate asks the model for the next turn. changed carries the fields
// that moved since the lead last got a reply and becomes part of the
// grounding brief. A response that is not valid JSON degrades to a
// single bubble with no field updates rather than failing the turn.
func (s *ReplyService) Generate(ctx context.Context, state leadstate.CanonicalState, phase leadstate.Phase, changed fieldstore.Fields, message string) (Reply, error) {
	ctx, span := replyTracer.Start(ctx, "llm.generate_reply")
	defer span.End()

	system := []string{
		replySystemPrompt,
		stateBrief(state, phase),
	}
	if brief := changedBrief(changed); brief != "" {
		system = append(system, brief)
	}

	req := Request{
		Model:       s.model,
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: message}},
		MaxTokens:   600,
		Temperature: 0.4,
	}

	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		return Reply{}, fmt.Errorf("llm: generate reply: %w", err)
	}

	reply, err := parseReply(resp.Text)
	if err != nil {
		s.logger.Warn("model reply was not structured, degrading to plain text", "error", err)
		return Reply{Bubbles: []string{strings.TrimSpace(resp.Text)}}, nil
	}
	return reply, nil
}

// changedBrief lists the fields that moved since the last reply so the
// model can acknowledge new facts instead of re-asking for them.
func changedBrief(changed fieldstore.Fields) string {
	if len(changed) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Fields that changed since your last reply:\n")
	for _, key := range leadstate.ChangedKeys(changed) {
		fmt.Fprintf(&b, "- %s: %s\n", key, changed[key])
	}
	return b.String()
}

// stateBrief summarizes what the engine already knows so the model
// never re-asks answered questions.
func stateBrief(state leadstate.CanonicalState, phase leadstate.Phase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation phase: %s.\n", phase)
	known := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(&b, "Known %s: %s.\n", label, value)
		}
	}
	known("placement", state.Placement)
	known("description", state.Summary)
	known("size", state.Size)
	known("style", state.Style)
	known("timeline", state.Timeline)
	known("language preference", state.LanguagePref)
	known("artist preference", state.ArtistPref)
	if state.ConsultType != leadstate.ConsultUnset {
		fmt.Fprintf(&b, "Chosen consultation type: %s.\n", state.ConsultType)
	}
	if state.DepositLinkSent {
		b.WriteString("A deposit link was already sent.\n")
	}
	if state.DepositPaid {
		b.WriteString("The deposit is paid.\n")
	}
	return b.String()
}

func parseReply(raw string) (Reply, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start >= 0 && end > start {
			text = text[start : end+1]
		}
	}

	var reply Reply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return Reply{}, fmt.Errorf("llm: reply parse: %w", err)
	}
	if len(reply.Bubbles) == 0 {
		return Reply{}, fmt.Errorf("llm: reply had no bubbles")
	}
	return reply, nil
}
