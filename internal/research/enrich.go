package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rnednur/felix-sub000/internal/models"
)

var knowledgeSchema = llm.MustCompileSchema("knowledge.json", `{
	"type": "object",
	"required": ["knowledge"],
	"properties": {
		"knowledge": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["question", "answer"],
				"properties": {
					"question": {"type": "string"},
					"answer": {"type": "string"},
					"benchmarks": {"type": "string"},
					"concepts": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`)

const enrichPrompt = `You are a domain expert. Provide context and world knowledge for these questions:

%s

For each question, provide:
1. answer: A concise answer (2-3 sentences)
2. benchmarks: Industry benchmarks or typical values (if applicable)
3. concepts: Key concepts or definitions needed to understand the answer

Only the question text is given; you have no access to the underlying data.

Return as JSON:
{
  "knowledge": [
    {"question": "question text", "answer": "...", "benchmarks": "...", "concepts": ["concept1"]}
  ]
}`

type worldKnowledge struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Benchmarks string   `json:"benchmarks"`
	Concepts   []string `json:"concepts"`
}

// enrich answers world-knowledge questions from the model alone and
// flips their placeholder records to success. Mixed tasks get their
// context attached for synthesis. Enrichment is best effort: on any
// failure the placeholders stand and synthesis reports them as gaps.
func (o *Orchestrator) enrich(ctx context.Context, tasks []models.AnalysisTask, records []models.ExecutionRecord) []worldKnowledge {
	var questions []string
	for _, task := range tasks {
		if task.Method == models.MethodWorldKnowledge {
			questions = append(questions, task.SubQuestion.Question)
		}
	}
	// Mixed tasks run data-backed but still want external context.
	for _, task := range tasks {
		if task.Method != models.MethodWorldKnowledge && strings.Contains(strings.ToLower(task.Notes), "external") {
			questions = append(questions, task.SubQuestion.Question)
		}
	}
	if len(questions) == 0 {
		return nil
	}

	var listing strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&listing, "- %s\n", q)
	}

	var parsed struct {
		Knowledge []worldKnowledge `json:"knowledge"`
	}
	if err := llm.CompleteJSON(ctx, o.llm, fmt.Sprintf(enrichPrompt, listing.String()), knowledgeSchema, &parsed); err != nil {
		o.logger.Warn().Err(err).Msg("World knowledge enrichment failed, continuing without it")
		return nil
	}

	byQuestion := make(map[string]worldKnowledge, len(parsed.Knowledge))
	for _, k := range parsed.Knowledge {
		byQuestion[strings.TrimSpace(k.Question)] = k
	}

	for i := range records {
		if records[i].Method != models.MethodWorldKnowledge {
			continue
		}
		k, ok := byQuestion[strings.TrimSpace(records[i].Question)]
		if !ok || strings.TrimSpace(k.Answer) == "" {
			continue
		}
		narrative := k.Answer
		if k.Benchmarks != "" {
			narrative += "\nBenchmarks: " + k.Benchmarks
		}
		records[i].Success = true
		records[i].Error = ""
		records[i].Narrative = narrative
	}
	return parsed.Knowledge
}
