package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rnednur/felix-sub000/internal/models"
)

var followUpsSchema = llm.MustCompileSchema("followups.json", `{
	"type": "object",
	"required": ["follow_ups"],
	"properties": {
		"follow_ups": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["question"],
				"properties": {
					"question": {"type": "string", "minLength": 1},
					"rationale": {"type": "string"}
				}
			}
		}
	}
}`)

const followUpsPrompt = `Based on the analysis results, suggest follow-up questions for deeper insights.

Original Question: %s

Key Findings:
%s

Gaps Identified:
%s

Generate 3-5 follow-up questions that would:
- Dig deeper into interesting findings
- Address identified gaps
- Provide actionable insights

Return as JSON:
{
  "follow_ups": [
    {"question": "Follow-up question text", "rationale": "Why this question is valuable"}
  ]
}`

// suggestFollowUps is best effort: a report without follow-ups is still
// a complete report.
func (o *Orchestrator) suggestFollowUps(ctx context.Context, question string, report *models.Report) []string {
	findings, _ := json.Marshal(report.KeyFindings)
	gaps, _ := json.Marshal(report.DataCoverage.Gaps)

	var parsed struct {
		FollowUps []struct {
			Question  string `json:"question"`
			Rationale string `json:"rationale"`
		} `json:"follow_ups"`
	}
	prompt := fmt.Sprintf(followUpsPrompt, question, findings, gaps)
	if err := llm.CompleteJSON(ctx, o.llm, prompt, followUpsSchema, &parsed); err != nil {
		o.logger.Warn().Err(err).Msg("Follow-up generation failed, continuing without suggestions")
		return nil
	}

	followUps := make([]string, 0, len(parsed.FollowUps))
	for _, f := range parsed.FollowUps {
		followUps = append(followUps, f.Question)
	}
	return followUps
}
