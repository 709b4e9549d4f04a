package research

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rnednur/felix-sub000/internal/models"
)

var decomposeSchema = llm.MustCompileSchema("decompose.json", `{
	"type": "object",
	"required": ["sub_questions"],
	"properties": {
		"sub_questions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["question", "intent_type", "desired_output"],
				"properties": {
					"question": {"type": "string", "minLength": 1},
					"intent_type": {"enum": ["descriptive", "comparative", "causal", "trend_analysis", "anomaly_detection", "forecasting", "segmentation"]},
					"desired_output": {"enum": ["table", "number", "chart", "explanation"]},
					"priority": {"type": "integer", "minimum": 1, "maximum": 3}
				}
			}
		}
	}
}`)

const decomposePrompt = `You are a data analysis expert. Decompose the user's question into specific sub-questions.

Main Question: %s

Available Data Context:
%s
Row Count: %d

Task: Generate at most %d focused sub-questions that, if answered, would fully address the main question.

For each sub-question, provide:
1. question: The specific question text
2. intent_type: One of [descriptive, comparative, causal, trend_analysis, anomaly_detection, forecasting, segmentation]
3. desired_output: One of [table, number, chart, explanation]
4. priority: 1-3 (1=critical, 2=important, 3=nice-to-have)

Return ONLY valid JSON in this exact format:
{
  "sub_questions": [
    {"question": "What is the total revenue?", "intent_type": "descriptive", "desired_output": "number", "priority": 1}
  ]
}`

func (o *Orchestrator) decompose(ctx context.Context, question string, schema *models.Schema, maxCount int) ([]models.SubQuestion, error) {
	prompt := fmt.Sprintf(decomposePrompt, question, describeSchema(schema), schema.RowCount, maxCount)

	var parsed struct {
		SubQuestions []struct {
			Question      string `json:"question"`
			IntentType    string `json:"intent_type"`
			DesiredOutput string `json:"desired_output"`
			Priority      int    `json:"priority"`
		} `json:"sub_questions"`
	}
	if err := llm.CompleteJSON(ctx, o.llm, prompt, decomposeSchema, &parsed); err != nil {
		return nil, &DecompositionError{Cause: err}
	}

	subQuestions := make([]models.SubQuestion, 0, len(parsed.SubQuestions))
	for _, sq := range parsed.SubQuestions {
		if len(subQuestions) >= maxCount {
			break
		}
		priority := sq.Priority
		if priority == 0 {
			priority = 2
		}
		subQuestions = append(subQuestions, models.SubQuestion{
			ID:            uuid.NewString(),
			Question:      sq.Question,
			IntentType:    models.IntentType(sq.IntentType),
			DesiredOutput: models.DesiredOutput(sq.DesiredOutput),
			Priority:      priority,
		})
	}
	if len(subQuestions) == 0 {
		return nil, &DecompositionError{Cause: fmt.Errorf("model produced no usable sub-questions")}
	}
	return subQuestions, nil
}
