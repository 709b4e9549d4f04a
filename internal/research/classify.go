package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/queryengine"
)

var classifySchema = llm.MustCompileSchema("classify.json", `{
	"type": "object",
	"required": ["classifications"],
	"properties": {
		"classifications": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["question_number", "category", "feasibility"],
				"properties": {
					"question_number": {"type": "integer", "minimum": 1},
					"category": {"enum": ["data_backed", "world_knowledge", "insufficient_data", "mixed"]},
					"candidate_columns": {"type": "array", "items": {"type": "string"}},
					"feasibility": {"enum": ["high", "medium", "low", "impossible"]},
					"notes": {"type": "string"}
				}
			}
		}
	}
}`)

const classifyPrompt = `You are a database expert. Classify each sub-question and map it to the available schema.

The data is a single table named dataset with this schema:
%s

Sub-Questions to Classify:
%s

For each question, determine:
1. category: One of [data_backed, world_knowledge, insufficient_data, mixed]
   - data_backed: Can be fully answered from the table
   - world_knowledge: Requires external domain knowledge
   - insufficient_data: Cannot be answered with available data
   - mixed: Needs both table data and external knowledge
2. candidate_columns: List of relevant column names (if data_backed or mixed)
3. feasibility: One of [high, medium, low, impossible]
4. notes: Brief explanation of reasoning

Return ONLY valid JSON:
{
  "classifications": [
    {"question_number": 1, "category": "data_backed", "candidate_columns": ["revenue", "date"], "feasibility": "high", "notes": "Direct aggregation"}
  ]
}`

// codeIntents are the analysis intents that warrant generated code over
// a single SQL statement.
var codeIntents = map[models.IntentType]bool{
	models.IntentCausal:           true,
	models.IntentForecasting:      true,
	models.IntentAnomalyDetection: true,
	models.IntentTrendAnalysis:    true,
}

// classify maps every sub-question onto exactly one analysis task. The
// method is chosen once here; execution never re-dispatches. Tasks whose
// artifact generation fails are downgraded to insufficient_data rather
// than aborting the run.
func (o *Orchestrator) classify(ctx context.Context, subQuestions []models.SubQuestion, schema *models.Schema, enableCode bool) ([]models.AnalysisTask, error) {
	var questionsText strings.Builder
	for i, sq := range subQuestions {
		fmt.Fprintf(&questionsText, "%d. %s (intent: %s)\n", i+1, sq.Question, sq.IntentType)
	}
	schemaDesc := describeSchema(schema)
	prompt := fmt.Sprintf(classifyPrompt, schemaDesc, questionsText.String())

	var parsed struct {
		Classifications []struct {
			QuestionNumber   int      `json:"question_number"`
			Category         string   `json:"category"`
			CandidateColumns []string `json:"candidate_columns"`
			Feasibility      string   `json:"feasibility"`
			Notes            string   `json:"notes"`
		} `json:"classifications"`
	}
	if err := llm.CompleteJSON(ctx, o.llm, prompt, classifySchema, &parsed); err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	byNumber := make(map[int]int, len(parsed.Classifications))
	for idx, c := range parsed.Classifications {
		byNumber[c.QuestionNumber] = idx
	}

	tasks := make([]models.AnalysisTask, 0, len(subQuestions))
	for i, sq := range subQuestions {
		task := models.AnalysisTask{
			ID:          uuid.NewString(),
			SubQuestion: sq,
			Method:      models.MethodInsufficientData,
			Notes:       "no classification returned for this question",
		}
		if idx, ok := byNumber[i+1]; ok {
			c := parsed.Classifications[idx]
			task.Columns = c.CandidateColumns
			task.Notes = c.Notes
			task.Method = chooseMethod(c.Category, c.Feasibility, sq.IntentType, enableCode)
		}

		switch task.Method {
		case models.MethodStructuredQuery:
			query, err := o.generateSQL(ctx, sq.Question, schemaDesc)
			if err != nil {
				o.logger.Warn().Err(err).Str("question", sq.Question).Msg("SQL generation failed, downgrading task")
				task.Method = models.MethodInsufficientData
				task.Notes = fmt.Sprintf("query generation failed: %v", err)
			} else {
				task.Query = query
			}
		case models.MethodGeneratedCode:
			code, err := o.generateCode(ctx, sq, schemaDesc)
			if err != nil {
				o.logger.Warn().Err(err).Str("question", sq.Question).Msg("Code generation failed, downgrading task")
				task.Method = models.MethodInsufficientData
				task.Notes = fmt.Sprintf("code generation failed: %v", err)
			} else {
				task.Code = code
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func chooseMethod(category, feasibility string, intent models.IntentType, enableCode bool) models.TaskMethod {
	switch category {
	case "world_knowledge":
		return models.MethodWorldKnowledge
	case "insufficient_data":
		return models.MethodInsufficientData
	}
	// data_backed and mixed both execute against the dataset; mixed picks
	// up its external half during enrichment.
	if feasibility == "low" || feasibility == "impossible" {
		return models.MethodInsufficientData
	}
	if enableCode && codeIntents[intent] {
		return models.MethodGeneratedCode
	}
	return models.MethodStructuredQuery
}

const sqlPrompt = `You are a SQL expert. Write a single SQL SELECT statement answering the question below.

The data is in a table named dataset with this schema:
%s

Question: %s

Rules:
1. Return ONLY the SQL statement, no explanations.
2. Query only the table named dataset.
3. Use standard SQL with double-quoted identifiers.
4. Never modify data.`

func (o *Orchestrator) generateSQL(ctx context.Context, question, schemaDesc string) (string, error) {
	response, err := o.llm.Complete(ctx, fmt.Sprintf(sqlPrompt, schemaDesc, question))
	if err != nil {
		return "", err
	}
	return queryengine.SanitizeQuery(llm.StripCodeFences(response))
}

const codePrompt = `You are a Python data analysis expert. Write pandas code answering the question below.

A DataFrame named df is already loaded with this schema:
%s

Question: %s
Analysis intent: %s
Desired output: %s

Rules:
1. Return ONLY Python code, no explanations.
2. df is already loaded; do not load any data.
3. Use only pandas, numpy, sklearn, scipy, statsmodels, matplotlib, seaborn.
4. Assign the final output to a variable named result.
5. For charts, draw with matplotlib; figures are captured automatically.`

func (o *Orchestrator) generateCode(ctx context.Context, sq models.SubQuestion, schemaDesc string) (string, error) {
	response, err := o.llm.Complete(ctx, fmt.Sprintf(codePrompt, schemaDesc, sq.Question, sq.IntentType, sq.DesiredOutput))
	if err != nil {
		return "", err
	}
	code := llm.StripCodeFences(response)
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("model returned empty code")
	}
	return code, nil
}
