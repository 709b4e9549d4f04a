package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedResponse wraps any failure to extract, parse, or validate a
// structured model response. Callers treat it as "the model did not answer
// the question asked" and fail closed.
type ErrMalformedResponse struct {
	Reason string
	Raw    string
}

func (e *ErrMalformedResponse) Error() string {
	return fmt.Sprintf("malformed model response: %s", e.Reason)
}

// MustCompileSchema compiles an embedded response schema at startup.
// Panics on error since a broken schema is a programming mistake.
func MustCompileSchema(name, doc string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return sch
}

// ExtractJSON pulls the first JSON object out of a model response, tolerating
// markdown fences and prose around it.
func ExtractJSON(response string) (string, error) {
	s := response
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", &ErrMalformedResponse{Reason: "no JSON object found", Raw: response}
	}
	return s[start : end+1], nil
}

// StripCodeFences removes markdown code fences from a generated artifact
// (SQL or code) without touching its contents.
func StripCodeFences(s string) string {
	for _, fence := range []string{"```python", "```sql", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}
	return strings.TrimSpace(s)
}

// DecodeValidated parses raw JSON, validates it against the schema, and
// decodes it into out. Any failure is an ErrMalformedResponse.
func DecodeValidated(schema *jsonschema.Schema, raw string, out any) error {
	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return &ErrMalformedResponse{Reason: fmt.Sprintf("invalid JSON: %v", err), Raw: raw}
	}
	if err := schema.Validate(generic); err != nil {
		return &ErrMalformedResponse{Reason: fmt.Sprintf("schema validation: %v", err), Raw: raw}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &ErrMalformedResponse{Reason: fmt.Sprintf("decode: %v", err), Raw: raw}
	}
	return nil
}

// CompleteJSON runs a prompt and decodes the validated structured response.
func CompleteJSON(ctx context.Context, c Client, prompt string, schema *jsonschema.Schema, out any) error {
	response, err := c.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	raw, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	return DecodeValidated(schema, raw, out)
}
