package research

import (
	"fmt"
	"strings"

	"github.com/rnednur/felix-sub000/internal/models"
)

// schemaColumnCap keeps prompts bounded on wide datasets.
const schemaColumnCap = 20

// describeSchema renders a schema as prompt text: one line per column
// with type and, when stats exist, example values or a numeric range.
func describeSchema(schema *models.Schema) string {
	var lines []string
	for i, col := range schema.Columns {
		if i >= schemaColumnCap {
			lines = append(lines, fmt.Sprintf("... and %d more columns", len(schema.Columns)-schemaColumnCap))
			break
		}
		statsInfo := ""
		if col.Stats != nil {
			if len(col.Stats.TopValues) > 0 {
				n := len(col.Stats.TopValues)
				if n > 3 {
					n = 3
				}
				examples := make([]string, 0, n)
				for _, tv := range col.Stats.TopValues[:n] {
					examples = append(examples, fmt.Sprintf("%v", tv.Value))
				}
				statsInfo = fmt.Sprintf(" (examples: %s)", strings.Join(examples, ", "))
			} else if col.Stats.Min != nil && col.Stats.Max != nil {
				statsInfo = fmt.Sprintf(" (range: %v to %v)", *col.Stats.Min, *col.Stats.Max)
			}
		}
		lines = append(lines, fmt.Sprintf("- %s (%s)%s", col.Name, col.Type, statsInfo))
	}
	return strings.Join(lines, "\n")
}
