package payload

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[batch.Tool]*gojsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	schemas = make(map[batch.Tool]*gojsonschema.Schema, 3)
	for _, tool := range []batch.Tool{batch.ToolProfile, batch.ToolCompare, batch.ToolOptimize} {
		data, err := schemaFS.ReadFile("schemas/" + string(tool) + ".json")
		if err != nil {
			schemasErr = fmt.Errorf("reading embedded %s schema: %w", tool, err)
			return
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			schemasErr = fmt.Errorf("compiling embedded %s schema: %w", tool, err)
			return
		}
		schemas[tool] = s
	}
}

// validate checks raw against the embedded schema of tool.
func validate(tool batch.Tool, raw []byte) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return batch.ToolError(batch.ErrToolBadOutput, "%v", schemasErr)
	}
	schema, ok := schemas[tool]
	if !ok {
		return batch.ToolError(batch.ErrToolBadOutput, "no schema for tool %q", tool)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return batch.ToolError(batch.ErrToolBadOutput, "validating output: %v", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return batch.ToolError(batch.ErrToolBadOutput, "output does not match the %s schema: %s", tool, strings.Join(msgs, "; "))
}
