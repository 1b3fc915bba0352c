package codegen

import (
	"bytes"
	"text/template"
)

// sourceTemplate renders the Go source text BackendSource attaches to its
// Artifact for inspection and logging; it documents the pipeline's shape
// in the same execute(inputBuffer, ctx, workerContext) ABI the runtime
// contract describes, but is not itself compiled — BackendSource executes
// the pipeline through the interpreter instead (see backend_source.go).
var sourceTemplate = template.Must(template.New("pipeline").Parse(`// Code generated for pipeline {{.Name}} (id {{.ID}}, arity {{.Arity}}). DO NOT EDIT.
package generated

func execute_{{.ID}}(inputBuffer TupleBuffer, ctx PipelineExecutionContext, workerContext WorkerContext) Status {
	n := inputBuffer.GetNumberOfTuples()
	_ = n
{{range $i, $op := .Operators}}	// step {{$i}}: {{$op.Kind}}
{{end}}	outputBuffer := ctx.AllocateTupleBuffer()
	ctx.EmitBuffer(outputBuffer, workerContext)
	return StatusOk
}
`))

func renderSource(p *Pipeline) (string, error) {
	var buf bytes.Buffer
	if err := sourceTemplate.Execute(&buf, p); err != nil {
		return "", err
	}
	return buf.String(), nil
}
