package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/TabForge/internal/adapter/otel"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/port/completion"
)

// columnGuidance maps common column meanings to the values the model
// should produce.
var columnGuidance = []string{
	"id: unique number",
	"name / имя: realistic first name",
	"surname / фамилия: realistic last name",
	"salary / зарплата: integer",
	"возраст / age: realistic number",
	"рост / height: realistic number",
	"вес / weight: realistic number",
	"пол / gender: M/F",
	"Любые другие колонки → readable text",
}

// GenerationService produces tables from prompts. Fresh generation goes
// through the model; filling an existing table never does.
type GenerationService struct {
	llm     completion.Completer
	timeout time.Duration
	newGen  func() *dataset.Generator
	metrics *otel.Metrics
}

// NewGenerationService creates a GenerationService. timeout bounds each
// model call; zero leaves the deadline to the caller's context.
func NewGenerationService(llm completion.Completer, timeout time.Duration) *GenerationService {
	return &GenerationService{
		llm:     llm,
		timeout: timeout,
		newGen:  func() *dataset.Generator { return dataset.NewGenerator(nil) },
	}
}

// SetMetrics attaches metric instruments.
func (s *GenerationService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// SetGeneratorFactory replaces the placeholder generator source (tests).
func (s *GenerationService) SetGeneratorFactory(fn func() *dataset.Generator) { s.newGen = fn }

// Generate asks the model for a fresh table. rows > 0 overrides the row
// count found in the prompt; either is capped at dataset.MaxRowCount.
// Transport failures and unusable replies yield an empty table; they are
// logged, not returned.
func (s *GenerationService) Generate(ctx context.Context, prompt string, rows int) dataset.Table {
	if rows <= 0 {
		rows = dataset.ExtractRowCount(prompt)
	}
	rows = min(rows, dataset.MaxRowCount)
	columns := dataset.ExtractColumns(prompt)

	ctx, span := otel.StartGenerateSpan(ctx, rows, columns)
	defer span.End()

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := s.llm.Complete(callCtx, ComposePrompt(prompt, columns, rows))
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "model call failed, returning empty table",
			"error", err, "rows", rows)
		s.metrics.ModelCall(ctx, time.Since(start).Seconds(), 0)
		return dataset.Table{}
	}

	t := dataset.ExtractTable(raw)
	s.metrics.ModelCall(ctx, time.Since(start).Seconds(), t.Len())
	if t.Len() == 0 {
		slog.WarnContext(ctx, "model reply produced no records", "reply_bytes", len(raw))
	}
	if t.Len() != rows {
		slog.DebugContext(ctx, "model row count differs from request", "requested", rows, "got", t.Len())
	}
	return t
}

// Extend generates fresh rows from the prompt and appends them to existing
// without back-filling either side.
func (s *GenerationService) Extend(ctx context.Context, existing dataset.Table, prompt string, rows int) dataset.Table {
	return dataset.Append(existing, s.Generate(ctx, prompt, rows))
}

// Fill grows t in place to the schema and row count the prompt asks for,
// using placeholder values.
func (s *GenerationService) Fill(t *dataset.Table, prompt string) *dataset.Table {
	return dataset.FillColumns(t, prompt, s.newGen())
}

// ComposePrompt builds the model instruction for the given schema and row
// count, followed by the user's own prompt.
func ComposePrompt(userPrompt string, columns []string, rows int) string {
	fields := make([]string, len(columns))
	for i, c := range columns {
		fields[i] = fmt.Sprintf("%q: \"value\"", c)
	}

	var b strings.Builder
	b.WriteString("You are a data generator. Return ONLY valid JSON.\n")
	fmt.Fprintf(&b, "Format: { \"data\": [ { %s } ] }\n", strings.Join(fields, ", "))
	fmt.Fprintf(&b, "Generate exactly %d rows.\n", rows)
	b.WriteString("Each column should contain realistic values:\n")
	for _, g := range columnGuidance {
		b.WriteString("- ")
		b.WriteString(g)
		b.WriteByte('\n')
	}
	b.WriteString("Return ONLY valid JSON without extra text.\n\n")
	b.WriteString(userPrompt)
	return b.String()
}
