package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rendis/carepath/internal/diagram"
	"github.com/rendis/carepath/internal/expressions"
	"github.com/rendis/carepath/internal/graph"
	"github.com/rendis/carepath/internal/journey"
	"github.com/rendis/carepath/internal/logging"
	"github.com/rendis/carepath/internal/store"
	"github.com/rendis/carepath/internal/validation"
	"github.com/rendis/carepath/pkg/schema"
)

// queryFlags are shared by the journeys and diagram commands.
type queryFlags struct {
	graphFile string
	dbPath    string
	start     string
	steps     int
	filter    string
	engine    string
	limit     int
}

func (q *queryFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&q.graphFile, "graph", "", "query a graph document file instead of the database")
	fs.StringVar(&q.dbPath, "db-path", "", "database path (overrides config)")
	fs.StringVar(&q.start, "start", "", "start Condition id (required)")
	fs.IntVar(&q.steps, "steps", 1, "number of NEXT steps per journey")
	fs.StringVar(&q.filter, "filter", "", "keep only results matching this expression")
	fs.StringVar(&q.engine, "engine", schema.EngineExpr, "filter language: expr, cel or jq")
	fs.IntVar(&q.limit, "limit", 0, "keep at most this many results (0: all)")
}

func (q *queryFlags) request() journey.Request {
	return journey.Request{
		StartCondition:   q.start,
		NumSteps:         q.steps,
		FilterEngine:     q.engine,
		FilterExpression: q.filter,
		Sort:             true,
		Limit:            q.limit,
	}
}

// runQuery answers q against the graph file or the configured database.
func runQuery(ctx context.Context, q *queryFlags) (*journey.Outcome, error) {
	if q.start == "" {
		return nil, errors.New("-start is required")
	}
	cfg := loadConfig()
	if q.dbPath != "" {
		cfg.DBPath = q.dbPath
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	policy, _ := cfg.edgePolicy()
	logger := logging.NewLogger(os.Stderr, cfg.LogLevel)

	engines, err := expressions.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("expression engines: %w", err)
	}

	var source graph.Source
	if q.graphFile != "" {
		doc, _, err := loadDocument(q.graphFile, policy)
		if err != nil {
			return nil, err
		}
		mem, err := graph.FromDocument(doc, policy)
		if err != nil {
			return nil, err
		}
		source = mem
	} else {
		st, err := openStore(ctx, cfg, policy)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		source = st
	}

	return journey.Run(ctx, journey.NewFinder(source, logger), engines, q.request())
}

func runJourneys(args []string, out io.Writer) error {
	var q queryFlags
	fs := flag.NewFlagSet("journeys", flag.ContinueOnError)
	fs.SetOutput(out)
	q.register(fs)
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	outcome, err := runQuery(context.Background(), &q)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}

	fmt.Fprintf(out, "%d journeys (%d distinct) after %s in %d steps\n",
		outcome.Total, outcome.Distinct, q.start, q.steps)
	for _, r := range outcome.Results {
		fmt.Fprintf(out, "%6d  %s\n", r.Count, strings.Join(r.Path, " -> "))
	}
	if s := outcome.Stats; s.Incomplete > 0 || s.Malformed > 0 {
		fmt.Fprintf(out, "skipped: %d incomplete, %d malformed\n", s.Incomplete, s.Malformed)
	}
	return nil
}

func runDiagram(args []string, out io.Writer) error {
	var q queryFlags
	fs := flag.NewFlagSet("diagram", flag.ContinueOnError)
	fs.SetOutput(out)
	q.register(fs)
	format := fs.String("format", "ascii", "output format: ascii, mermaid, svg or png")
	title := fs.String("title", "", "diagram title")
	outFile := fs.String("o", "", "write the diagram to this file (required for png)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format == "png" && *outFile == "" {
		return errors.New("-o is required for png output")
	}

	ctx := context.Background()
	outcome, err := runQuery(ctx, &q)
	if err != nil {
		return err
	}

	if *title == "" {
		*title = fmt.Sprintf("Journeys after %s (%d steps)", q.start, q.steps)
	}
	model, err := diagram.Build(*title, q.start, outcome.Results)
	if err != nil {
		return err
	}

	var data []byte
	switch *format {
	case "ascii":
		data = []byte(diagram.RenderASCII(model))
	case "mermaid":
		data = []byte(diagram.RenderMermaid(model))
	default:
		imgFormat, err := diagram.ParseImageFormat(*format)
		if err != nil {
			return err
		}
		if data, err = diagram.RenderImage(ctx, model, imgFormat); err != nil {
			return err
		}
	}

	if *outFile == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(*outFile, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", *outFile, err)
	}
	fmt.Fprintf(out, "Diagram written to %s\n", *outFile)
	return nil
}

func runImport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(out)
	dbPath := fs.String("db-path", "", "database path (overrides config)")
	replace := fs.Bool("replace", false, "remove the stored graph before loading")
	dryRun := fs.Bool("dry-run", false, "validate only")
	vacuum := fs.Bool("vacuum", false, "reclaim free database pages after loading (useful with -replace)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: carepath import [flags] <document.json>")
	}

	cfg := loadConfig()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	policy, _ := cfg.edgePolicy()

	doc, result, err := loadDocument(fs.Arg(0), policy)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s: %s\n", w.Path, w.Message)
	}
	if *dryRun {
		fmt.Fprintf(out, "%s is valid (%d nodes, %d relationships)\n",
			fs.Arg(0), len(doc.Nodes), len(doc.Relationships))
		return nil
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, policy)
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := st.ImportDocument(ctx, doc, store.ImportOptions{Replace: *replace})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %d nodes and %d relationships (%d conditions reused)\n",
		summary.Nodes, summary.Relationships, summary.ConditionsReused)

	if *vacuum {
		if err := st.Vacuum(ctx); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
		fmt.Fprintln(out, "Database vacuumed")
	}
	return nil
}

// loadDocument reads and fully validates a graph document file.
// A strict policy also rejects NEXT/FOUND_CONDITION fan-out.
func loadDocument(path string, policy graph.EdgePolicy) (*schema.GraphDocument, *schema.ValidationResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	validator, err := validation.NewGraphValidator(policy == graph.EdgePolicyStrict)
	if err != nil {
		return nil, nil, err
	}
	if err := validator.ValidateRaw(raw); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	var doc schema.GraphDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	result := validator.Validate(&doc)
	if !result.Valid() {
		for _, issue := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", issue.Path, issue.Message)
		}
		return nil, nil, fmt.Errorf("%s: %w", path, result.ToError())
	}
	return &doc, result, nil
}
