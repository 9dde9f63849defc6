// gen-diagrams generates sample journey diagrams for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/carepath/internal/diagram"
	"github.com/rendis/carepath/internal/graph"
	"github.com/rendis/carepath/internal/journey"
	"github.com/rendis/carepath/internal/logging"
	"github.com/rendis/carepath/pkg/schema"
)

// patients lists the conditions diagnosed at consecutive encounters, the
// first of which is always Asthma.
var patients = [][]string{
	{"Asthma", "Flu", "Cough"},
	{"Asthma", "Flu", "Cough"},
	{"Asthma", "Flu", "Bronchitis"},
	{"Asthma", "Cough", "Flu"},
	{"Asthma", "Allergy", "Allergy"},
	{"Asthma", "Flu"},
}

func main() {
	ctx := context.Background()
	g, err := sampleGraph()
	if err != nil {
		fmt.Fprintf(os.Stderr, "graph error: %v\n", err)
		os.Exit(1)
	}

	finder := journey.NewFinder(g, logging.NewLogger(io.Discard, "error"))
	results, err := finder.FindJourneys(ctx, "asthma", 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}
	journey.SortResults(results)

	model, err := diagram.Build("Two steps after Asthma", "Asthma", results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build error: %v\n", err)
		os.Exit(1)
	}

	outDir := filepath.Join("docs", "assets")
	os.MkdirAll(outDir, 0o755)

	ascii := diagram.RenderASCII(model)
	os.WriteFile(filepath.Join(outDir, "journeys-ascii.txt"), []byte(ascii), 0o644)
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	os.WriteFile(filepath.Join(outDir, "journeys-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644)
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	png, imgErr := diagram.RenderImage(ctx, model, diagram.FormatPNG)
	if imgErr != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", imgErr)
		return
	}
	pngPath := filepath.Join(outDir, "journeys-sample.png")
	os.WriteFile(pngPath, png, 0o644)
	fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
}

// sampleGraph builds one NEXT chain per patient. Condition ids are the
// lower-cased names.
func sampleGraph() (*graph.MemoryGraph, error) {
	g := graph.NewMemoryGraph(graph.EdgePolicyStrict)
	conditions := map[string]*graph.Node{}
	condition := func(name string) *graph.Node {
		if n, ok := conditions[name]; ok {
			return n
		}
		n := g.AddNode(schema.LabelCondition, map[string]any{"id": strings.ToLower(name), "name": name})
		conditions[name] = n
		return n
	}

	for _, diagnoses := range patients {
		var prev *graph.Node
		for _, name := range diagnoses {
			enc := g.AddNode(schema.LabelEncounter, nil)
			if _, err := g.AddRelationship(schema.RelFoundCondition, enc, condition(name)); err != nil {
				return nil, err
			}
			if prev != nil {
				if _, err := g.AddRelationship(schema.RelNext, prev, enc); err != nil {
					return nil, err
				}
			}
			prev = enc
		}
	}
	return g, nil
}
