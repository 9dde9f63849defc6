package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/carepath/internal/journey"
)

// Two patients go Asthma -> Flu -> Cough, one goes Asthma -> Cough -> Flu.
const sampleDocument = `{
  "nodes": [
    {"key": "asthma", "label": "Condition", "properties": {"id": "C1", "name": "Asthma"}},
    {"key": "flu", "label": "Condition", "properties": {"id": "C2", "name": "Flu"}},
    {"key": "cough", "label": "Condition", "properties": {"id": "C3", "name": "Cough"}},
    {"key": "a1", "label": "Encounter"}, {"key": "a2", "label": "Encounter"}, {"key": "a3", "label": "Encounter"},
    {"key": "b1", "label": "Encounter"}, {"key": "b2", "label": "Encounter"}, {"key": "b3", "label": "Encounter"},
    {"key": "c1", "label": "Encounter"}, {"key": "c2", "label": "Encounter"}, {"key": "c3", "label": "Encounter"}
  ],
  "relationships": [
    {"type": "FOUND_CONDITION", "from": "a1", "to": "asthma"},
    {"type": "NEXT", "from": "a1", "to": "a2"},
    {"type": "FOUND_CONDITION", "from": "a2", "to": "flu"},
    {"type": "NEXT", "from": "a2", "to": "a3"},
    {"type": "FOUND_CONDITION", "from": "a3", "to": "cough"},
    {"type": "FOUND_CONDITION", "from": "b1", "to": "asthma"},
    {"type": "NEXT", "from": "b1", "to": "b2"},
    {"type": "FOUND_CONDITION", "from": "b2", "to": "flu"},
    {"type": "NEXT", "from": "b2", "to": "b3"},
    {"type": "FOUND_CONDITION", "from": "b3", "to": "cough"},
    {"type": "FOUND_CONDITION", "from": "c1", "to": "asthma"},
    {"type": "NEXT", "from": "c1", "to": "c2"},
    {"type": "FOUND_CONDITION", "from": "c2", "to": "cough"},
    {"type": "NEXT", "from": "c2", "to": "c3"},
    {"type": "FOUND_CONDITION", "from": "c3", "to": "flu"}
  ]
}`

func writeDocument(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunJourneys_GraphFile(t *testing.T) {
	isolateHome(t)
	doc := writeDocument(t, sampleDocument)

	var out bytes.Buffer
	require.NoError(t, runJourneys([]string{"-graph", doc, "-start", "C1", "-steps", "2"}, &out))

	text := out.String()
	assert.Contains(t, text, "3 journeys (2 distinct) after C1 in 2 steps")
	assert.Contains(t, text, "     2  Flu -> Cough")
	assert.Contains(t, text, "     1  Cough -> Flu")
	assert.NotContains(t, text, "skipped")
}

func TestRunJourneys_JSONAndFilter(t *testing.T) {
	isolateHome(t)
	doc := writeDocument(t, sampleDocument)

	var out bytes.Buffer
	require.NoError(t, runJourneys([]string{
		"-graph", doc, "-start", "C1", "-steps", "2",
		"-engine", "cel", "-filter", `path[0] == "Cough"`, "-json",
	}, &out))

	var outcome journey.Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, []string{"Cough", "Flu"}, outcome.Results[0].Path)
	assert.Equal(t, 3, outcome.Stats.Complete)
}

func TestRunJourneys_Errors(t *testing.T) {
	isolateHome(t)
	doc := writeDocument(t, sampleDocument)

	var out bytes.Buffer
	err := runJourneys([]string{"-graph", doc}, &out)
	assert.EqualError(t, err, "-start is required")

	err = runJourneys([]string{"-graph", doc, "-start", "C404"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")

	bad := writeDocument(t, `{"nodes": [{"key": "e1", "label": "Patient"}]}`)
	err = runJourneys([]string{"-graph", bad, "-start", "C1"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATION_ERROR")
}

func TestRunImportThenQueryDatabase(t *testing.T) {
	isolateHome(t)
	doc := writeDocument(t, sampleDocument)
	dbPath := filepath.Join(t.TempDir(), "carepath.db")

	var out bytes.Buffer
	require.NoError(t, runImport([]string{"-db-path", dbPath, "-dry-run", doc}, &out))
	assert.Contains(t, out.String(), "is valid (12 nodes, 15 relationships)")
	_, err := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err), "dry run must not create the database")

	out.Reset()
	require.NoError(t, runImport([]string{"-db-path", dbPath, doc}, &out))
	assert.Contains(t, out.String(), "Imported 12 nodes and 15 relationships (0 conditions reused)")

	out.Reset()
	require.NoError(t, runJourneys([]string{"-db-path", dbPath, "-start", "C1", "-steps", "1"}, &out))
	assert.Contains(t, out.String(), "     2  Flu")
	assert.Contains(t, out.String(), "     1  Cough")
}

func TestRunImport_ReplaceAndVacuum(t *testing.T) {
	isolateHome(t)
	doc := writeDocument(t, sampleDocument)
	dbPath := filepath.Join(t.TempDir(), "carepath.db")

	var out bytes.Buffer
	require.NoError(t, runImport([]string{"-db-path", dbPath, doc}, &out))

	out.Reset()
	require.NoError(t, runImport([]string{"-db-path", dbPath, "-replace", "-vacuum", doc}, &out))
	assert.Contains(t, out.String(), "Imported 12 nodes and 15 relationships (0 conditions reused)")
	assert.Contains(t, out.String(), "Database vacuumed")

	out.Reset()
	require.NoError(t, runJourneys([]string{"-db-path", dbPath, "-start", "C1", "-steps", "1"}, &out))
	assert.Contains(t, out.String(), "3 journeys (2 distinct)")
}

func TestRunImport_Usage(t *testing.T) {
	isolateHome(t)
	var out bytes.Buffer
	err := runImport(nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")
}

func TestRunDiagram(t *testing.T) {
	isolateHome(t)
	doc := writeDocument(t, sampleDocument)

	var out bytes.Buffer
	require.NoError(t, runDiagram([]string{"-graph", doc, "-start", "C1", "-steps", "2", "-format", "mermaid"}, &out))
	assert.Contains(t, out.String(), "graph LR")
	assert.Contains(t, out.String(), "Flu (2)")

	out.Reset()
	require.NoError(t, runDiagram([]string{"-graph", doc, "-start", "C1", "-steps", "2"}, &out))
	assert.Contains(t, out.String(), "=== Journeys after C1 (2 steps) ===")

	err := runDiagram([]string{"-graph", doc, "-start", "C1", "-format", "png"}, &out)
	assert.EqualError(t, err, "-o is required for png output")
}

func TestRunDiagram_SVGFile(t *testing.T) {
	isolateHome(t)
	doc := writeDocument(t, sampleDocument)
	target := filepath.Join(t.TempDir(), "journeys.svg")

	var out bytes.Buffer
	require.NoError(t, runDiagram([]string{"-graph", doc, "-start", "C1", "-steps", "1", "-format", "svg", "-o", target}, &out))
	assert.Contains(t, out.String(), "Diagram written to")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestRunInit(t *testing.T) {
	isolateHome(t)

	var out bytes.Buffer
	require.NoError(t, runInit([]string{"-log-level", "debug", "-edge-policy", "lowest_id"}, &out))
	assert.Contains(t, out.String(), "Config written to "+settingsPath())

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "lowest_id", cfg.EdgePolicy)

	err := runInit([]string{"-edge-policy", "random"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Equal(t, "dev\n", out.String())
}

func TestRunJourneys_BundledExample(t *testing.T) {
	isolateHome(t)
	doc := filepath.Join("..", "..", "examples", "respiratory-followups", "graph.json")

	var out bytes.Buffer
	require.NoError(t, runJourneys([]string{"-graph", doc, "-start", "C1", "-steps", "2"}, &out))

	text := out.String()
	assert.Contains(t, text, "5 journeys (4 distinct) after C1 in 2 steps")
	assert.Contains(t, text, "     2  Flu -> Cough")
	assert.Contains(t, text, "     1  Allergy -> Allergy")
	// One patient stops after Flu; another is diagnosed with Asthma only at
	// their second visit, one step before their history ends.
	assert.Contains(t, text, "skipped: 2 incomplete, 0 malformed")
}
