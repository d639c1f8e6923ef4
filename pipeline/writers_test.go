package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-scrape-reactions/models"
)

func twoRoleRecord() *models.NormalizedRecord {
	return &models.NormalizedRecord{
		Origin:     "dataset-1",
		SourceURL:  "http://example.test/id/ord-1",
		ReactionID: "ord-1",
		Primary:    "X.Y>>Z",
		Roles: map[string]models.RoleGroup{
			"reactant": {
				Display: "X + Y",
				Components: []models.Component{
					{Name: "X", Representation: "C", Role: "reactant"},
					{Name: "Y", Representation: "O", Role: "reactant", Ratio: "1.5 MOLE"},
				},
			},
			"product": {
				Display:    "Z",
				Components: []models.Component{{Name: "Z", Representation: "CO", Role: "product", Desired: true}},
			},
		},
	}
}

func TestCSVWriterWritesOneRowPerComponent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reactions.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if err := writer.Write([]*models.NormalizedRecord{twoRoleRecord()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records=%d, want 4", len(records))
	}
	if records[0][0] != "origin" || records[0][3] != "role" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	// roles are written in lexical order
	if records[1][3] != "product" || records[1][5] != "Z" {
		t.Fatalf("unexpected first row: %v", records[1])
	}
	if records[1][11] != "ord-1" || records[1][12] != "true" || records[3][12] != "false" {
		t.Fatalf("unexpected reaction id / desired columns: %v, %v", records[1], records[3])
	}
	if records[3][4] != "X + Y" || records[3][8] != "1.5 MOLE" {
		t.Fatalf("unexpected last row: %v", records[3])
	}
}

func TestJSONWriterWritesCompactRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reactions.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write([]*models.NormalizedRecord{twoRoleRecord(), twoRoleRecord()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.NormalizedRecord
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.ReactionID != "ord-1" {
			t.Fatalf("reaction id = %q, want ord-1", decoded.ReactionID)
		}
		if decoded.Roles["reactant"].Display != "X + Y" {
			t.Fatalf("reactant display = %q", decoded.Roles["reactant"].Display)
		}
		if len(decoded.Roles["reactant"].Components) != 0 {
			t.Fatalf("compact record should not carry components")
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 2 {
		t.Fatalf("json lines=%d, want 2", count)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "reactions.csv")
	jsonPath := filepath.Join(dir, "out", "reactions.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]*models.NormalizedRecord{twoRoleRecord()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}
