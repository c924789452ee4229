package analyze

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
)

func sampleSchemas() map[string]map[string]contract.ColumnDef {
	return map[string]map[string]contract.ColumnDef{
		"patient": {
			"PatNum":     {Type: "bigint", Nullable: false},
			"LName":      {Type: "varchar", Nullable: true},
			"DateTStamp": {Type: "timestamp", Nullable: false},
		},
		"appointment": {
			"AptNum":     {Type: "bigint", Nullable: false},
			"AptDateTime": {Type: "datetime", Nullable: true},
		},
	}
}

func TestHashSchemasIsOrderIndependent(t *testing.T) {
	base := HashSchemas(sampleSchemas())

	// Map iteration order varies between runs already, but make the point
	// explicit by rebuilding the input in shuffled insertion order.
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make(map[string]map[string]contract.ColumnDef)
		tables := []string{"appointment", "patient"}
		rng.Shuffle(len(tables), func(a, b int) { tables[a], tables[b] = tables[b], tables[a] })
		for _, name := range tables {
			cols := make(map[string]contract.ColumnDef)
			for col, def := range sampleSchemas()[name] {
				cols[col] = def
			}
			shuffled[name] = cols
		}
		assert.Equal(t, base, HashSchemas(shuffled))
	}
}

func TestHashSchemasDetectsStructuralChange(t *testing.T) {
	base := HashSchemas(sampleSchemas())

	t.Run("added column changes the hash", func(t *testing.T) {
		s := sampleSchemas()
		s["patient"]["Email"] = contract.ColumnDef{Type: "varchar", Nullable: true}
		assert.NotEqual(t, base, HashSchemas(s))
	})

	t.Run("removed column changes the hash", func(t *testing.T) {
		s := sampleSchemas()
		delete(s["patient"], "LName")
		assert.NotEqual(t, base, HashSchemas(s))
	})

	t.Run("type change changes the hash", func(t *testing.T) {
		s := sampleSchemas()
		s["patient"]["PatNum"] = contract.ColumnDef{Type: "int", Nullable: false}
		assert.NotEqual(t, base, HashSchemas(s))
	})

	t.Run("nullability change changes the hash", func(t *testing.T) {
		s := sampleSchemas()
		s["patient"]["LName"] = contract.ColumnDef{Type: "varchar", Nullable: false}
		assert.NotEqual(t, base, HashSchemas(s))
	})
}

func TestDiffSchemas(t *testing.T) {
	previous := sampleSchemas()
	current := sampleSchemas()

	current["procedurelog"] = map[string]contract.ColumnDef{
		"ProcNum": {Type: "bigint"},
	}
	delete(current, "appointment")
	current["patient"]["Email"] = contract.ColumnDef{Type: "varchar", Nullable: true}
	delete(current["patient"], "LName")
	current["patient"]["PatNum"] = contract.ColumnDef{Type: "int", Nullable: false}

	record := diffSchemas(previous, current)

	assert.Equal(t, []string{"procedurelog"}, record.AddedTables)
	assert.Equal(t, []string{"appointment"}, record.RemovedTables)
	assert.Equal(t, []string{"Email"}, record.AddedColumns["patient"])
	assert.Equal(t, []string{"LName"}, record.RemovedColumns["patient"])
	require.Len(t, record.ModifiedColumns["patient"], 1)
	assert.Equal(t, ColumnModification{Column: "PatNum", OldType: "bigint", NewType: "int"},
		record.ModifiedColumns["patient"][0])

	assert.False(t, record.Empty())
	assert.True(t, record.Breaking())
}

func TestDiffSchemasNoDrift(t *testing.T) {
	record := diffSchemas(sampleSchemas(), sampleSchemas())
	assert.True(t, record.Empty())
	assert.False(t, record.Breaking())
}

func TestChangeRecordBreaking(t *testing.T) {
	t.Run("additions are non-breaking", func(t *testing.T) {
		r := newChangeRecord()
		r.AddedTables = []string{"newtable"}
		r.AddedColumns["patient"] = []string{"Email"}
		assert.False(t, r.Breaking())
		assert.False(t, r.Empty())
	})

	t.Run("removed column is breaking", func(t *testing.T) {
		r := newChangeRecord()
		r.RemovedColumns["patient"] = []string{"LName"}
		assert.True(t, r.Breaking())
	})
}

func TestDriftDetectorMissingBaseline(t *testing.T) {
	d := NewDriftDetector()
	record, hasBaseline := d.Diff(sampleSchemas(), filepath.Join(t.TempDir(), "absent.yml"))
	assert.False(t, hasBaseline)
	assert.True(t, record.Empty())
}

func TestDriftDetectorAgainstArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etl_tables.yml")

	previous := sampleSchemas()
	artifact := &contract.Artifact{
		GeneratedAt: time.Now().UTC(),
		SchemaHash:  HashSchemas(previous),
		TableCount:  len(previous),
		Tables: map[string]contract.TableConfig{
			"patient":     {ExtractionStrategy: string(contract.StrategyIncremental), BatchSize: 25000, IncrementalColumns: []string{"DateTStamp"}, Schema: previous["patient"]},
			"appointment": {ExtractionStrategy: string(contract.StrategyFullTable), BatchSize: 10000, IncrementalColumns: []string{}, Schema: previous["appointment"]},
		},
	}
	require.NoError(t, artifact.Write(path))

	current := sampleSchemas()
	current["patient"]["Email"] = contract.ColumnDef{Type: "varchar", Nullable: true}

	record, hasBaseline := NewDriftDetector().Diff(current, path)
	assert.True(t, hasBaseline)
	assert.Equal(t, []string{"Email"}, record.AddedColumns["patient"])
	assert.False(t, record.Breaking())
}
