package seed

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/crud6/crud6/internal"
	"github.com/google/uuid"
)

// seedEpoch anchors all generated temporal values so reruns produce
// identical data.
var seedEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var words = []string{
	"amber", "basin", "cedar", "delta", "ember", "fjord", "grove", "harbor",
	"indigo", "juniper", "karst", "lagoon", "meadow", "nectar", "onyx",
	"prairie", "quarry", "ridge", "summit", "tundra", "umber", "vale",
	"willow", "zephyr",
}

// rowRNG returns the random source for one row of a model. The seed mixes
// the schema fingerprint with the row index, so the same schema always
// regenerates the same data and a schema change reshuffles it.
func rowRNG(m *internal.Model, index int) *rand.Rand {
	seed := xxhash.Sum64String(fmt.Sprintf("%s:%s:%d", m.Name, m.Fingerprint, index))
	return rand.New(rand.NewSource(int64(seed)))
}

// PrimaryKeyValue derives the primary key for a row. Keys are a pure
// function of the model name and row index so foreign keys can be derived
// without looking at the parent's generated rows.
func PrimaryKeyValue(m *internal.Model, index int) any {
	f := m.PrimaryKeyField()
	switch {
	case f == nil:
		return int64(index + 1)
	case f.Auto == internal.AutoUUID || f.Type == internal.FieldTypeUUID:
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", m.Name, index))).String()
	case f.Type == internal.FieldTypeInteger:
		return int64(index + 1)
	default:
		return fmt.Sprintf("%s_%05d", m.Name, index+1)
	}
}

// Generate derives the row for one model at the given index. rows is the
// per-model row count of the run, used to pick valid foreign keys.
func Generate(m *internal.Model, models internal.ModelMap, rows int, index int) internal.Record {
	rng := rowRNG(m, index)
	rec := internal.Record{}
	pk := m.PrimaryKeyName()
	rec[pk] = PrimaryKeyValue(m, index)
	owners := foreignKeys(m)
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Name == pk {
			continue
		}
		if rel, ok := owners[f.Name]; ok {
			rec[f.Name] = foreignKeyValue(m, rel, models, rng, index, rows)
			continue
		}
		if !f.Required && rng.Intn(5) == 0 {
			rec[f.Name] = nil
			continue
		}
		rec[f.Name] = fieldValue(m, f, rng, index)
	}
	if m.Timestamps {
		ts := seedEpoch.Add(time.Duration(index) * time.Minute)
		if m.Field(internal.CreatedAtColumn) == nil {
			rec[internal.CreatedAtColumn] = ts
		}
		if m.Field(internal.UpdatedAtColumn) == nil {
			rec[internal.UpdatedAtColumn] = ts
		}
	}
	return rec
}

// foreignKeys maps the belongs_to foreign key columns of a model to their
// relations.
func foreignKeys(m *internal.Model) map[string]*internal.Relation {
	res := make(map[string]*internal.Relation)
	for i := range m.Relations {
		r := &m.Relations[i]
		if r.Type == internal.RelationBelongsTo {
			res[r.ForeignKey] = r
		}
	}
	return res
}

func foreignKeyValue(m *internal.Model, rel *internal.Relation, models internal.ModelMap, rng *rand.Rand, index int, rows int) any {
	if rel.Model == m.Name {
		// self reference: point at an earlier row so insert order stays valid
		if index == 0 {
			return PrimaryKeyValue(m, 0)
		}
		return PrimaryKeyValue(m, rng.Intn(index))
	}
	parent, ok := models[rel.Model]
	if !ok {
		return nil
	}
	return PrimaryKeyValue(parent, rng.Intn(rows))
}

// pivotPairs derives the pivot rows for a many_to_many relation. Every
// local row links to up to two distinct related rows.
func pivotPairs(m *internal.Model, related *internal.Model, rel *internal.Relation, rows int) [][2]any {
	pairs := make([][2]any, 0, rows*2)
	for i := 0; i < rows; i++ {
		seed := xxhash.Sum64String(fmt.Sprintf("%s:%s:%d", rel.Pivot.Table, m.Fingerprint, i))
		rng := rand.New(rand.NewSource(int64(seed)))
		local := PrimaryKeyValue(m, i)
		first := rng.Intn(rows)
		pairs = append(pairs, [2]any{local, PrimaryKeyValue(related, first)})
		if rows > 1 {
			second := rng.Intn(rows - 1)
			if second >= first {
				second++
			}
			pairs = append(pairs, [2]any{local, PrimaryKeyValue(related, second)})
		}
	}
	return pairs
}

func fieldValue(m *internal.Model, f *internal.Field, rng *rand.Rand, index int) any {
	if f.Validate != nil && len(f.Validate.Enum) > 0 {
		return f.Validate.Enum[rng.Intn(len(f.Validate.Enum))]
	}
	switch f.Type {
	case internal.FieldTypeString:
		return stringValue(f, rng)
	case internal.FieldTypeText:
		return textValue(rng)
	case internal.FieldTypeInteger:
		lo, hi := numberRange(f, 1, 1000)
		return int64(lo) + rng.Int63n(int64(hi-lo)+1)
	case internal.FieldTypeFloat:
		lo, hi := numberRange(f, 0, 100)
		return math.Round((float64(lo)+rng.Float64()*float64(hi-lo))*100) / 100
	case internal.FieldTypeDecimal:
		lo, hi := numberRange(f, 0, 10000)
		return math.Round((float64(lo)+rng.Float64()*float64(hi-lo))*100) / 100
	case internal.FieldTypeBoolean:
		return rng.Intn(2) == 1
	case internal.FieldTypeDate:
		return seedEpoch.AddDate(0, 0, rng.Intn(365)).Format("2006-01-02")
	case internal.FieldTypeDatetime:
		return seedEpoch.Add(time.Duration(rng.Int63n(int64(365 * 24 * time.Hour)))).UTC()
	case internal.FieldTypeUUID:
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%s:%d", m.Name, f.Name, index))).String()
	case internal.FieldTypeJSON:
		return map[string]any{
			"tag":   words[rng.Intn(len(words))],
			"score": rng.Intn(100),
		}
	default:
		return stringValue(f, rng)
	}
}

func stringValue(f *internal.Field, rng *rand.Rand) string {
	s := words[rng.Intn(len(words))] + " " + words[rng.Intn(len(words))]
	if f.Validate == nil {
		return s
	}
	if f.Validate.MinLength != nil {
		for len(s) < *f.Validate.MinLength {
			s += " " + words[rng.Intn(len(words))]
		}
	}
	if f.Validate.MaxLength != nil && len(s) > *f.Validate.MaxLength {
		s = strings.TrimSpace(s[:*f.Validate.MaxLength])
	}
	return s
}

func textValue(rng *rand.Rand) string {
	parts := make([]string, 8)
	for i := range parts {
		parts[i] = words[rng.Intn(len(words))]
	}
	return strings.Join(parts, " ") + "."
}

// numberRange resolves the validation bounds of a numeric field with
// defaults for unbounded sides.
func numberRange(f *internal.Field, lo float64, hi float64) (float64, float64) {
	if f.Validate != nil {
		if f.Validate.Min != nil {
			lo = *f.Validate.Min
		}
		if f.Validate.Max != nil {
			hi = *f.Validate.Max
		}
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
