package schema

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func unique(names []string) bool {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		k := strings.ToLower(n)
		if seen[k] {
			return false
		}
		seen[k] = true
	}
	return true
}

func buildSchema(version int, tables, columns []string) Schema {
	s := Schema{Version: version}
	for _, tn := range tables {
		t := Table{Name: tn}
		for _, cn := range columns {
			t.Columns = append(t.Columns, Column{Name: cn, Type: TypeString})
		}
		s.Tables = append(s.Tables, t)
	}
	return s
}

// Validation accepts a structurally well-formed schema exactly when its
// version is positive and its table and column names are unique.
func TestProperty_ValidateIffUniqueAndPositive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Small alphabets so collisions are common.
	tableName := gen.OneConstOf("users", "posts", "Users", "tags")
	columnName := gen.OneConstOf("name", "email", "Name", "age", "title")

	properties.Property("validate succeeds iff names unique and version positive", prop.ForAll(
		func(version int, tables, columns []string) bool {
			s := buildSchema(version, tables, columns)
			want := version > 0 &&
				len(tables) > 0 && len(columns) > 0 &&
				unique(tables) && unique(columns)
			return (Validate(s) == nil) == want
		},
		gen.IntRange(-3, 5),
		gen.SliceOf(tableName),
		gen.SliceOf(columnName),
	))

	properties.TestingRun(t)
}

// A registry accepts a version exactly when it exceeds every version it
// accepted before.
func TestProperty_RegistryVersionStrictlyIncreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("register succeeds iff version exceeds prior maximum", prop.ForAll(
		func(versions []int) bool {
			r := NewRegistry()
			highest := 0
			for _, v := range versions {
				err := r.Register(buildSchema(v, []string{"users"}, []string{"name"}))
				want := v > highest
				if (err == nil) != want {
					return false
				}
				if err == nil {
					highest = v
				}
				if r.Version() != highest {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-2, 10)),
	))

	properties.TestingRun(t)
}

func TestProperty_HashDeterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("hash of equal schemas is equal", prop.ForAll(
		func(version int, columns []string) bool {
			if !unique(columns) || len(columns) == 0 {
				return true
			}
			a, errA := Hash(buildSchema(version, []string{"t"}, columns))
			b, errB := Hash(buildSchema(version, []string{"t"}, columns))
			return errA == nil && errB == nil && a == b
		},
		gen.IntRange(1, 100),
		gen.SliceOf(gen.OneConstOf("a", "b", "c", "d")),
	))

	properties.TestingRun(t)
}
