package store

import (
	"database/sql"
	"math"
	"strings"
	"testing"
)

func TestFirstNull(t *testing.T) {
	ok := sql.NullFloat64{Float64: 1, Valid: true}
	if got := firstNull(namedFloat{"a", ok}, namedFloat{"b", ok}); got != "" {
		t.Fatalf("want no null column, got %q", got)
	}
	if got := firstNull(namedFloat{"a", ok}, namedFloat{"b", sql.NullFloat64{}}); got != "b" {
		t.Fatalf("want b, got %q", got)
	}
	nan := sql.NullFloat64{Float64: math.NaN(), Valid: true}
	if got := firstNull(namedFloat{"a", nan}); got != "a" {
		t.Fatalf("NaN should count as missing, got %q", got)
	}
}

func TestNullHelpers(t *testing.T) {
	if nullIfInf(math.Inf(1)) != nil || nullIfInf(math.Inf(-1)) != nil {
		t.Fatalf("infinities should map to NULL")
	}
	if v := nullIfInf(3); v != 3.0 {
		t.Fatalf("finite value should pass through, got %v", v)
	}
	if nullIfZero(0) != nil || nullIfEmpty("") != nil {
		t.Fatalf("zero values should map to NULL")
	}
	if !math.IsInf(orInf(sql.NullFloat64{}, 1), 1) || !math.IsInf(orInf(sql.NullFloat64{}, -1), -1) {
		t.Fatalf("NULL should read back as infinity")
	}
	if orInf(sql.NullFloat64{Float64: 2, Valid: true}, 1) != 2 {
		t.Fatalf("valid value should read back unchanged")
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"sites", "demand_points", "unit_constraints", "runs", "solutions", "unit_failures", "convergence_points"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("schema is missing table %s", table)
		}
	}
}
