package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "invoices_unit_concept_period_key"})
	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "invoices_unit_concept_period_key"))
	require.False(t, IsUniqueViolation(err, "payments_number_key"))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	require.False(t, IsUniqueViolation(fmt.Errorf("boom"), ""))
}
