package db

import (
	"github.com/doug-martin/goqu/v9"
	// registers the postgres dialect ($n placeholders, double-quoted identifiers)
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
)

// Goqu builds PostgreSQL statements. Datasets are rendered with
// Prepared(true) and executed through pgx.
var Goqu = goqu.Dialect("postgres")
