// Package models contains the GORM models of the sync engine tables. They
// are kept apart from the domain types; repositories convert between the
// two. The tables themselves are created by the SQL migrations, and
// AllModels exists for the SQLite databases of unit tests.
package models
