//go:build !cgo

package sqlstore

func isCgoSQLiteUniqueViolation(error) bool {
	return false
}
