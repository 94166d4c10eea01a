package naming

import "strings"

// QuoteIdentifier wraps a schema or table identifier in backticks for use
// in dynamically assembled MySQL statements. Embedded backticks are
// doubled. Identifiers produced by the Allocator never need escaping, but
// table names enumerated from tenant databases are not under our control.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
