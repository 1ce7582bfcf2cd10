package driver

import (
	"fmt"
	"regexp"
	"strings"
)

// validIdentifier matches standard SQL identifiers.
// Allows alphanumeric characters and underscores, must start with letter or underscore.
// Max length 128 characters (common SQL limit).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// ValidateIdentifier checks if a string is a safe SQL identifier.
// Returns an error if the identifier contains potentially dangerous characters.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must contain only alphanumeric characters and underscores, start with letter or underscore", name)
	}
	return nil
}

// ValidateSchemaTable validates both schema and table identifiers.
func ValidateSchemaTable(schema, table string) error {
	if err := ValidateIdentifier(schema); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if err := ValidateIdentifier(table); err != nil {
		return fmt.Errorf("invalid table: %w", err)
	}
	return nil
}

// SplitQualifiedTable splits a possibly schema-qualified table name
// ("schema.table") into its schema and table parts. schema is empty when
// name carries no qualifier. Both parts (when present) are validated as
// plain identifiers.
func SplitQualifiedTable(name string) (schema, table string, err error) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 1 {
		if err := ValidateIdentifier(parts[0]); err != nil {
			return "", "", err
		}
		return "", parts[0], nil
	}
	if err := ValidateSchemaTable(parts[0], parts[1]); err != nil {
		return "", "", err
	}
	return parts[0], parts[1], nil
}
