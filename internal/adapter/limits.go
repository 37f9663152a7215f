package adapter

import "github.com/kailas-cloud/docbase/internal/domain/schema"

// Limits shared by SQL-style engines.
const (
	SQLLimitForString     int64 = 4294967295
	SQLLimitForInt        int64 = 4294967295
	SQLLimitForAttributes       = 1017
	SQLLimitForIndexes          = 64
	SQLDocumentSizeLimit        = 65535
	SQLMaxVarcharLength         = 16381
	SQLMaxIndexLength           = 768
)

// rowBaseWidth is the reserved width of internal columns in bytes.
const rowBaseWidth = 1500

// RowWidth estimates the row width in bytes of a collection's attributes.
func RowWidth(collection schema.Collection, maxVarchar int) int {
	total := rowBaseWidth
	for _, a := range collection.Attributes() {
		total += AttributeWidth(a, maxVarchar)
	}
	return total
}

// AttributeWidth estimates the width in bytes of one attribute column.
// Large strings are stored off-row and count only their pointer size.
func AttributeWidth(a schema.Attribute, maxVarchar int) int {
	if a.Array {
		return 12
	}
	switch a.Type {
	case schema.TypeString:
		switch {
		case a.Size > 16777215:
			return 12
		case a.Size > 65535:
			return 11
		case a.Size > maxVarchar:
			return 10
		case a.Size > 255:
			return a.Size*4 + 2
		default:
			return a.Size*4 + 1
		}
	case schema.TypeInteger:
		if a.Size >= 8 {
			return 8
		}
		return 4
	case schema.TypeFloat:
		return 8
	case schema.TypeBoolean:
		return 1
	case schema.TypeRelationship:
		return 4
	case schema.TypeDatetime:
		return 19
	}
	return 0
}

// CountOfAttributes is the number of columns a collection occupies,
// internal columns and one spare included.
func CountOfAttributes(collection schema.Collection) int {
	return len(collection.Attributes()) + len(schema.InternalAttributes()) + 1
}

// CountOfIndexes is the number of indexes a collection occupies.
func CountOfIndexes(collection schema.Collection) int {
	return len(collection.Indexes()) + len(schema.InternalIndexes())
}

// SQLKeywords are reserved words rejected as collection or attribute ids.
func SQLKeywords() []string {
	return []string{
		"ACCESSIBLE", "ADD", "ALL", "ALTER", "ANALYZE", "AND", "AS", "ASC", "ASENSITIVE", "BEFORE",
		"BETWEEN", "BIGINT", "BINARY", "BLOB", "BOTH", "BY", "CALL", "CASCADE", "CASE", "CHANGE", "CHAR",
		"CHARACTER", "CHECK", "COLLATE", "COLUMN", "CONDITION", "CONSTRAINT", "CONTINUE", "CONVERT",
		"CREATE", "CROSS", "CURRENT_DATE", "CURRENT_ROLE", "CURRENT_TIME", "CURRENT_TIMESTAMP",
		"CURRENT_USER", "CURSOR", "DATABASE", "DATABASES", "DAY_HOUR", "DAY_MICROSECOND", "DAY_MINUTE",
		"DAY_SECOND", "DEC", "DECIMAL", "DECLARE", "DEFAULT", "DELAYED", "DELETE", "DELETE_DOMAIN_ID",
		"DESC", "DESCRIBE", "DETERMINISTIC", "DISTINCT", "DISTINCTROW", "DIV", "DO_DOMAIN_IDS", "DOUBLE",
		"DROP", "DUAL", "EACH", "ELSE", "ELSEIF", "ENCLOSED", "ESCAPED", "EXCEPT", "EXISTS", "EXIT",
		"EXPLAIN", "FALSE", "FETCH", "FLOAT", "FLOAT4", "FLOAT8", "FOR", "FORCE", "FOREIGN", "FROM",
		"FULLTEXT", "GENERAL", "GRANT", "GROUP", "HAVING", "HIGH_PRIORITY", "HOUR_MICROSECOND",
		"HOUR_MINUTE", "HOUR_SECOND", "IF", "IGNORE", "IGNORE_DOMAIN_IDS", "IGNORE_SERVER_IDS", "IN",
		"INDEX", "INFILE", "INNER", "INOUT", "INSENSITIVE", "INSERT", "INT", "INT1", "INT2", "INT3",
		"INT4", "INT8", "INTEGER", "INTERSECT", "INTERVAL", "INTO", "IS", "ITERATE", "JOIN", "KEY",
		"KEYS", "KILL", "LEADING", "LEAVE", "LEFT", "LIKE", "LIMIT", "LINEAR", "LINES", "LOAD",
		"LOCALTIME", "LOCALTIMESTAMP", "LOCK", "LONG", "LONGBLOB", "LONGTEXT", "LOOP", "LOW_PRIORITY",
		"MASTER_HEARTBEAT_PERIOD", "MASTER_SSL_VERIFY_SERVER_CERT", "MATCH", "MAXVALUE", "MEDIUMBLOB",
		"MEDIUMINT", "MEDIUMTEXT", "MIDDLEINT", "MINUTE_MICROSECOND", "MINUTE_SECOND", "MOD", "MODIFIES",
		"NATURAL", "NOT", "NO_WRITE_TO_BINLOG", "NULL", "NUMERIC", "OFFSET", "ON", "OPTIMIZE", "OPTION",
		"OPTIONALLY", "OR", "ORDER", "OUT", "OUTER", "OUTFILE", "OVER", "PAGE_CHECKSUM",
		"PARSE_VCOL_EXPR", "PARTITION", "POSITION", "PRECISION", "PRIMARY", "PROCEDURE", "PURGE", "RANGE",
		"READ", "READS", "READ_WRITE", "REAL", "RECURSIVE", "REF_SYSTEM_ID", "REFERENCES", "REGEXP",
		"RELEASE", "RENAME", "REPEAT", "REPLACE", "REQUIRE", "RESIGNAL", "RESTRICT", "RETURN",
		"RETURNING", "REVOKE", "RIGHT", "RLIKE", "ROWS", "SCHEMA", "SCHEMAS", "SECOND_MICROSECOND",
		"SELECT", "SENSITIVE", "SEPARATOR", "SET", "SHOW", "SIGNAL", "SLOW", "SMALLINT", "SPATIAL",
		"SPECIFIC", "SQL", "SQLEXCEPTION", "SQLSTATE", "SQLWARNING", "SQL_BIG_RESULT",
		"SQL_CALC_FOUND_ROWS", "SQL_SMALL_RESULT", "SSL", "STARTING", "STATS_AUTO_RECALC",
		"STATS_PERSISTENT", "STATS_SAMPLE_PAGES", "STRAIGHT_JOIN", "TABLE", "TERMINATED", "THEN",
		"TINYBLOB", "TINYINT", "TINYTEXT", "TO", "TRAILING", "TRIGGER", "TRUE", "UNDO", "UNION", "UNIQUE",
		"UNLOCK", "UNSIGNED", "UPDATE", "USAGE", "USE", "USING", "UTC_DATE", "UTC_TIME", "UTC_TIMESTAMP",
		"VALUES", "VARBINARY", "VARCHAR", "VARCHARACTER", "VARYING", "WHEN", "WHERE", "WHILE", "WINDOW",
		"WITH", "WRITE", "XOR", "YEAR_MONTH", "ZEROFILL", "ACTION", "BIT", "DATE", "ENUM", "NO", "TEXT",
		"TIME", "TIMESTAMP", "BODY", "ELSIF", "GOTO", "HISTORY", "MINUS", "OTHERS", "PACKAGE", "PERIOD",
		"RAISE", "ROWNUM", "ROWTYPE", "SYSDATE", "SYSTEM", "SYSTEM_TIME", "VERSIONING", "WITHOUT",
	}
}
