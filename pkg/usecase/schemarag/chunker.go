package schemarag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
)

var (
	// Any modifier words may stand between CREATE and TABLE, such as TEMPORARY, FOREIGN,
	// EXTERNAL, VIRTUAL or TRANSIENT. Submatch 1 holds them.
	createTableRe = regexp.MustCompile(`(?i)\bCREATE\s+((?:[A-Z_][A-Z0-9_]*\s+){0,5}?)TABLE\b`)
	ifNotExistsRe = regexp.MustCompile(`(?i)^\s*IF\s+NOT\s+EXISTS\b`)
	asSelectRe    = regexp.MustCompile(`(?i)^\s*AS\b`)
	usingRe       = regexp.MustCompile(`(?i)^USING\s+[A-Z_][A-Z0-9_]*\s*\(`)
)

// Objects whose CREATE statement mentions TABLE without declaring one, e.g.
// CREATE PUBLICATION p FOR TABLE users.
var nonTableObjects = map[string]bool{
	"PUBLICATION": true, "SUBSCRIPTION": true, "POLICY": true, "TRIGGER": true, "RULE": true,
	"STATISTICS": true, "INDEX": true, "VIEW": true, "FUNCTION": true, "PROCEDURE": true,
	"TYPE": true, "SEQUENCE": true, "SCHEMA": true, "DATABASE": true, "ROLE": true, "USER": true,
	"SERVER": true, "EXTENSION": true, "DOMAIN": true, "AGGREGATE": true, "UNIQUE": true,
}

func declaresOtherObject(modifiers string) bool {
	for _, word := range strings.Fields(strings.ToUpper(modifiers)) {
		if nonTableObjects[word] {
			return true
		}
	}
	return false
}

// Index declarations of MySQL. These words are also valid column names.
var indexLikePrefixes = map[string]bool{
	"KEY": true, "INDEX": true, "FULLTEXT": true, "SPATIAL": true,
}

// Words that start a table level constraint instead of a column.
var tableConstraintPrefixes = []string{
	"PRIMARY KEY", "FOREIGN KEY", "UNIQUE", "CHECK", "CONSTRAINT", "KEY", "INDEX", "EXCLUDE", "LIKE", "FULLTEXT", "SPATIAL",
}

// Words that end the type part of a column declaration.
var columnConstraintWords = map[string]bool{
	"NOT": true, "NULL": true, "PRIMARY": true, "REFERENCES": true, "DEFAULT": true,
	"UNIQUE": true, "CHECK": true, "CONSTRAINT": true, "GENERATED": true, "COLLATE": true,
	"AUTO_INCREMENT": true, "AUTOINCREMENT": true, "COMMENT": true, "IDENTITY": true, "OPTIONS": true,
}

type chunkConfig struct {
	descriptions map[model.TableName]string
}

type ChunkOption func(*chunkConfig)

// WithDescriptions attaches free text descriptions to tables. They are appended to the
// normalized content so that questions using business terms can match the table.
func WithDescriptions(descriptions map[model.TableName]string) ChunkOption {
	return func(cfg *chunkConfig) {
		cfg.descriptions = descriptions
	}
}

// Chunk splits schema text into one chunk per table declaration in declaration order.
// Statements other than CREATE TABLE are ignored. A table declaration that can not be
// segmented fails the whole call with model.ErrParse; no table is dropped silently.
func Chunk(schemaText string, opts ...ChunkOption) ([]*model.SchemaChunk, error) {
	cfg := &chunkConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	masked := maskComments(schemaText)
	seen := make(map[string]int)

	var chunks []*model.SchemaChunk
	cursor := 0
	for cursor < len(masked) {
		loc := createTableRe.FindStringSubmatchIndex(masked[cursor:])
		if loc == nil {
			break
		}
		start := cursor + loc[0]

		if declaresOtherObject(masked[cursor+loc[2] : cursor+loc[3]]) {
			cursor = start + len("CREATE")
			continue
		}

		stmt, err := parseCreateTable(masked, start, cursor+loc[1])
		if err != nil {
			return nil, err
		}

		key := strings.ToLower(string(stmt.name))
		if prev, ok := seen[key]; ok {
			return nil, parseError("duplicated table declaration", stmt.name, start,
				goerr.V("previous_offset", prev))
		}
		seen[key] = start

		chunk := &model.SchemaChunk{
			Ordinal:     len(chunks),
			TableName:   stmt.name,
			Columns:     stmt.columns,
			Constraints: stmt.constraints,
			Definition:  strings.TrimSpace(schemaText[start:stmt.end]),
			Offset:      start,
		}
		chunk.Content = renderContent(chunk, cfg.descriptions[stmt.name])
		chunks = append(chunks, chunk)

		cursor = stmt.end
	}

	return chunks, nil
}

func parseError(reason string, table model.TableName, offset int, values ...goerr.Option) error {
	opts := append([]goerr.Option{
		goerr.V("table", table),
		goerr.V("offset", offset),
	}, values...)
	return goerr.Wrap(model.ErrParse, reason, opts...)
}

type createTableStmt struct {
	name        model.TableName
	columns     []model.Column
	constraints []string
	end         int
}

// parseCreateTable parses one statement. start points to CREATE and pos points just after TABLE.
func parseCreateTable(masked string, start, pos int) (*createTableStmt, error) {
	statement := collapseSpaces(masked[start:pos])
	header := goerr.V("statement", statement)

	if m := ifNotExistsRe.FindStringIndex(masked[pos:]); m != nil {
		pos += m[1]
	}

	name, next := readQualifiedName(masked, pos)
	if name == "" {
		return nil, parseError("missing table name", "", start, header)
	}
	stmt := &createTableStmt{name: model.TableName(name)}
	pos = skipSpaces(masked, next)

	if asSelectRe.MatchString(masked[pos:]) {
		return nil, parseError("CREATE TABLE AS is not supported", stmt.name, start, header)
	}

	// Virtual tables of SQLite list untyped columns as module arguments.
	untyped := false
	if m := usingRe.FindStringIndex(masked[pos:]); m != nil {
		pos += m[1] - 1
		untyped = true
	}
	if pos >= len(masked) || masked[pos] != '(' {
		return nil, parseError("missing column list in "+statement, stmt.name, start, header)
	}

	closing := matchParen(masked, pos)
	if closing < 0 {
		return nil, parseError("unbalanced parentheses", stmt.name, start, header)
	}

	elements := splitTopLevel(masked[pos+1:closing], ',')
	for _, elem := range elements {
		elem = collapseSpaces(elem)
		if elem == "" {
			continue
		}
		if untyped {
			if strings.Contains(elem, "=") {
				continue
			}
			col := parseModuleArgument(elem)
			if col == nil {
				return nil, parseError("invalid column declaration", stmt.name, start, header, goerr.V("element", elem))
			}
			stmt.columns = append(stmt.columns, *col)
			continue
		}
		if isTableConstraint(elem) {
			stmt.constraints = append(stmt.constraints, elem)
			continue
		}
		col, err := parseColumn(elem)
		if err != nil {
			return nil, parseError(err.Error(), stmt.name, start, header, goerr.V("element", elem))
		}
		stmt.columns = append(stmt.columns, *col)
	}
	if len(stmt.columns) == 0 {
		return nil, parseError("no column declared", stmt.name, start, header)
	}

	stmt.end = statementEnd(masked, closing+1)
	return stmt, nil
}

// statementEnd returns the position just after the terminating semicolon, or the
// position of the closing parenthesis when the statement has no semicolon.
func statementEnd(masked string, pos int) int {
	limit := len(masked)
	if loc := createTableRe.FindStringIndex(masked[pos:]); loc != nil {
		limit = pos + loc[0]
	}

	var quote byte
	for i := pos; i < limit; i++ {
		c := masked[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == ';':
			return i + 1
		}
	}
	return pos
}

func parseColumn(elem string) (*model.Column, error) {
	name, next := readIdentifier(elem, 0)
	if name == "" {
		return nil, fmt.Errorf("invalid column declaration")
	}

	tokens := tokenize(elem[next:])
	typeEnd := 0
	for typeEnd < len(tokens) {
		word := strings.ToUpper(tokens[typeEnd])
		if columnConstraintWords[word] {
			break
		}
		typeEnd++
	}
	if typeEnd == 0 {
		return nil, fmt.Errorf("column %q has no type", name)
	}

	return &model.Column{
		Name:        name,
		Type:        strings.Join(tokens[:typeEnd], " "),
		Constraints: strings.Join(tokens[typeEnd:], " "),
	}, nil
}

// parseModuleArgument reads a column of a virtual table. Its type is optional.
func parseModuleArgument(elem string) *model.Column {
	name, next := readIdentifier(elem, 0)
	if name == "" {
		return nil
	}
	return &model.Column{
		Name: name,
		Type: strings.Join(tokenize(elem[next:]), " "),
	}
}

func isTableConstraint(elem string) bool {
	upper := strings.ToUpper(elem)
	for _, prefix := range tableConstraintPrefixes {
		if !strings.HasPrefix(upper, prefix) {
			continue
		}
		rest := upper[len(prefix):]
		if rest != "" && rest[0] != ' ' && rest[0] != '(' {
			continue
		}
		if indexLikePrefixes[prefix] {
			return isIndexDeclaration(elem[len(prefix):])
		}
		return true
	}
	return false
}

// isIndexDeclaration reports whether rest, the text after KEY or INDEX, is an index
// declaration: an optional name followed by a parenthesized list of columns. A column
// such as "key VARCHAR(10)" has a size rather than a column list in the parentheses.
func isIndexDeclaration(rest string) bool {
	pos := skipSpaces(rest, 0)
	if upper := strings.ToUpper(rest[pos:]); strings.HasPrefix(upper, "KEY ") || strings.HasPrefix(upper, "INDEX ") {
		// FULLTEXT KEY, SPATIAL INDEX
		pos = skipSpaces(rest, pos+strings.Index(upper, " "))
	}
	if pos < len(rest) && rest[pos] != '(' {
		_, next := readIdentifier(rest, pos)
		if next == pos {
			return false
		}
		pos = skipSpaces(rest, next)
	}
	if pos >= len(rest) || rest[pos] != '(' {
		return false
	}
	inner := skipSpaces(rest, pos+1)
	if inner >= len(rest) {
		return false
	}
	c := rest[inner]
	return !(c >= '0' && c <= '9') && c != '\'' && c != ')'
}

func renderContent(chunk *model.SchemaChunk, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", chunk.TableName)

	names := make([]string, len(chunk.Columns))
	for i, col := range chunk.Columns {
		names[i] = col.Name
	}
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(names, ", "))

	b.WriteString("Column details:\n")
	for _, col := range chunk.Columns {
		fmt.Fprintf(&b, "  - %s (%s)", col.Name, col.Type)
		if col.Constraints != "" {
			fmt.Fprintf(&b, " %s", col.Constraints)
		}
		b.WriteString("\n")
	}

	if len(chunk.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range chunk.Constraints {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}

	if description != "" {
		fmt.Fprintf(&b, "Description: %s\n", strings.TrimSpace(description))
	}

	return b.String()
}
