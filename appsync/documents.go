package appsync

import (
	"fmt"
	"strings"

	"github.com/gobeyondidentity/go-model-sync/model"
)

// Fields the backend adds to every synced record.
var metadataFields = []string{"_version", "_deleted", "_lastChangedAt"}

// MutationType names the three record mutations
type MutationType string

const (
	MutationCreate MutationType = "create"
	MutationUpdate MutationType = "update"
	MutationDelete MutationType = "delete"
)

func (m MutationType) title() string {
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

// selectionSet renders the record selection including sync metadata
func selectionSet(schema *model.ModelSchema) string {
	var b strings.Builder
	b.WriteString("{\n")
	writeFields(&b, schema.Fields, 2)
	for _, f := range metadataFields {
		b.WriteString("  " + f + "\n")
	}
	b.WriteString("}")
	return b.String()
}

func writeFields(b *strings.Builder, fields []model.ModelField, indent int) {
	pad := strings.Repeat(" ", indent)
	for _, f := range fields {
		if !f.IsObject() {
			b.WriteString(pad + f.Name + "\n")
			continue
		}
		b.WriteString(pad + f.Name + " {\n")
		writeFields(b, f.Fields, indent+2)
		b.WriteString(pad + "}\n")
	}
}

func indentBlock(s string, indent int) string {
	pad := strings.Repeat(" ", indent)
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

// syncDocument returns the operation name, result field and document of the
// sync query for schema.
func syncDocument(schema *model.ModelSchema) (string, string, string) {
	operation := "Sync" + schema.PluralName
	field := "sync" + schema.PluralName

	doc := fmt.Sprintf(`query %s($limit: Int, $nextToken: String, $lastSync: AWSTimestamp, $filter: Model%sFilterInput) {
  %s(limit: $limit, nextToken: $nextToken, lastSync: $lastSync, filter: $filter) {
    items %s
    nextToken
    startedAt
  }
}`, operation, schema.Name, field, indentBlock(selectionSet(schema), 4))

	return operation, field, doc
}

// mutationDocument returns the operation name, result field and document of
// a create, update or delete mutation for schema.
func mutationDocument(schema *model.ModelSchema, mutation MutationType) (string, string, string) {
	operation := mutation.title() + schema.Name
	field := string(mutation) + schema.Name

	doc := fmt.Sprintf(`mutation %s($input: %sInput!, $condition: Model%sConditionInput) {
  %s(input: $input, condition: $condition) %s
}`, operation, operation, schema.Name, field, indentBlock(selectionSet(schema), 2))

	return operation, field, doc
}
