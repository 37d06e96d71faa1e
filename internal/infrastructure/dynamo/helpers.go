package dynamo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

type updateExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildUpdateExpr converts a map of field->value into a DynamoDB SET expression.
// Keys are sorted so the output is deterministic.
func buildUpdateExpr(updates map[string]interface{}) (*updateExpr, error) {
	return buildUpsertExpr(updates, nil)
}

// buildUpsertExpr is buildUpdateExpr plus insertOnly fields, which are written
// with if_not_exists so they keep their value once the item exists.
func buildUpsertExpr(updates, insertOnly map[string]interface{}) (*updateExpr, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	ue := &updateExpr{
		Names:  make(map[string]string, len(updates)+len(insertOnly)),
		Values: make(map[string]types.AttributeValue, len(updates)+len(insertOnly)),
	}
	var parts []string
	for i, k := range sortedKeys(updates) {
		nameKey, valueKey := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
		if err := ue.add(nameKey, valueKey, k, updates[k]); err != nil {
			return nil, err
		}
		parts = append(parts, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	for i, k := range sortedKeys(insertOnly) {
		nameKey, valueKey := fmt.Sprintf("#i%d", i), fmt.Sprintf(":i%d", i)
		if err := ue.add(nameKey, valueKey, k, insertOnly[k]); err != nil {
			return nil, err
		}
		parts = append(parts, fmt.Sprintf("%s = if_not_exists(%s, %s)", nameKey, nameKey, valueKey))
	}
	ue.Expr = "SET " + strings.Join(parts, ", ")
	return ue, nil
}

func (ue *updateExpr) add(nameKey, valueKey, field string, v interface{}) error {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal field %s: %w", field, err)
	}
	ue.Names[nameKey] = field
	ue.Values[valueKey] = av
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
