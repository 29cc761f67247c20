package outputparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumberedList(t *testing.T) {
	text := "1. first item\n2) second item\n3- third item\n4: fourth item"
	got := NumberedList(text)
	assert.Equal(t, []string{"first item", "second item", "third item", "fourth item"}, got)
}

func TestNumberedListNoMarkers(t *testing.T) {
	got := NumberedList("  just some plain text  ")
	assert.Equal(t, []string{"just some plain text"}, got)
}

func TestNumberedListEmpty(t *testing.T) {
	assert.Nil(t, NumberedList("   "))
}

func TestNumberedObjectListKeyed(t *testing.T) {
	text := "1. name: Ada, role: Engineer\n2. name: Grace, role: Admiral"
	got := NumberedObjectList(text, "name role")
	assert.Equal(t, []map[string]string{
		{"name": "Ada", "role": "Engineer"},
		{"name": "Grace", "role": "Admiral"},
	}, got)
}

func TestNumberedObjectListPositionalFallback(t *testing.T) {
	text := "1. Ada, Engineer\n2. Grace, Admiral"
	got := NumberedObjectList(text, "name role")
	assert.Equal(t, []map[string]string{
		{"name": "Ada", "role": "Engineer"},
		{"name": "Grace", "role": "Admiral"},
	}, got)
}

func TestCommaSeparatedList(t *testing.T) {
	got := CommaSeparatedList(`apple, "banana, split", cherry`)
	assert.Equal(t, []string{"apple", `"banana, split"`, "cherry"}, got)
}

func TestCommaSeparatedListEmpty(t *testing.T) {
	assert.Nil(t, CommaSeparatedList("   "))
}

func TestJSONValidObject(t *testing.T) {
	got := JSON(`noise before {"a": 1, "b": [1,2,3]} noise after`)
	assert.JSONEq(t, `{"a": 1, "b": [1,2,3]}`, got)
}

func TestJSONValidArray(t *testing.T) {
	got := JSON(`prefix [1, 2, {"x": "y"}] suffix`)
	assert.JSONEq(t, `[1, 2, {"x": "y"}]`, got)
}

func TestJSONTrailingComma(t *testing.T) {
	got := JSON(`{"a": 1, "b": 2,}`)
	assert.JSONEq(t, `{"a": 1, "b": 2}`, got)
}

func TestJSONSingleQuotes(t *testing.T) {
	got := JSON(`{'a': 'hello world'}`)
	assert.JSONEq(t, `{"a": "hello world"}`, got)
}

func TestJSONUnquotedKeys(t *testing.T) {
	got := JSON(`{a: 1, b: 2}`)
	assert.JSONEq(t, `{"a": 1, "b": 2}`, got)
}

func TestJSONUnrepairable(t *testing.T) {
	got := JSON("this is not json at all")
	assert.Equal(t, "{}", got)
}

func TestJSONLargestBalancedSubstring(t *testing.T) {
	text := `{"a": 1} and also {"b": 2, "c": {"d": 3}}`
	got := JSON(text)
	assert.JSONEq(t, `{"b": 2, "c": {"d": 3}}`, got)
}
