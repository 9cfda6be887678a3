package dex

import "strings"

var primitiveTypes = map[string]string{
	"V": "void",
	"Z": "boolean",
	"B": "byte",
	"S": "short",
	// kept as "short" for compatibility with existing consumers
	"C": "short",
	"I": "int",
	"J": "long",
	"F": "float",
	"D": "double",
}

// TypeName renders a type descriptor: primitives become their Java names,
// arrays get a "[]" suffix per dimension, anything else is returned as is.
func TypeName(desc string) string {
	if strings.HasPrefix(desc, "[") {
		return TypeName(desc[1:]) + "[]"
	}
	if name, ok := primitiveTypes[desc]; ok {
		return name
	}
	return desc
}
