package host

import "strings"

// SymbolKind is the closed set of symbol categories tools report. Adapters
// translate their native representation with ParseSymbolKind instead of
// inventing new values.
type SymbolKind string

const (
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindEnum      SymbolKind = "enum"
	KindMethod    SymbolKind = "method"
	KindFunction  SymbolKind = "function"
	KindField     SymbolKind = "field"
	KindVariable  SymbolKind = "variable"
	KindConstant  SymbolKind = "constant"
	KindProperty  SymbolKind = "property"
	KindParameter SymbolKind = "parameter"
	KindModule    SymbolKind = "module"
	KindFile      SymbolKind = "file"
	KindUnknown   SymbolKind = "unknown"
)

var symbolKinds = []SymbolKind{
	KindClass, KindInterface, KindEnum, KindMethod, KindFunction, KindField,
	KindVariable, KindConstant, KindProperty, KindParameter, KindModule,
	KindFile, KindUnknown,
}

// native names seen in common language servers and parsers
var kindAliases = map[string]SymbolKind{
	"struct":      KindClass,
	"object":      KindClass,
	"record":      KindClass,
	"trait":       KindInterface,
	"protocol":    KindInterface,
	"enummember":  KindConstant,
	"constructor": KindMethod,
	"func":        KindFunction,
	"var":         KindVariable,
	"let":         KindVariable,
	"local":       KindVariable,
	"const":       KindConstant,
	"attribute":   KindProperty,
	"param":       KindParameter,
	"argument":    KindParameter,
	"package":     KindModule,
	"namespace":   KindModule,
}

// SymbolKinds returns every kind in declaration order.
func SymbolKinds() []SymbolKind {
	out := make([]SymbolKind, len(symbolKinds))
	copy(out, symbolKinds)
	return out
}

// ParseSymbolKind maps a kind name or a known native alias to a SymbolKind.
// Anything unrecognized is KindUnknown.
func ParseSymbolKind(s string) SymbolKind {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range symbolKinds {
		if string(k) == s {
			return k
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k
	}
	return KindUnknown
}
