// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"strings"
	"unicode"

	"github.com/drawbridge-labs/drawbridge/lib/envelope"
)

// Classification is advisory: the gateway still enforces the declared
// scope, and classification only detects scope/intent mismatches so
// they can be denied with an explanation instead of silently executed
// under the wrong privilege. The vocabulary is deliberately small and
// fixed — the command stream is Portuguese and English trading and
// automation phrases, not open-ended prose.

// classifierVocabulary maps keywords to categories, checked in
// categoryPriority order so that "comprar BTC e salvar o log" reads as
// a trade, not a file write.
var classifierVocabulary = map[envelope.Category][]string{
	envelope.CategoryTradeExecution: {
		"comprar", "vender", "buy", "sell", "trade", "ordem", "order",
		"long", "short", "posicao", "position",
	},
	envelope.CategoryFileModification: {
		"arquivo", "file", "salvar", "save", "escrever", "write",
		"apagar", "deletar", "delete", "renomear", "rename",
	},
	envelope.CategoryBrowserAutomation: {
		"navegar", "navigate", "browser", "navegador", "clicar", "click",
		"pagina", "page", "abrir site", "open site", "screenshot",
	},
	envelope.CategorySystemAccess: {
		"executar", "execute", "shell", "terminal", "reiniciar",
		"restart", "processo", "process",
	},
	envelope.CategoryAPICall: {
		"api", "consultar", "query", "fetch", "request", "cotacao",
		"price", "preco", "saldo", "balance",
	},
}

// categoryPriority is the tie-break order when a command matches
// several categories. More privileged intent wins so mismatches
// against a weaker declared scope are caught.
var categoryPriority = []envelope.Category{
	envelope.CategoryTradeExecution,
	envelope.CategoryFileModification,
	envelope.CategorySystemAccess,
	envelope.CategoryBrowserAutomation,
	envelope.CategoryAPICall,
}

// ClassifyCommand derives the intended category from free-form command
// text by keyword matching. Returns CategoryUnknown when nothing in
// the vocabulary matches; unknown intent never triggers a mismatch
// denial.
func ClassifyCommand(commandText string) envelope.Category {
	normalized := normalize(commandText)
	if normalized == "" {
		return envelope.CategoryUnknown
	}
	padded := " " + normalized + " "

	for _, category := range categoryPriority {
		for _, keyword := range classifierVocabulary[category] {
			if strings.Contains(padded, " "+keyword+" ") {
				return category
			}
		}
	}
	return envelope.CategoryUnknown
}

// normalize lowercases, strips the accents the Portuguese vocabulary
// would otherwise miss ("posição" → "posicao"), and collapses
// punctuation to spaces so keyword boundaries are plain spaces.
func normalize(text string) string {
	var builder strings.Builder
	builder.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			builder.WriteRune(r)
		case unicode.IsSpace(r):
			builder.WriteRune(' ')
		default:
			if plain, ok := accentFold[r]; ok {
				builder.WriteRune(plain)
			} else {
				builder.WriteRune(' ')
			}
		}
	}
	return strings.Join(strings.Fields(builder.String()), " ")
}

// accentFold covers the accented letters that appear in the Portuguese
// command vocabulary.
var accentFold = map[rune]rune{
	'á': 'a', 'â': 'a', 'ã': 'a', 'à': 'a',
	'é': 'e', 'ê': 'e',
	'í': 'i',
	'ó': 'o', 'ô': 'o', 'õ': 'o',
	'ú': 'u',
	'ç': 'c',
}
