// Package subgraph содержит каталог именованных операций к сабграфам
// Uniswap-совместимой схемы: документы запросов, типы переменных и результатов,
// а также клиент, направляющий запросы в нужное развертывание.
package subgraph

import (
	"embed"
	"fmt"
	"path"
	"slices"
	"strings"
)

// Имена операций каталога.
const (
	OpEthPrices           = "ethPrices"
	OpHourlyTokenPrices   = "hourlyTokenPrices"
	OpDailyTokenPrices    = "dailyTokenPrices"
	OpTokens              = "tokens"
	OpAllV3Ticks          = "allV3Ticks"
	OpFeeTierDistribution = "feeTierDistribution"
)

// OperationsFS содержит встроенные при компиляции документы операций.
//
//go:embed operations/*.graphql
var OperationsFS embed.FS

var documents = mustLoadDocuments()

// Document возвращает текст документа операции name.
func Document(name string) (string, error) {
	doc, ok := documents[name]
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrUnknownOperation, name)
	}
	return doc, nil
}

// Operations возвращает отсортированный список имен операций каталога.
func Operations() []string {
	names := make([]string, 0, len(documents))
	for name := range documents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func mustLoadDocuments() map[string]string {
	entries, err := OperationsFS.ReadDir("operations")
	if err != nil {
		panic(fmt.Sprintf("не удалось прочитать встроенные операции: %v", err))
	}

	docs := make(map[string]string, len(entries))
	for _, entry := range entries {
		raw, err := OperationsFS.ReadFile(path.Join("operations", entry.Name()))
		if err != nil {
			panic(fmt.Sprintf("не удалось прочитать операцию %s: %v", entry.Name(), err))
		}
		name := strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
		docs[name] = string(raw)
	}
	return docs
}
