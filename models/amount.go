package models

import "github.com/shopspring/decimal"

// OctasDecimals é o expoente da escala fixa: 1 unidade de exibição = 10^8 octas.
const OctasDecimals = 8

// FormatOctas converte octas para a representação decimal de exibição ("12.50000000").
// Serve apenas para exibição; o ledger nunca armazena nem calcula valores fracionários.
func FormatOctas(amount int64) string {
	return decimal.New(amount, -OctasDecimals).StringFixed(OctasDecimals)
}
