package service

import (
	"fmt"
	"sort"
	"strings"
)

// Token is a monitored symbol and its mint address.
type Token struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

// TokenRegistry resolves symbols case-insensitively to addresses.
type TokenRegistry struct {
	bySymbol map[string]Token
	symbols  []string
}

// NewTokenRegistry builds a registry from symbol -> address pairs.
func NewTokenRegistry(tokens map[string]string) *TokenRegistry {
	r := &TokenRegistry{bySymbol: make(map[string]Token, len(tokens))}
	for symbol, address := range tokens {
		sym := NormalizeSymbol(symbol)
		r.bySymbol[sym] = Token{Symbol: sym, Address: address}
		r.symbols = append(r.symbols, sym)
	}
	sort.Strings(r.symbols)
	return r
}

// NormalizeSymbol canonicalises a user supplied symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Resolve returns the token of symbol or ErrTokenNotFound.
func (r *TokenRegistry) Resolve(symbol string) (Token, error) {
	tok, ok := r.bySymbol[NormalizeSymbol(symbol)]
	if !ok {
		return Token{}, fmt.Errorf("%q: %w", symbol, ErrTokenNotFound)
	}
	return tok, nil
}

// Symbols lists the configured symbols in sorted order.
func (r *TokenRegistry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// Tokens lists the configured tokens sorted by symbol.
func (r *TokenRegistry) Tokens() []Token {
	out := make([]Token, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, r.bySymbol[s])
	}
	return out
}
