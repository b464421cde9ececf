package provider

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	if _, err := c.Fetch(context.Background(), btc, Request{Capability: CapQuote}); KindOf(err) != KindNotSupported {
		t.Fatalf("未配置 RPC 时应返回 not_supported, got %v", err)
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost"}, noopLogger())
	if _, err := c.Fetch(context.Background(), btc, Request{Capability: CapQuote}); KindOf(err) != KindNotSupported {
		t.Fatalf("缺少价格源地址应报错, got %v", err)
	}
}

func TestChainlinkOnlyServesConfiguredQuotes(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{
		RPCURL: "http://localhost",
		Feeds:  map[string]string{"BTC-USD": "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"},
	}, noopLogger())

	if !c.Supports(btc, CapQuote) {
		t.Fatal("configured feed should support quotes")
	}
	if c.Supports(btc, CapDailySeries) {
		t.Fatal("price feeds carry no history")
	}
	if c.Supports(spy, CapQuote) {
		t.Fatal("SPY has no configured feed")
	}
	if _, err := c.Fetch(context.Background(), btc, Request{Capability: CapHourlySeries, Points: 24}); KindOf(err) != KindNotSupported {
		t.Fatalf("expected not_supported, got %v", err)
	}
}

func TestScaleAnswer(t *testing.T) {
	cases := []struct {
		name     string
		answer   string
		decimals uint8
		want     string
	}{
		{"usd feed 8 decimals", "6701250000000", 8, "67012.5"},
		{"eth denominated 18 decimals", "52340000000000000", 18, "0.05234"},
		{"no decimals", "42", 0, "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answer, ok := new(big.Int).SetString(tc.answer, 10)
			if !ok {
				t.Fatalf("bad answer %q", tc.answer)
			}
			got := scaleAnswer(answer, tc.decimals)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("scaleAnswer(%s, %d) = %s, want %s", tc.answer, tc.decimals, got, tc.want)
			}
		})
	}
}
