package extract

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-updater/internal/browser/htmlview"
	"github.com/maltedev/price-updater/internal/config"
)

type recordingDelayer struct {
	waits []time.Duration
}

func (r *recordingDelayer) Wait(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"comma decimal", "R$ 129,90", "129.90"},
		{"dot decimal", "US $12.34", "12.34"},
		{"single separator is decimal", "1.299", "1.299"},
		{"grouped with comma decimal", "R$ 1.299,90", "1299.90"},
		{"grouped with dot decimal", "$1,299.90", "1299.90"},
		{"millions grouped", "1.234.567,89", "1234567.89"},
		{"first number wins", "De R$ 99,90 por R$ 79,90", "99.90"},
		{"surrounding noise", "Preço:\n  R$\u00a0 45,5 \n", "45.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.input)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestParsePrice_NoNumber(t *testing.T) {
	for _, input := range []string{"", "Indisponível", "R$ --", "R$ 15", "-20%", "3 peças"} {
		_, err := ParsePrice(input)
		assert.ErrorIs(t, err, ErrNoPrice, input)
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"129.90", 12990},
		{"12.349", 1234},
		{"12.345", 1234},
		{"0.019", 1},
		{"15", 1500},
		{"-1.999", -199},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinorUnits(decimal.RequireFromString(tt.input)))
		})
	}
}

func TestExtractor_FirstMatchingStrategyWins(t *testing.T) {
	view := htmlview.NewView(htmlview.MustParse("https://shop.example/item/1.html", `<html><body>
		<div class="uniform-banner-box-price">R$ 89,00</div>
		<span class="product-price-value">R$ 99,90</span>
	</body></html>`))

	delayer := &recordingDelayer{}
	e := NewExtractor(nil, 2*time.Second, delayer, nil)

	price, ok := e.Extract(context.Background(), view, 3)
	require.True(t, ok)
	assert.Equal(t, "99.9", price.String())
	assert.Equal(t, []time.Duration{2 * time.Second}, delayer.waits)
}

func TestExtractor_FallsThroughStrategies(t *testing.T) {
	view := htmlview.NewView(htmlview.MustParse("https://shop.example/item/1.html", `<html><body>
		<span class="product-price-value">Indisponível</span>
		<div class="es--Price_promotion--x1">R$ 1.049,00</div>
	</body></html>`))

	e := NewExtractor(nil, 0, &recordingDelayer{}, nil)

	price, ok := e.Extract(context.Background(), view, 1)
	require.True(t, ok)
	assert.Equal(t, int64(104900), ToMinorUnits(price))
}

func TestExtractor_SkipsBadgesWithoutDecimals(t *testing.T) {
	view := htmlview.NewView(htmlview.MustParse("https://shop.example/item/1.html", `<html><body>
		<div class="Price_promotion_x">-20%</div>
		<span class="product-price-value">R$ 79,90</span>
	</body></html>`))

	strategies := StrategiesFromSelectors([]string{"[class*='Price_promotion']", "span.product-price-value"})
	e := NewExtractor(strategies, 0, &recordingDelayer{}, nil)

	price, ok := e.Extract(context.Background(), view, 1)
	require.True(t, ok)
	assert.Equal(t, int64(7990), ToMinorUnits(price))
}

func TestExtractor_EmptyAfterMaxAttempts(t *testing.T) {
	view := htmlview.NewView(htmlview.MustParse("https://shop.example/item/1.html", `<html><body><p>nothing here</p></body></html>`))

	delayer := &recordingDelayer{}
	e := NewExtractor(nil, 2*time.Second, delayer, nil)

	_, ok := e.Extract(context.Background(), view, 3)
	assert.False(t, ok)
	assert.Len(t, delayer.waits, 3)
}

func TestExtractor_IgnoresFrames(t *testing.T) {
	view := htmlview.NewView(
		htmlview.MustParse("https://shop.example/item/1.html", `<html><body></body></html>`),
		htmlview.MustParse("https://ads.example/frame", `<span class="product-price-value">R$ 1,00</span>`),
	)

	e := NewExtractor(nil, 0, &recordingDelayer{}, nil)

	_, ok := e.Extract(context.Background(), view, 2)
	assert.False(t, ok)
}

func TestExtractor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	view := htmlview.NewView(htmlview.MustParse("https://shop.example/", `<span class="product-price-value">R$ 1,00</span>`))
	delayer := &recordingDelayer{}

	_, ok := NewExtractor(nil, time.Second, delayer, nil).Extract(ctx, view, 3)
	assert.False(t, ok)
	assert.Len(t, delayer.waits, 1)
}

func TestNewExtractorFromConfig(t *testing.T) {
	e := NewExtractorFromConfig(config.ExtractConfig{
		Selectors:      []string{"#price"},
		SettleInterval: time.Second,
	}, &recordingDelayer{}, nil)

	require.Len(t, e.strategies, 1)
	assert.Equal(t, "#price", e.strategies[0].Selector)
	assert.Equal(t, time.Second, e.settleInterval)
}
