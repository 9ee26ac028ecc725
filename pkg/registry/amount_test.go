package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr string
	}{
		{in: "10", want: 10_000_000},
		{in: "10.5", want: 10_500_000},
		{in: "0.000001", want: 1},
		{in: " 1.25 ", want: 1_250_000},
		{in: "", wantErr: "empty"},
		{in: "0", wantErr: "greater than 0"},
		{in: "0.000000", wantErr: "greater than 0"},
		{in: "1.0000001", wantErr: "decimal places"},
		{in: "1.", wantErr: "invalid amount format"},
		{in: ".5", wantErr: "invalid amount format"},
		{in: "-1", wantErr: "invalid amount format"},
		{in: "1e6", wantErr: "invalid amount format"},
		{in: "18446744073710", wantErr: "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.000000 tXTR", FormatAmount(0))
	assert.Equal(t, "125.500000 tXTR", FormatAmount(125_500_000))
	assert.Equal(t, "0.000001 tXTR", FormatAmount(1))
}
