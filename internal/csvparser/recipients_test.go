package csvparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecipients(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		maxRows   int
		want      []string
		truncated bool
		wantErr   error
	}{
		{
			name: "email column in any position and case",
			csv:  "name,EMAIL,company\nAda,ada@example.com,AE\nBob, bob@example.com ,BX\n",
			want: []string{"ada@example.com", "bob@example.com"},
		},
		{
			name: "falls back to first column",
			csv:  "address,name\nada@example.com,Ada\nbob@example.com,Bob\n",
			want: []string{"ada@example.com", "bob@example.com"},
		},
		{
			name: "skips blank and short rows",
			csv:  "name,email\nAda,ada@example.com\nNobody,\nShort\nBob,bob@example.com\n",
			want: []string{"ada@example.com", "bob@example.com"},
		},
		{
			name: "byte order mark before header",
			csv:  "\ufeffEmail\nada@example.com\n",
			want: []string{"ada@example.com"},
		},
		{
			name:      "rows past the limit are reported",
			csv:       "email\na@x.io\nb@x.io\nc@x.io\n",
			maxRows:   2,
			want:      []string{"a@x.io", "b@x.io"},
			truncated: true,
		},
		{
			name:    "exactly at the limit",
			csv:     "email\na@x.io\nb@x.io\n\n",
			maxRows: 2,
			want:    []string{"a@x.io", "b@x.io"},
		},
		{
			name:      "blank rows count toward the limit",
			csv:       "email\na@x.io\n,\nc@x.io\n",
			maxRows:   2,
			want:      []string{"a@x.io"},
			truncated: true,
		},
		{
			name:    "header only",
			csv:     "email\n",
			wantErr: ErrNoRecipients,
		},
		{
			name:    "empty input",
			csv:     "",
			wantErr: ErrNoRecipients,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecipients(strings.NewReader(tt.csv), tt.maxRows)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Emails)
			assert.Equal(t, tt.truncated, got.Truncated)
		})
	}
}
