package fetcher

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string, opts CSVOptions) [][]string {
	t.Helper()
	r := NewCSVReader(strings.NewReader(input), opts)
	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestNewCSVReader_StripsBOM(t *testing.T) {
	rows := readAll(t, "\ufeffidempresa,empresa\n1,ACME\n", CSVOptions{})
	require.Len(t, rows, 2)
	assert.Equal(t, "idempresa", rows[0][0])
}

func TestNewCSVReader_QuotedFields(t *testing.T) {
	input := "direccion,localidad\n\"Av. Rivadavia 1234, PB\",\"Dijo \"\"hola\"\"\"\n\"linea\nnueva\",x\n"
	rows := readAll(t, input, CSVOptions{})
	require.Len(t, rows, 3)
	assert.Equal(t, "Av. Rivadavia 1234, PB", rows[1][0])
	assert.Equal(t, `Dijo "hola"`, rows[1][1])
	assert.Equal(t, "linea\nnueva", rows[2][0])
}

func TestNewCSVReader_Delimiter(t *testing.T) {
	rows := readAll(t, "a;b\n1,5;2\n", CSVOptions{Delimiter: ';'})
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1,5", "2"}, rows[1])
}

func TestNewCSVReader_VariableFieldCount(t *testing.T) {
	rows := readAll(t, "a,b,c\n1,2\n", CSVOptions{})
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], 2)
}
