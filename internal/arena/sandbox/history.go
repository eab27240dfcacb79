package sandbox

import (
	"strconv"
	"strings"

	"pdarena/internal/arena/model"
)

// EncodeHistory renders the program's stdin. The first line is the number of
// completed rounds n, followed by n lines "<own> <opponent>" with moves C or D
// in round order. Round 1 receives "0\n".
func EncodeHistory(turns []model.Turn) string {
	var b strings.Builder
	b.Grow(8 + 4*len(turns))
	b.WriteString(strconv.Itoa(len(turns)))
	b.WriteByte('\n')
	for _, t := range turns {
		b.WriteByte(t.Own.Move())
		b.WriteByte(' ')
		b.WriteByte(t.Opponent.Move())
		b.WriteByte('\n')
	}
	return b.String()
}
