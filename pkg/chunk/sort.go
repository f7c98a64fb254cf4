package chunk

import "fmt"

// SortColumn names one key column of a sort order.
type SortColumn struct {
	Name string
	// Direction is 1 for ascending and -1 for descending order.
	Direction int
	// NullsDirection is the comparison result of a NULL against a non-NULL
	// value: 1 places NULLs after values in ascending order, -1 before.
	NullsDirection int
}

// Asc returns an ascending sort column with NULLs last.
func Asc(name string) SortColumn {
	return SortColumn{Name: name, Direction: 1, NullsDirection: 1}
}

// Desc returns a descending sort column with NULLs first in output order.
func Desc(name string) SortColumn {
	return SortColumn{Name: name, Direction: -1, NullsDirection: 1}
}

// SortDescription lists the key columns by which a stream is sorted.
type SortDescription []SortColumn

// Positions resolves each key column against h.
func (d SortDescription) Positions(h *Header) ([]int, error) {
	pos := make([]int, len(d))
	for i, sc := range d {
		p, err := h.Position(sc.Name)
		if err != nil {
			return nil, fmt.Errorf("sort description: %w", err)
		}
		pos[i] = p
	}
	return pos, nil
}

// CompareRows orders row a of cols against row b of other under d. cols and
// other are the key columns already resolved in description order.
func (d SortDescription) CompareRows(cols []Column, a int, other []Column, b int) int {
	for i, sc := range d {
		res := cols[i].CompareAt(a, other[i], b, sc.NullsDirection)
		if res != 0 {
			return res * sc.Direction
		}
	}
	return 0
}
