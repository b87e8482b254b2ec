package checkpoint

import (
	"fmt"
	"strconv"
	"strings"
)

// Position is a path of child indices from the root of the content tree.
// Position[0] is the top-level entry, each following element is the child
// index chosen at the next nested container.
type Position []int

// String renders the position as "[0 3 1]"
func (p Position) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Child returns a new position one level deeper. The receiver is never
// modified, so positions can be handed out safely.
func (p Position) Child(index int) Position {
	out := make(Position, len(p)+1)
	copy(out, p)
	out[len(p)] = index
	return out
}

// Parent drops the last index; the parent of a top-level position is empty
func (p Position) Parent() Position {
	if len(p) == 0 {
		return nil
	}
	out := make(Position, len(p)-1)
	copy(out, p)
	return out
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) p
func (p Position) HasPrefix(prefix Position) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both positions name the same entry
func (p Position) Equal(other Position) bool {
	return len(p) == len(other) && p.HasPrefix(other)
}

// Compare orders positions lexicographically in depth-first visiting order.
// An ancestor sorts before its descendants.
func (p Position) Compare(other Position) int {
	for i := 0; i < len(p) && i < len(other); i++ {
		switch {
		case p[i] < other[i]:
			return -1
		case p[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(p) < len(other):
		return -1
	case len(p) > len(other):
		return 1
	}
	return 0
}

// Encode renders the two-line persisted form: the top-level index on the
// first line, the remaining indices comma separated on the second
func (p Position) Encode() []byte {
	if len(p) == 0 {
		return nil
	}
	rest := make([]string, 0, len(p)-1)
	for _, v := range p[1:] {
		rest = append(rest, strconv.Itoa(v))
	}
	return []byte(strconv.Itoa(p[0]) + "\n" + strings.Join(rest, ", "))
}

// Parse decodes the two-line persisted form. The second line may be empty
// or missing for a top-level position.
func Parse(data string) (Position, error) {
	data = strings.TrimSpace(strings.ReplaceAll(data, "\r\n", "\n"))
	if data == "" {
		return nil, fmt.Errorf("empty checkpoint")
	}

	lines := strings.SplitN(data, "\n", 2)
	if len(lines) == 2 && strings.Contains(lines[1], "\n") {
		return nil, fmt.Errorf("checkpoint has more than two lines")
	}

	top, err := parseIndex(lines[0])
	if err != nil {
		return nil, fmt.Errorf("invalid top-level index: %w", err)
	}
	pos := Position{top}

	if len(lines) == 2 && strings.TrimSpace(lines[1]) != "" {
		for _, field := range strings.Split(lines[1], ",") {
			v, err := parseIndex(field)
			if err != nil {
				return nil, fmt.Errorf("invalid child index %q: %w", field, err)
			}
			pos = append(pos, v)
		}
	}
	return pos, nil
}

func parseIndex(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative index %d", v)
	}
	return v, nil
}
