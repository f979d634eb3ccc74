package patch

import (
	"github.com/sourcegraph/go-diff/diff"
)

// Stat counts the lines a diff adds, changes and deletes. A deleted line
// directly replaced by an added one counts as changed.
type Stat struct {
	Added   int `json:"added"`
	Changed int `json:"changed"`
	Deleted int `json:"deleted"`
}

func (s Stat) add(o Stat) Stat {
	return Stat{
		Added:   s.Added + o.Added,
		Changed: s.Changed + o.Changed,
		Deleted: s.Deleted + o.Deleted,
	}
}

// Stats computes line statistics for diff text without applying it.
// Unreadable input yields a zero Stat.
func Stats(diffText string) Stat {
	var total Stat
	for _, c := range split(diffText) {
		if c.binary {
			continue
		}
		h, err := c.header("")
		if err != nil {
			continue
		}
		text, err := c.normalize(h)
		if err != nil {
			continue
		}
		total = total.add(statOf(text))
	}
	return total
}

func statOf(text string) Stat {
	fd, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return Stat{}
	}
	st := fd.Stat()
	return Stat{Added: int(st.Added), Changed: int(st.Changed), Deleted: int(st.Deleted)}
}
