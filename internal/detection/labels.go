package detection

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// UnknownClass is reported for class ids missing from the label table.
const UnknownClass = "Unknown"

var defaultLabels = map[int]string{
	0: "AK-47",
	1: "M16",
	2: "F-22",
	3: "Su-57",
	4: "J-20",
	5: "T-72",
}

// LabelTable maps class ids to display names. It is never modified after
// construction.
type LabelTable struct {
	names map[int]string
}

// DefaultLabels returns the built-in six-class table.
func DefaultLabels() LabelTable {
	return NewLabelTable(defaultLabels)
}

// NewLabelTable copies names into a new table.
func NewLabelTable(names map[int]string) LabelTable {
	copied := make(map[int]string, len(names))
	for id, name := range names {
		copied[id] = name
	}
	return LabelTable{names: copied}
}

// labelsFile is the on-disk layout:
//
//	classes:
//	  0: AK-47
//	  1: M16
type labelsFile struct {
	Classes map[int]string `yaml:"classes"`
}

// LoadLabels reads a YAML label table. An empty path yields the defaults.
func LoadLabels(path string) (LabelTable, error) {
	if path == "" {
		return DefaultLabels(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return LabelTable{}, fmt.Errorf("read labels file: %w", err)
	}

	var file labelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return LabelTable{}, fmt.Errorf("parse labels file %s: %w", path, err)
	}
	if len(file.Classes) == 0 {
		return LabelTable{}, fmt.Errorf("labels file %s defines no classes", path)
	}
	for id, name := range file.Classes {
		if id < 0 {
			return LabelTable{}, fmt.Errorf("labels file %s: negative class id %d", path, id)
		}
		if name == "" {
			return LabelTable{}, fmt.Errorf("labels file %s: class %d has no name", path, id)
		}
	}
	return NewLabelTable(file.Classes), nil
}

// Name returns the label for id, or UnknownClass.
func (t LabelTable) Name(id int) string {
	if name, ok := t.names[id]; ok {
		return name
	}
	return UnknownClass
}

// Len is the number of known classes.
func (t LabelTable) Len() int { return len(t.names) }

// IDs returns the known class ids in ascending order.
func (t LabelTable) IDs() []int {
	ids := make([]int, 0, len(t.names))
	for id := range t.names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
